// Package cli provides common CLI initialization utilities shared by
// cmd/financas and cmd/financas-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"financas/internal/backend"
	"financas/internal/config"
	applog "financas/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds a text logger at the LOG_LEVEL in cfg and installs it
// as the slog default.
func SetupLogger(cfg *config.Config, component string) *applog.Logger {
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := applog.New(applog.Config{
		Level:     level,
		Component: component,
		Output:    os.Stdout,
	})
	applog.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		// The configured logger depends on a valid config.
		applog.New(applog.DefaultConfig()).Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitBackend creates the configured data backend or exits the process.
func InitBackend(ctx context.Context, logger *applog.Logger, cfg *config.Config) *backend.BackendResult {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	return res
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

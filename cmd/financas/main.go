package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"financas/internal/amqp"
	"financas/internal/cache"
	"financas/internal/cli"
	apphttp "financas/internal/http"
	applog "financas/internal/log"
	"financas/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	res := cli.InitBackend(ctx, logger, cfg)
	if res.Cleanup != nil {
		defer func() {
			if err := res.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", "error", err)
			}
		}()
	}

	// Events are optional; the worker's pending pass covers missed ones.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			defer client.Close()
			publisher = client
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	ledger := services.NewLedgerService(res.Backend, publisher, services.Options{
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	})

	caches := cache.NewManager()
	for _, c := range ledger.Caches() {
		caches.Register(c)
	}
	caches.StartCleanup(cfg.CacheTTL)
	defer caches.Stop()

	srv := apphttp.NewServer(":"+cfg.Port, ledger, res.Backend, apphttp.Options{
		Logger: logger.WithComponent(applog.ComponentHTTP),
	})
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting financas server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", "error", err, "port", cfg.Port)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	logger.Info("Server stopped gracefully")
}

package backend

import (
	"context"
	"fmt"
	"log/slog"

	"financas/internal/postgres"
	"financas/internal/storage"
	"financas/internal/storage/memory"
)

// Ensure interface conformance
var (
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*storage.SQLiteRepository)(nil)
	_ Backend = (*postgres.Store)(nil)
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case PostgresBackend:
		return f.createPostgresBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Backend: repo,
		Tracker: repo,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createPostgresBackend(ctx context.Context, config Config) (*BackendResult, error) {
	store, err := postgres.Open(ctx, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres store: %w", err)
	}

	f.logger.Info("Initialized Postgres backend")

	return &BackendResult{
		Backend: store,
		Tracker: store,
		Cleanup: store.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	if config.SeedDir == "" {
		f.logger.Info("Initialized memory backend without seed data")
		return &BackendResult{Backend: memory.New()}, nil
	}

	store, err := memory.NewFromFiles(config.SeedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to seed memory backend: %w", err)
	}

	f.logger.Info("Initialized memory backend", "seed_dir", config.SeedDir)

	return &BackendResult{
		Backend: store,
	}, nil
}

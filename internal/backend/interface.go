package backend

import (
	"context"

	"financas/internal/ports"
	"financas/internal/services"
)

// Backend is the storage surface every data backend provides.
type Backend interface {
	services.Store
	ports.DirectoryWriter
	Ping(ctx context.Context) error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function.
// Tracker is nil for backends without pending-sync bookkeeping.
type BackendResult struct {
	Backend Backend
	Tracker ports.SyncTracker
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Postgres specific
	DatabaseURL string

	// Memory backend seed files, optional
	SeedDir string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	default:
		return false
	}
}

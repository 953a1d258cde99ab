package ports

import (
	"context"
	"errors"
	"time"

	"financas/internal/core"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// Ports for outbound storage adapters.
type (
	TransactionWriter interface {
		Create(ctx context.Context, tx core.Transaction) error
		// CreateSplit stores the transaction and its share rows atomically.
		CreateSplit(ctx context.Context, tx core.Transaction) error
		Delete(ctx context.Context, id string) error
	}

	// TransactionReader loads transactions with their shares and category details.
	TransactionReader interface {
		Get(ctx context.Context, id string) (core.Transaction, error)
		// ListBetween returns every transaction whose calendar, invoice or
		// competence date lies in [start, end] (inclusive YYYY-MM-DD).
		ListBetween(ctx context.Context, start, end string) ([]core.Transaction, error)
	}

	DirectoryReader interface {
		Card(ctx context.Context, id string) (core.Card, error)
		Profile(ctx context.Context, id string) (core.Profile, error)
		ListProfiles(ctx context.Context) ([]core.Profile, error)
		ListCategories(ctx context.Context) ([]core.Category, error)
	}

	// DirectoryWriter seeds reference data.
	DirectoryWriter interface {
		SaveCard(ctx context.Context, c core.Card) error
		SaveProfile(ctx context.Context, p core.Profile) error
		SaveCategory(ctx context.Context, c core.Category) error
	}

	// SyncTracker records which transactions still need mirroring to the spreadsheet.
	SyncTracker interface {
		PendingSync(ctx context.Context, limit int) ([]PendingSync, error)
		MarkSynced(ctx context.Context, transactionID string) error
		MarkSyncError(ctx context.Context, transactionID string) error
	}
)

// PendingSync is the minimal data the sync worker needs to retry a row.
type PendingSync struct {
	TransactionID string
	Attempts      int
	CreatedAt     time.Time
}

// MaxSyncAttempts bounds how often a failing row is retried.
const MaxSyncAttempts = 5

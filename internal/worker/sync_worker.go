package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"financas/internal/amqp"
	"financas/internal/core"
	"financas/internal/ports"
	"financas/internal/sheets"
)

// Store is what the worker reads from the ledger backend.
type Store interface {
	ports.TransactionReader
	ports.SyncTracker
	Profile(ctx context.Context, id string) (core.Profile, error)
}

// SyncWorker mirrors stored transactions to the spreadsheet.
type SyncWorker struct {
	store     Store
	sheets    sheets.TransactionAppender
	finder    sheets.RowFinder
	batchSize int
}

// NewSyncWorker builds a worker. finder may be nil; when set, rows already
// present in the sheet are marked synced instead of appended twice.
func NewSyncWorker(store Store, appender sheets.TransactionAppender, finder sheets.RowFinder, batchSize int) *SyncWorker {
	if batchSize < 1 {
		batchSize = 10
	}
	return &SyncWorker{
		store:     store,
		sheets:    appender,
		finder:    finder,
		batchSize: batchSize,
	}
}

// HandleEvent processes a single ledger event from AMQP.
func (w *SyncWorker) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	switch ev.Kind {
	case amqp.TransactionCreated:
		return w.syncTransaction(ctx, ev.TransactionID)
	case amqp.TransactionDeleted:
		// Spreadsheet rows are an append-only audit trail.
		slog.InfoContext(ctx, "Transaction deleted, keeping mirrored row",
			"transaction_id", ev.TransactionID,
			"timestamp", ev.Timestamp)
		return nil
	default:
		return fmt.Errorf("unsupported event kind %q", ev.Kind)
	}
}

// ProcessPending retries rows that were never mirrored. It backs up the
// AMQP path when messages are lost or the worker was down.
func (w *SyncWorker) ProcessPending(ctx context.Context) error {
	return w.processPending(ctx, w.batchSize)
}

// StartupSyncCheck runs a larger pending pass when the worker boots.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	return w.processPending(ctx, w.batchSize*5)
}

func (w *SyncWorker) processPending(ctx context.Context, limit int) error {
	pending, err := w.store.PendingSync(ctx, limit)
	if err != nil {
		return fmt.Errorf("get pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending transactions", "count", len(pending))

	synced, failed := 0, 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.syncTransaction(ctx, p.TransactionID); err != nil {
			slog.ErrorContext(ctx, "Failed to sync transaction",
				"transaction_id", p.TransactionID,
				"attempts", p.Attempts,
				"error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Pending pass completed",
		"total", len(pending),
		"synced", synced,
		"errors", failed)
	return nil
}

// Run calls ProcessPending every interval until ctx is done.
func (w *SyncWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.ErrorContext(ctx, "Pending pass failed", "error", err)
			}
		}
	}
}

func (w *SyncWorker) syncTransaction(ctx context.Context, id string) error {
	tx, err := w.store.Get(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		// Deleted before the worker got to it.
		slog.WarnContext(ctx, "Transaction no longer exists, skipping sync", "transaction_id", id)
		return nil
	}
	if err != nil {
		if markErr := w.store.MarkSyncError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "transaction_id", id, "error", markErr)
		}
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	if w.finder != nil {
		found, err := w.finder.HasTransaction(ctx, tx)
		if err != nil {
			slog.WarnContext(ctx, "Could not check sheet for existing row", "transaction_id", id, "error", err)
		} else if found {
			slog.InfoContext(ctx, "Transaction already mirrored", "transaction_id", id)
			return w.markSynced(ctx, id)
		}
	}

	payer := tx.PayerID
	if p, err := w.store.Profile(ctx, tx.PayerID); err == nil && p.Name != "" {
		payer = p.Name
	}

	ref, err := w.sheets.AppendTransaction(ctx, tx, payer)
	if err != nil {
		if markErr := w.store.MarkSyncError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "transaction_id", id, "error", markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	slog.InfoContext(ctx, "Successfully synced transaction",
		"transaction_id", id,
		"sheets_ref", ref,
		"amount", tx.Amount)
	return w.markSynced(ctx, id)
}

func (w *SyncWorker) markSynced(ctx context.Context, id string) error {
	if err := w.store.MarkSynced(ctx, id); err != nil {
		// The row is in the sheet; a later pending pass finds it via the finder.
		slog.ErrorContext(ctx, "Failed to mark as synced", "transaction_id", id, "error", err)
	}
	return nil
}

package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"financas/internal/amqp"
	"financas/internal/core"
	"financas/internal/ports"
	"financas/internal/storage"
)

type fakeSheet struct {
	rows   map[string]string // transaction id -> payer name
	fail   bool
	exists map[string]bool
}

func newFakeSheet() *fakeSheet {
	return &fakeSheet{rows: map[string]string{}, exists: map[string]bool{}}
}

func (f *fakeSheet) AppendTransaction(_ context.Context, tx core.Transaction, payer string) (string, error) {
	if f.fail {
		return "", errors.New("quota exceeded")
	}
	f.rows[tx.ID] = payer
	return "2024 Lancamentos!A2:H2", nil
}

func (f *fakeSheet) HasTransaction(_ context.Context, tx core.Transaction) (bool, error) {
	return f.exists[tx.ID], nil
}

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "financas.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seed(t *testing.T, repo *storage.SQLiteRepository, ids ...string) {
	t.Helper()
	ctx := context.Background()
	if err := repo.SaveProfile(ctx, core.Profile{ID: "me", Name: "Eu"}); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	for _, id := range ids {
		tx := core.Transaction{ID: id, Type: core.Expense, Amount: 10, Date: "2024-03-01", PayerID: "me"}
		if err := repo.Create(ctx, tx); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
}

func pendingIDs(t *testing.T, repo ports.SyncTracker) []string {
	t.Helper()
	p, err := repo.PendingSync(context.Background(), 100)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	var ids []string
	for _, x := range p {
		ids = append(ids, x.TransactionID)
	}
	return ids
}

func TestHandleCreatedEventSyncs(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "t1")
	sheet := newFakeSheet()
	w := NewSyncWorker(repo, sheet, sheet, 10)

	if err := w.HandleEvent(context.Background(), amqp.NewLedgerEvent(amqp.TransactionCreated, "t1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sheet.rows["t1"] != "Eu" {
		t.Fatalf("expected row with payer name, got %v", sheet.rows)
	}
	if ids := pendingIDs(t, repo); len(ids) != 0 {
		t.Fatalf("expected nothing pending, got %v", ids)
	}
}

func TestHandleEventForMissingTransaction(t *testing.T) {
	repo := newRepo(t)
	sheet := newFakeSheet()
	w := NewSyncWorker(repo, sheet, nil, 10)

	if err := w.HandleEvent(context.Background(), amqp.NewLedgerEvent(amqp.TransactionCreated, "gone")); err != nil {
		t.Fatalf("expected deleted transaction to be skipped, got %v", err)
	}
	if err := w.HandleEvent(context.Background(), amqp.NewLedgerEvent(amqp.TransactionDeleted, "gone")); err != nil {
		t.Fatalf("delete event: %v", err)
	}
	if len(sheet.rows) != 0 {
		t.Fatalf("expected no rows, got %v", sheet.rows)
	}
}

func TestAppendFailureRequeuesAndRecords(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "t1")
	sheet := newFakeSheet()
	sheet.fail = true
	w := NewSyncWorker(repo, sheet, nil, 10)

	if err := w.HandleEvent(context.Background(), amqp.NewLedgerEvent(amqp.TransactionCreated, "t1")); err == nil {
		t.Fatal("expected error so the message is requeued")
	}
	p, _ := repo.PendingSync(context.Background(), 10)
	if len(p) != 1 || p[0].Attempts != 1 {
		t.Fatalf("expected one pending row with 1 attempt, got %+v", p)
	}
}

// brokenReads fails every Get while keeping the sync bookkeeping intact.
type brokenReads struct {
	*storage.SQLiteRepository
}

func (brokenReads) Get(context.Context, string) (core.Transaction, error) {
	return core.Transaction{}, errors.New("database is locked")
}

func TestStorageReadFailureCountsAsAttempt(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "t1")
	sheet := newFakeSheet()
	w := NewSyncWorker(brokenReads{repo}, sheet, nil, 10)

	for i := 1; i <= 2; i++ {
		if err := w.HandleEvent(context.Background(), amqp.NewLedgerEvent(amqp.TransactionCreated, "t1")); err == nil {
			t.Fatal("expected read error to surface")
		}
		p, _ := repo.PendingSync(context.Background(), 10)
		if len(p) != 1 || p[0].Attempts != i {
			t.Fatalf("after %d failures expected %d attempts, got %+v", i, i, p)
		}
	}
	if len(sheet.rows) != 0 {
		t.Fatalf("expected no rows, got %v", sheet.rows)
	}
}

func TestExistingRowIsNotAppendedTwice(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "t1")
	sheet := newFakeSheet()
	sheet.exists["t1"] = true
	w := NewSyncWorker(repo, sheet, sheet, 10)

	if err := w.ProcessPending(context.Background()); err != nil {
		t.Fatalf("pending pass: %v", err)
	}
	if len(sheet.rows) != 0 {
		t.Fatalf("expected no append, got %v", sheet.rows)
	}
	if ids := pendingIDs(t, repo); len(ids) != 0 {
		t.Fatalf("expected row marked synced, got %v", ids)
	}
}

func TestProcessPendingSyncsBatch(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo, "a", "b", "c")
	sheet := newFakeSheet()
	w := NewSyncWorker(repo, sheet, nil, 2)

	if err := w.ProcessPending(context.Background()); err != nil {
		t.Fatalf("pending pass: %v", err)
	}
	if len(sheet.rows) != 2 {
		t.Fatalf("expected a batch of 2, got %v", sheet.rows)
	}
	if err := w.StartupSyncCheck(context.Background()); err != nil {
		t.Fatalf("startup check: %v", err)
	}
	if len(sheet.rows) != 3 {
		t.Fatalf("expected all rows synced, got %v", sheet.rows)
	}
}

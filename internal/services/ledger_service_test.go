package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"financas/internal/amqp"
	"financas/internal/core"
	"financas/internal/ports"
	"financas/internal/report"
	"financas/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []amqp.LedgerEvent
	err    error
}

func (p *recordingPublisher) PublishLedgerEvent(_ context.Context, ev *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *ev)
	return p.err
}

func newTestService(t *testing.T) (*LedgerService, *memory.Store, *recordingPublisher) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	_ = store.SaveProfile(ctx, core.Profile{ID: "me", Name: "Eu", FinancialStartDay: 25})
	_ = store.SaveProfile(ctx, core.Profile{ID: "ana", Name: "Ana", Ghost: true})
	_ = store.SaveCard(ctx, core.Card{ID: "nu", Name: "Nu", ClosingDay: 10})
	pub := &recordingPublisher{}
	return NewLedgerService(store, pub, Options{CacheSize: 16, CacheTTL: time.Minute}), store, pub
}

func march() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

func TestAddTransactionDerivesInvoiceDate(t *testing.T) {
	s, _, pub := newTestService(t)
	tx, err := s.AddTransaction(context.Background(), core.Transaction{
		Type: core.Expense, Amount: 50, Date: "2024-02-15", CardID: "nu", PayerID: "me",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if tx.ID == "" {
		t.Fatal("expected generated id")
	}
	if tx.InvoiceDate != "2024-03-01" {
		t.Fatalf("expected March invoice, got %q", tx.InvoiceDate)
	}
	if len(pub.events) != 1 || pub.events[0].Kind != amqp.TransactionCreated || pub.events[0].TransactionID != tx.ID {
		t.Fatalf("unexpected events: %+v", pub.events)
	}
}

func TestAddTransactionDerivesCompetenceDate(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	bill, err := s.AddTransaction(ctx, core.Transaction{Type: core.Bill, Amount: 100, Date: "2024-02-26", PayerID: "me"})
	if err != nil {
		t.Fatalf("add bill: %v", err)
	}
	if bill.CompetenceDate != "2024-03-01" {
		t.Fatalf("expected March competence, got %q", bill.CompetenceDate)
	}

	// Ghost profile without a start day follows the calendar month.
	other, err := s.AddTransaction(ctx, core.Transaction{Type: core.Income, Amount: 100, Date: "2024-02-26", PayerID: "ana"})
	if err != nil {
		t.Fatalf("add income: %v", err)
	}
	if other.CompetenceDate != "" {
		t.Fatalf("expected no competence date, got %q", other.CompetenceDate)
	}

	expense, err := s.AddTransaction(ctx, core.Transaction{Type: core.Expense, Amount: 1, Date: "2024-02-26", PayerID: "me"})
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	if expense.CompetenceDate != "" {
		t.Fatalf("expenses keep the calendar date, got %q", expense.CompetenceDate)
	}
}

func TestAddTransactionValidation(t *testing.T) {
	s, _, pub := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		tx   core.Transaction
		want error
	}{
		{"bad type", core.Transaction{Type: "gift", Amount: 1, Date: "2024-01-01", PayerID: "me"}, core.ErrInvalidType},
		{"negative", core.Transaction{Type: core.Expense, Amount: -1, Date: "2024-01-01", PayerID: "me"}, core.ErrInvalidAmount},
		{"no payer", core.Transaction{Type: core.Expense, Amount: 1, Date: "2024-01-01"}, core.ErrEmptyPayer},
		{"unknown card", core.Transaction{Type: core.Expense, Amount: 1, Date: "2024-01-01", PayerID: "me", CardID: "x"}, ErrUnknownCard},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := s.AddTransaction(ctx, c.tx)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !errors.Is(err, c.want) {
				t.Fatalf("expected %v, got %v", c.want, err)
			}
		})
	}
	if len(pub.events) != 0 {
		t.Fatalf("no events expected for rejected writes, got %+v", pub.events)
	}
}

func TestAddSplitExpenseRequiresShares(t *testing.T) {
	s, _, _ := newTestService(t)
	_, err := s.AddSplitExpense(context.Background(), core.Transaction{Type: core.Expense, Amount: 1, Date: "2024-01-01", PayerID: "me"})
	if !errors.Is(err, core.ErrEmptyShares) {
		t.Fatalf("expected ErrEmptyShares, got %v", err)
	}
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	s, store, pub := newTestService(t)
	pub.err = errors.New("broker down")
	tx, err := s.AddTransaction(context.Background(), core.Transaction{Type: core.Expense, Amount: 1, Date: "2024-01-01", PayerID: "me"})
	if err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
	if _, err := store.Get(context.Background(), tx.ID); err != nil {
		t.Fatalf("expected stored transaction: %v", err)
	}
}

func TestNilPublisher(t *testing.T) {
	s := NewLedgerService(memory.New(), nil, Options{})
	if _, err := s.AddTransaction(context.Background(), core.Transaction{Type: core.Income, Amount: 1, Date: "2024-01-01", PayerID: "me"}); err != nil {
		t.Fatalf("add: %v", err)
	}
}

func TestAddInstallments(t *testing.T) {
	s, _, _ := newTestService(t)
	txs, err := s.AddInstallments(context.Background(), core.Transaction{
		Type: core.Expense, Amount: 100, Date: "2024-01-31", PayerID: "me", Description: "tv",
		Shares: []core.Share{{ProfileID: "me", ShareAmount: 50}, {ProfileID: "ana", ShareAmount: 50}},
	}, 3)
	if err != nil {
		t.Fatalf("installments: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(txs))
	}

	wantDates := []string{"2024-01-31", "2024-02-29", "2024-03-31"}
	wantAmounts := []float64{33.33, 33.33, 33.34}
	var total core.Sum
	for i, tx := range txs {
		if tx.Date != wantDates[i] {
			t.Errorf("installment %d date = %s, want %s", i, tx.Date, wantDates[i])
		}
		if tx.Amount != wantAmounts[i] {
			t.Errorf("installment %d amount = %v, want %v", i, tx.Amount, wantAmounts[i])
		}
		if tx.SeriesID == "" || tx.SeriesID != txs[0].SeriesID {
			t.Errorf("installment %d has series %q", i, tx.SeriesID)
		}
		if len(tx.Shares) != 2 {
			t.Errorf("installment %d lost its shares", i)
		}
		total.Add(tx.Amount)
	}
	if total.Rounded() != 100 {
		t.Fatalf("installments sum to %v", total.Rounded())
	}
	if txs[2].Description != "tv (3/3)" {
		t.Fatalf("unexpected description %q", txs[2].Description)
	}
}

func TestAddInstallmentsBounds(t *testing.T) {
	s, _, _ := newTestService(t)
	base := core.Transaction{Type: core.Expense, Amount: 10, Date: "2024-01-01", PayerID: "me"}
	for _, n := range []int{0, -1, MaxInstallments + 1} {
		if _, err := s.AddInstallments(context.Background(), base, n); !errors.Is(err, ErrInvalidInstallments) {
			t.Errorf("n=%d: expected ErrInvalidInstallments, got %v", n, err)
		}
	}
}

func TestMonthlyBalancesCacheInvalidation(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.AddTransaction(ctx, core.Transaction{
		Type: core.Expense, Amount: 100, Date: "2024-03-05", PayerID: "me",
		Shares: []core.Share{{ProfileID: "me", ShareAmount: 50}, {ProfileID: "ana", ShareAmount: 50}},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	b, err := s.MonthlyBalances(ctx, "me", march())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if b.MyExpenses != 50 || b.TotalAReceber != 50 || b.NetBalance != 50 {
		t.Fatalf("unexpected balances: %+v", b)
	}

	// Served from cache on the second call.
	if _, err := s.MonthlyBalances(ctx, "me", march()); err != nil {
		t.Fatalf("balances: %v", err)
	}
	if st := s.balances.Stats(); st.Hits != 1 {
		t.Fatalf("expected a cache hit, got %+v", st)
	}

	tx, err := s.AddTransaction(ctx, core.Transaction{Type: core.Expense, Amount: 20, Date: "2024-03-06", PayerID: "me"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b, _ = s.MonthlyBalances(ctx, "me", march())
	if b.MyExpenses != 70 {
		t.Fatalf("expected cache to be invalidated, got %+v", b)
	}

	if err := s.DeleteTransaction(ctx, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	b, _ = s.MonthlyBalances(ctx, "me", march())
	if b.MyExpenses != 50 {
		t.Fatalf("expected delete to invalidate, got %+v", b)
	}
}

func TestDeleteMissing(t *testing.T) {
	s, _, _ := newTestService(t)
	if err := s.DeleteTransaction(context.Background(), "nope"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGroupBalancesAndDebts(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := s.AddSplitExpense(ctx, core.Transaction{
		Type: core.Expense, Amount: 90, Date: "2024-03-10", PayerID: "me",
		Shares: []core.Share{{ProfileID: "me", ShareAmount: 30}, {ProfileID: "ana", ShareAmount: 60}},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	group, err := s.GroupBalances(ctx, march())
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if len(group) != 2 {
		t.Fatalf("expected both profiles, got %+v", group)
	}
	var net core.Sum
	for _, m := range group {
		net.Add(m.NetBalance)
	}
	if net.Rounded() != 0 {
		t.Fatalf("group nets should cancel out, got %v", net.Rounded())
	}

	debts, err := s.Debts(ctx, march())
	if err != nil {
		t.Fatalf("debts: %v", err)
	}
	if len(debts) != 1 || debts[0].From != "ana" || debts[0].To != "me" || debts[0].Amount != 60 {
		t.Fatalf("unexpected debts: %+v", debts)
	}
}

func TestReport(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	for _, tx := range []core.Transaction{
		{Type: core.Income, Amount: 1000, Date: "2024-03-05", PayerID: "ana"},
		{Type: core.Expense, Amount: 250.5, Date: "2024-03-10", PayerID: "me"},
	} {
		if _, err := s.AddTransaction(ctx, tx); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	r, err := s.Report(ctx, report.Filters{StartDate: "2024-03-01", EndDate: "2024-03-31"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if r.Summary.TotalIncome != 1000 || r.Summary.TotalExpenses != 250.5 || r.Summary.Balance != 749.5 {
		t.Fatalf("unexpected summary: %+v", r.Summary)
	}
	if len(r.Timeline.Labels) != 31 {
		t.Fatalf("expected daily timeline, got %d labels", len(r.Timeline.Labels))
	}

	bad := []report.Filters{
		{StartDate: "2024-03-01"},
		{StartDate: "2024-03-31", EndDate: "2024-03-01"},
		{StartDate: "2024-03-01", EndDate: "2024-03-31", Type: "gifts"},
	}
	for _, f := range bad {
		if _, err := s.Report(ctx, f); !errors.Is(err, ErrInvalidFilters) {
			t.Errorf("filters %+v: expected ErrInvalidFilters, got %v", f, err)
		}
	}
}

func TestConcurrentReadsShareOneLoad(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := s.AddTransaction(ctx, core.Transaction{Type: core.Expense, Amount: 10, Date: "2024-03-01", PayerID: "me"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := s.MonthlyBalances(ctx, "me", march())
			if err != nil || b.MyExpenses != 10 {
				t.Errorf("unexpected result %+v err=%v", b, err)
			}
		}()
	}
	wg.Wait()
}

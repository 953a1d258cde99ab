package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"financas/internal/amqp"
	"financas/internal/balance"
	"financas/internal/cache"
	"financas/internal/core"
	applog "financas/internal/log"
	"financas/internal/ports"
	"financas/internal/report"
)

// MaxInstallments bounds AddInstallments.
const MaxInstallments = 120

var (
	ErrUnknownCard         = errors.New("unknown card")
	ErrInvalidInstallments = errors.New("installment count must be between 1 and 120")
	ErrInvalidFilters      = errors.New("invalid report filters")
)

// ValidationError marks input the caller must fix.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error) error {
	return &ValidationError{Err: err}
}

// Store is everything the ledger needs from a backend.
type Store interface {
	ports.TransactionWriter
	ports.TransactionReader
	ports.DirectoryReader
}

// Publisher announces ledger writes. *amqp.Client implements it.
type Publisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// LedgerService records transactions and serves cached balances and reports.
type LedgerService struct {
	store     Store
	publisher Publisher

	balances *cache.LRUCache[balance.Balances]
	groups   *cache.LRUCache[[]balance.MemberBalance]
	debts    *cache.LRUCache[[]balance.Debt]
	reports  *cache.LRUCache[report.Report]

	flight     singleflight.Group
	generation atomic.Uint64
}

// NewLedgerService wires a store with an optional publisher (nil disables events).
func NewLedgerService(store Store, publisher Publisher, opts Options) *LedgerService {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &LedgerService{
		store:     store,
		publisher: publisher,
		balances:  cache.NewLRUCache[balance.Balances](opts.CacheSize, opts.CacheTTL),
		groups:    cache.NewLRUCache[[]balance.MemberBalance](opts.CacheSize, opts.CacheTTL),
		debts:     cache.NewLRUCache[[]balance.Debt](opts.CacheSize, opts.CacheTTL),
		reports:   cache.NewLRUCache[report.Report](opts.CacheSize, opts.CacheTTL),
	}
}

// Caches returns the service caches for registration with a cache.Manager.
func (s *LedgerService) Caches() []cache.Cleaner {
	return []cache.Cleaner{s.balances, s.groups, s.debts, s.reports}
}

// AddTransaction stores a single transaction, deriving its invoice and
// competence dates when they are not supplied.
func (s *LedgerService) AddTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	tx, err := s.prepare(ctx, tx)
	if err != nil {
		return core.Transaction{}, err
	}
	if err := s.persist(ctx, tx); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// AddSplitExpense stores a transaction with its shares in one atomic write.
func (s *LedgerService) AddSplitExpense(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if !tx.IsSplit() {
		return core.Transaction{}, invalid(core.ErrEmptyShares)
	}
	return s.AddTransaction(ctx, tx)
}

// AddInstallments spreads tx over n consecutive months. Amounts (and shares)
// are split to the cent with the remainder on the last installment. All
// installments share a new SeriesID. A failure removes the ones already stored.
func (s *LedgerService) AddInstallments(ctx context.Context, tx core.Transaction, n int) ([]core.Transaction, error) {
	if n < 1 || n > MaxInstallments {
		return nil, invalid(ErrInvalidInstallments)
	}
	if err := tx.Validate(); err != nil {
		return nil, invalid(err)
	}

	amounts := core.SplitInstallments(tx.Amount, n)
	shareParts := make([][]float64, len(tx.Shares))
	for i, sh := range tx.Shares {
		shareParts[i] = core.SplitInstallments(sh.ShareAmount, n)
	}

	series := uuid.NewString()
	out := make([]core.Transaction, 0, n)
	for i := 0; i < n; i++ {
		date, err := core.AddMonths(tx.Date, i)
		if err != nil {
			return nil, invalid(err)
		}
		inst := tx
		inst.ID = ""
		inst.SeriesID = series
		inst.Date = date
		inst.Amount = amounts[i]
		inst.InvoiceDate = ""
		inst.CompetenceDate = ""
		if tx.Description != "" {
			inst.Description = fmt.Sprintf("%s (%d/%d)", tx.Description, i+1, n)
		}
		inst.Shares = nil
		for j, sh := range tx.Shares {
			inst.Shares = append(inst.Shares, core.Share{ProfileID: sh.ProfileID, ShareAmount: shareParts[j][i]})
		}

		prepared, err := s.prepare(ctx, inst)
		if err != nil {
			s.rollback(ctx, out)
			return nil, err
		}
		if err := s.persist(ctx, prepared); err != nil {
			s.rollback(ctx, out)
			return nil, err
		}
		out = append(out, prepared)
	}

	slog.InfoContext(ctx, "Installments created",
		"series_id", series,
		"count", n,
		"total", tx.Amount)
	return out, nil
}

func (s *LedgerService) rollback(ctx context.Context, created []core.Transaction) {
	for _, tx := range created {
		if err := s.store.Delete(ctx, tx.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to roll back installment", "id", tx.ID, "error", err)
		}
	}
	if len(created) > 0 {
		s.invalidate()
	}
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.invalidate()
	s.publish(ctx, amqp.TransactionDeleted, id)
	return nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// prepare normalises tx, assigns an id and derives period dates.
func (s *LedgerService) prepare(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	tx.ID = strings.TrimSpace(tx.ID)
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.Description = strings.TrimSpace(tx.Description)
	tx.PayerID = strings.TrimSpace(tx.PayerID)
	tx.Category = nil
	if len(tx.Date) > 10 {
		tx.Date = tx.Date[:10]
	}

	if err := tx.Validate(); err != nil {
		return core.Transaction{}, invalid(err)
	}

	if tx.Type == core.Expense && tx.CardID != "" && tx.InvoiceDate == "" {
		card, err := s.store.Card(ctx, tx.CardID)
		if errors.Is(err, ports.ErrNotFound) {
			return core.Transaction{}, invalid(fmt.Errorf("%w: %s", ErrUnknownCard, tx.CardID))
		}
		if err != nil {
			return core.Transaction{}, fmt.Errorf("load card: %w", err)
		}
		if inv, ok := core.InvoiceDate(tx.Date, card.ClosingDay); ok {
			tx.InvoiceDate = inv
		}
	}

	if (tx.Type == core.Bill || tx.Type == core.Income) && tx.CompetenceDate == "" {
		p, err := s.store.Profile(ctx, tx.PayerID)
		switch {
		case errors.Is(err, ports.ErrNotFound):
			// payer without a profile follows the calendar month
		case err != nil:
			return core.Transaction{}, fmt.Errorf("load profile: %w", err)
		case p.FinancialStartDay > 1:
			if comp, ok := core.CompetenceDate(tx.Date, p.FinancialStartDay); ok {
				tx.CompetenceDate = comp
			}
		}
	}
	return tx, nil
}

func (s *LedgerService) persist(ctx context.Context, tx core.Transaction) error {
	var err error
	if tx.IsSplit() {
		err = s.store.CreateSplit(ctx, tx)
	} else {
		err = s.store.Create(ctx, tx)
	}
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	s.invalidate()

	applog.NewStructuredLogger(applog.FromContext(ctx)).
		LogTransactionCreated(ctx, tx.ID, string(tx.Type), tx.Amount, tx.PayerID)

	s.publish(ctx, amqp.TransactionCreated, tx.ID)
	return nil
}

// publish never fails the write; the sync worker's pending pass catches up.
func (s *LedgerService) publish(ctx context.Context, kind amqp.EventKind, id string) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "Publisher not configured, skipping ledger event", "kind", kind, "id", id)
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, amqp.NewLedgerEvent(kind, id)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", kind,
			"id", id,
			"error", err)
	}
}

func (s *LedgerService) invalidate() {
	s.generation.Add(1)
	s.balances.Purge()
	s.groups.Purge()
	s.debts.Purge()
	s.reports.Purge()
}

// MonthlyBalances returns profileID's balances for the month of ref.
func (s *LedgerService) MonthlyBalances(ctx context.Context, profileID string, ref time.Time) (balance.Balances, error) {
	key := profileID + "|" + core.MonthKey(ref)
	return cached(ctx, s, s.balances, key, func(ctx context.Context) (balance.Balances, error) {
		txs, err := s.monthWindow(ctx, ref)
		if err != nil {
			return balance.Balances{}, err
		}
		return balance.Calculate(txs, profileID, ref), nil
	})
}

// GroupBalances returns the balances of every known profile for the month of ref.
func (s *LedgerService) GroupBalances(ctx context.Context, ref time.Time) ([]balance.MemberBalance, error) {
	return cached(ctx, s, s.groups, core.MonthKey(ref), func(ctx context.Context) ([]balance.MemberBalance, error) {
		profiles, err := s.store.ListProfiles(ctx)
		if err != nil {
			return nil, fmt.Errorf("list profiles: %w", err)
		}
		ids := make([]string, len(profiles))
		for i, p := range profiles {
			ids[i] = p.ID
		}
		txs, err := s.monthWindow(ctx, ref)
		if err != nil {
			return nil, err
		}
		return balance.Group(txs, ids, ref), nil
	})
}

// Debts returns the netted pairwise debts for the month of ref.
func (s *LedgerService) Debts(ctx context.Context, ref time.Time) ([]balance.Debt, error) {
	return cached(ctx, s, s.debts, core.MonthKey(ref), func(ctx context.Context) ([]balance.Debt, error) {
		txs, err := s.monthWindow(ctx, ref)
		if err != nil {
			return nil, err
		}
		return balance.Debts(txs, ref), nil
	})
}

// Report builds the summary, breakdown and timeline for f.
func (s *LedgerService) Report(ctx context.Context, f report.Filters) (report.Report, error) {
	if _, err := core.ParseLocalDate(f.StartDate); err != nil {
		return report.Report{}, invalid(fmt.Errorf("%w: start date: %v", ErrInvalidFilters, err))
	}
	if _, err := core.ParseLocalDate(f.EndDate); err != nil {
		return report.Report{}, invalid(fmt.Errorf("%w: end date: %v", ErrInvalidFilters, err))
	}
	if f.EndDate < f.StartDate {
		return report.Report{}, invalid(fmt.Errorf("%w: end before start", ErrInvalidFilters))
	}
	if !f.Type.IsValid() {
		return report.Report{}, invalid(fmt.Errorf("%w: type %q", ErrInvalidFilters, f.Type))
	}

	cats := slices.Clone(f.CategoryIDs)
	slices.Sort(cats)
	key := strings.Join([]string{f.StartDate, f.EndDate, string(f.Type), strings.Join(cats, ",")}, "|")

	return cached(ctx, s, s.reports, key, func(ctx context.Context) (report.Report, error) {
		txs, err := s.store.ListBetween(ctx, f.StartDate, f.EndDate)
		if err != nil {
			return report.Report{}, fmt.Errorf("list transactions: %w", err)
		}
		return report.Build(txs, f), nil
	})
}

func (s *LedgerService) monthWindow(ctx context.Context, ref time.Time) ([]core.Transaction, error) {
	first := core.FirstOfMonth(ref)
	last := first.AddDate(0, 1, -1)
	txs, err := s.store.ListBetween(ctx, core.FormatLocalDate(first), core.FormatLocalDate(last))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// cached serves key from c, collapsing concurrent misses into one load.
// Results computed across a write are returned but not stored.
func cached[T any](ctx context.Context, s *LedgerService, c *cache.LRUCache[T], key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	gen := s.generation.Load()
	flightKey := fmt.Sprintf("%p|%d|%s", c, gen, key)
	v, err, _ := s.flight.Do(flightKey, func() (any, error) {
		r, err := load(ctx)
		if err != nil {
			return r, err
		}
		if s.generation.Load() == gen {
			c.Set(key, r)
		}
		return r, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

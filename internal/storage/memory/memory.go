package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"financas/internal/core"
	"financas/internal/ports"
)

// Ensure interface conformance
var (
	_ ports.TransactionWriter = (*Store)(nil)
	_ ports.TransactionReader = (*Store)(nil)
	_ ports.DirectoryReader   = (*Store)(nil)
	_ ports.DirectoryWriter   = (*Store)(nil)
)

type Store struct {
	mu         sync.Mutex
	txs        map[string]core.Transaction
	order      []string
	cards      map[string]core.Card
	profiles   map[string]core.Profile
	categories map[string]core.Category
}

func New() *Store {
	return &Store{
		txs:        map[string]core.Transaction{},
		cards:      map[string]core.Card{},
		profiles:   map[string]core.Profile{},
		categories: map[string]core.Category{},
	}
}

// NewFromFiles seeds a store from JSON-lines files in base: profiles.jsonl,
// cards.jsonl, categories.jsonl and transactions.jsonl. Missing files are
// skipped, as are blank lines and lines starting with '#'.
func NewFromFiles(base string) (*Store, error) {
	s := New()
	ctx := context.Background()

	profiles, err := readLines(filepath.Join(base, "profiles.jsonl"), func(p core.Profile) error {
		return s.SaveProfile(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	cards, err := readLines(filepath.Join(base, "cards.jsonl"), func(c core.Card) error {
		return s.SaveCard(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	cats, err := readLines(filepath.Join(base, "categories.jsonl"), func(c core.Category) error {
		return s.SaveCategory(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	txs, err := readLines(filepath.Join(base, "transactions.jsonl"), func(tx core.Transaction) error {
		return s.CreateSplit(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Seeded memory store",
		"profiles", profiles,
		"cards", cards,
		"categories", cats,
		"transactions", txs)
	return s, nil
}

func (s *Store) Create(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	tx.Category = nil
	tx.Shares = append([]core.Share(nil), tx.Shares...)
	s.txs[tx.ID] = tx
	s.order = append(s.order, tx.ID)
	return nil
}

// CreateSplit is Create: a single map write is already atomic under the lock.
func (s *Store) CreateSplit(ctx context.Context, tx core.Transaction) error {
	return s.Create(ctx, tx)
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[id]; !ok {
		return ports.ErrNotFound
	}
	delete(s.txs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) Get(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return core.Transaction{}, ports.ErrNotFound
	}
	return s.hydrate(tx), nil
}

// ListBetween returns matches ordered by calendar date, then insertion.
func (s *Store) ListBetween(_ context.Context, start, end string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Transaction{}
	for _, id := range s.order {
		tx := s.txs[id]
		if within(tx.Date, start, end) || within(tx.InvoiceDate, start, end) || within(tx.CompetenceDate, start, end) {
			out = append(out, s.hydrate(tx))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) Card(_ context.Context, id string) (core.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return core.Card{}, ports.ErrNotFound
	}
	return c, nil
}

func (s *Store) Profile(_ context.Context, id string) (core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return core.Profile{}, ports.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListProfiles(_ context.Context) ([]core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListCategories(_ context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SaveCard(_ context.Context, c core.Card) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("card id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.ID] = c
	return nil
}

func (s *Store) SaveProfile(_ context.Context, p core.Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
	return nil
}

func (s *Store) SaveCategory(_ context.Context, c core.Category) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("category id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
	return nil
}

// Ping always succeeds for the in-process store.
func (s *Store) Ping(context.Context) error { return nil }

// hydrate returns a copy of tx with its category details attached. Callers
// hold s.mu.
func (s *Store) hydrate(tx core.Transaction) core.Transaction {
	tx.Shares = append([]core.Share(nil), tx.Shares...)
	if c, ok := s.categories[tx.CategoryID]; ok {
		tx.Category = &c
	}
	return tx
}

func within(date, start, end string) bool {
	if len(date) > 10 {
		date = date[:10]
	}
	return date != "" && date >= start && date <= end
}

// readLines decodes each record of a JSON-lines file and hands it to save,
// returning how many records were saved. Errors carry the file and line.
func readLines[T any](path string, save func(T) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	n, saved := 0, 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			return saved, fmt.Errorf("%s:%d: %w", filepath.Base(path), n, err)
		}
		if err := save(v); err != nil {
			return saved, fmt.Errorf("%s:%d: %w", filepath.Base(path), n, err)
		}
		saved++
	}
	return saved, sc.Err()
}

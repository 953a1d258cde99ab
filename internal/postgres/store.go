// Package postgres stores the ledger in PostgreSQL through a pgx pool.
// Queries are built with squirrel using dollar placeholders.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"financas/internal/core"
	"financas/internal/ports"
)

//go:embed schema.sql
var schema string

// Ensure interface conformance
var (
	_ ports.TransactionWriter = (*Store)(nil)
	_ ports.TransactionReader = (*Store)(nil)
	_ ports.DirectoryReader   = (*Store)(nil)
	_ ports.DirectoryWriter   = (*Store)(nil)
	_ ports.SyncTracker       = (*Store)(nil)
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var transactionColumns = []string{
	"t.id", "t.type", "t.amount::text", "t.date", "t.card_id", "t.invoice_date", "t.competence_date",
	"t.payer_id", "t.category_id", "t.description", "t.series_id",
	"COALESCE(c.name, '')", "COALESCE(c.icon, '')", "COALESCE(c.color, '')",
}

type Store struct {
	db *pgxpool.Pool
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.InfoContext(ctx, "Database connection established",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database)
	return pool, nil
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: pool}, nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Create(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(pgTx pgx.Tx) error {
		return insertTransaction(ctx, pgTx, tx)
	})
}

func (s *Store) CreateSplit(ctx context.Context, tx core.Transaction) error {
	if !tx.IsSplit() {
		return core.ErrEmptyShares
	}
	if err := tx.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(pgTx pgx.Tx) error {
		return insertTransaction(ctx, pgTx, tx)
	})
}

func insertTransaction(ctx context.Context, pgTx pgx.Tx, tx core.Transaction) error {
	query, args, err := psql.Insert("transactions").
		Columns("id", "type", "amount", "date", "card_id", "invoice_date", "competence_date",
			"payer_id", "category_id", "description", "series_id").
		Values(tx.ID, string(tx.Type), tx.Amount, tx.Date, tx.CardID, tx.InvoiceDate, tx.CompetenceDate,
			tx.PayerID, tx.CategoryID, tx.Description, tx.SeriesID).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := pgTx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	if len(tx.Shares) > 0 {
		b := psql.Insert("transaction_shares").Columns("transaction_id", "profile_id", "share_amount")
		for _, sh := range tx.Shares {
			b = b.Values(tx.ID, sh.ProfileID, sh.ShareAmount)
		}
		query, args, err := b.ToSql()
		if err != nil {
			return err
		}
		if _, err := pgTx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert shares: %w", err)
		}
	}

	query, args, err = psql.Insert("sync_status").Columns("transaction_id").Values(tx.ID).ToSql()
	if err != nil {
		return err
	}
	if _, err := pgTx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert sync status: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete("transactions").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (core.Transaction, error) {
	txs, err := s.list(ctx, squirrel.Eq{"t.id": id})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	if len(txs) == 0 {
		return core.Transaction{}, ports.ErrNotFound
	}
	return txs[0], nil
}

func (s *Store) ListBetween(ctx context.Context, start, end string) ([]core.Transaction, error) {
	where := squirrel.Or{
		squirrel.Expr("substr(t.date, 1, 10) BETWEEN ? AND ?", start, end),
		squirrel.And{squirrel.NotEq{"t.invoice_date": ""}, squirrel.Expr("t.invoice_date BETWEEN ? AND ?", start, end)},
		squirrel.And{squirrel.NotEq{"t.competence_date": ""}, squirrel.Expr("t.competence_date BETWEEN ? AND ?", start, end)},
	}
	txs, err := s.list(ctx, where)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (s *Store) list(ctx context.Context, where squirrel.Sqlizer) ([]core.Transaction, error) {
	query, args, err := psql.Select(transactionColumns...).
		From("transactions t").
		LeftJoin("categories c ON c.id = t.category_id").
		Where(where).
		OrderBy("t.date", "t.seq").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.Transaction{}
	var ids []string
	for rows.Next() {
		var (
			tx                     core.Transaction
			typ, amount            string
			catName, catIcon, catC string
		)
		if err := rows.Scan(&tx.ID, &typ, &amount, &tx.Date, &tx.CardID, &tx.InvoiceDate, &tx.CompetenceDate,
			&tx.PayerID, &tx.CategoryID, &tx.Description, &tx.SeriesID, &catName, &catIcon, &catC); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Type = core.TransactionType(typ)
		tx.Amount = coerce(ctx, "amount", tx.ID, amount)
		if tx.CategoryID != "" && catName != "" {
			tx.Category = &core.Category{ID: tx.CategoryID, Name: catName, Icon: catIcon, Color: catC}
		}
		out = append(out, tx)
		ids = append(ids, tx.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	shares, err := s.shares(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Shares = shares[out[i].ID]
	}
	return out, nil
}

func (s *Store) shares(ctx context.Context, ids []string) (map[string][]core.Share, error) {
	query, args, err := psql.Select("transaction_id", "profile_id", "share_amount::text").
		From("transaction_shares").
		Where(squirrel.Eq{"transaction_id": ids}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	out := map[string][]core.Share{}
	for rows.Next() {
		var id, profile, amount string
		if err := rows.Scan(&id, &profile, &amount); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		out[id] = append(out[id], core.Share{ProfileID: profile, ShareAmount: coerce(ctx, "share_amount", id, amount)})
	}
	return out, rows.Err()
}

// coerce turns a numeric column rendered as text into an amount. Values that
// do not parse are logged and read as zero.
func coerce(ctx context.Context, column, id, raw string) float64 {
	if _, err := core.ParseAmount(raw); err != nil {
		slog.WarnContext(ctx, "Invalid stored amount",
			"column", column,
			"transaction_id", id,
			"value", raw)
	}
	return core.CoerceAmount(raw)
}

func (s *Store) Card(ctx context.Context, id string) (core.Card, error) {
	query, args, err := psql.Select("id", "name", "closing_day").From("cards").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return core.Card{}, err
	}
	var c core.Card
	err = s.db.QueryRow(ctx, query, args...).Scan(&c.ID, &c.Name, &c.ClosingDay)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Card{}, ports.ErrNotFound
	}
	if err != nil {
		return core.Card{}, fmt.Errorf("get card %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) Profile(ctx context.Context, id string) (core.Profile, error) {
	query, args, err := psql.Select("id", "name", "financial_start_day", "ghost").
		From("profiles").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return core.Profile{}, err
	}
	var p core.Profile
	err = s.db.QueryRow(ctx, query, args...).Scan(&p.ID, &p.Name, &p.FinancialStartDay, &p.Ghost)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Profile{}, ports.ErrNotFound
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]core.Profile, error) {
	query, args, err := psql.Select("id", "name", "financial_start_day", "ghost").
		From("profiles").OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	out := []core.Profile{}
	for rows.Next() {
		var p core.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.FinancialStartDay, &p.Ghost); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListCategories(ctx context.Context) ([]core.Category, error) {
	query, args, err := psql.Select("id", "name", "icon", "color").
		From("categories").OrderBy("name").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := []core.Category{}
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon, &c.Color); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveCard(ctx context.Context, c core.Card) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("card id is required")
	}
	return s.upsert(ctx, psql.Insert("cards").
		Columns("id", "name", "closing_day").
		Values(c.ID, c.Name, c.ClosingDay).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, closing_day = EXCLUDED.closing_day"))
}

func (s *Store) SaveProfile(ctx context.Context, p core.Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	return s.upsert(ctx, psql.Insert("profiles").
		Columns("id", "name", "financial_start_day", "ghost").
		Values(p.ID, p.Name, p.FinancialStartDay, p.Ghost).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, " +
			"financial_start_day = EXCLUDED.financial_start_day, ghost = EXCLUDED.ghost"))
}

func (s *Store) SaveCategory(ctx context.Context, c core.Category) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("category id is required")
	}
	return s.upsert(ctx, psql.Insert("categories").
		Columns("id", "name", "icon", "color").
		Values(c.ID, c.Name, c.Icon, c.Color).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, icon = EXCLUDED.icon, color = EXCLUDED.color"))
}

func (s *Store) upsert(ctx context.Context, b squirrel.InsertBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

func (s *Store) PendingSync(ctx context.Context, limit int) ([]ports.PendingSync, error) {
	query, args, err := psql.Select("transaction_id", "attempts", "created_at").
		From("sync_status").
		Where(squirrel.Eq{"status": []string{"pending", "error"}}).
		Where(squirrel.Lt{"attempts": ports.MaxSyncAttempts}).
		OrderBy("created_at").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get pending sync: %w", err)
	}
	defer rows.Close()

	out := []ports.PendingSync{}
	for rows.Next() {
		var p ports.PendingSync
		if err := rows.Scan(&p.TransactionID, &p.Attempts, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending sync: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) MarkSynced(ctx context.Context, id string) error {
	query, args, err := psql.Update("sync_status").
		Set("status", "synced").
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"transaction_id": id}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	slog.InfoContext(ctx, "Transaction marked as synced", "id", id)
	return nil
}

func (s *Store) MarkSyncError(ctx context.Context, id string) error {
	query, args, err := psql.Update("sync_status").
		Set("status", "error").
		Set("attempts", squirrel.Expr("attempts + 1")).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"transaction_id": id}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark transaction sync error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with sync error", "id", id)
	return nil
}

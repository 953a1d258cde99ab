package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"financas/internal/core"
	"financas/internal/ports"

	_ "modernc.org/sqlite"
)

// Ensure interface conformance
var (
	_ ports.TransactionWriter = (*SQLiteRepository)(nil)
	_ ports.TransactionReader = (*SQLiteRepository)(nil)
	_ ports.DirectoryReader   = (*SQLiteRepository)(nil)
	_ ports.DirectoryWriter   = (*SQLiteRepository)(nil)
	_ ports.SyncTracker       = (*SQLiteRepository)(nil)
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const transactionColumns = `t.id, t.type, t.amount, t.date, t.card_id, t.invoice_date, t.competence_date,
	t.payer_id, t.category_id, t.description, t.series_id,
	COALESCE(c.name, ''), COALESCE(c.icon, ''), COALESCE(c.color, '')`

const periodWhere = `(substr(t.date, 1, 10) BETWEEN ? AND ?
	OR (t.invoice_date <> '' AND t.invoice_date BETWEEN ? AND ?)
	OR (t.competence_date <> '' AND t.competence_date BETWEEN ? AND ?))`

func (r *SQLiteRepository) Create(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	return r.withTx(ctx, func(sqlTx *sql.Tx) error {
		return insertTransaction(ctx, sqlTx, tx)
	})
}

func (r *SQLiteRepository) CreateSplit(ctx context.Context, tx core.Transaction) error {
	if !tx.IsSplit() {
		return core.ErrEmptyShares
	}
	if err := tx.Validate(); err != nil {
		return err
	}
	if err := r.withTx(ctx, func(sqlTx *sql.Tx) error {
		return insertTransaction(ctx, sqlTx, tx)
	}); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Split transaction saved to SQLite",
		"id", tx.ID,
		"amount", tx.Amount,
		"shares", len(tx.Shares))
	return nil
}

func insertTransaction(ctx context.Context, sqlTx *sql.Tx, tx core.Transaction) error {
	_, err := sqlTx.ExecContext(ctx, `INSERT INTO transactions
		(id, type, amount, date, card_id, invoice_date, competence_date, payer_id, category_id, description, series_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, string(tx.Type), tx.Amount, tx.Date, tx.CardID, tx.InvoiceDate, tx.CompetenceDate,
		tx.PayerID, tx.CategoryID, tx.Description, tx.SeriesID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	for _, s := range tx.Shares {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO transaction_shares (transaction_id, profile_id, share_amount) VALUES (?, ?, ?)`,
			tx.ID, s.ProfileID, s.ShareAmount); err != nil {
			return fmt.Errorf("insert share for %s: %w", s.ProfileID, err)
		}
	}
	if _, err := sqlTx.ExecContext(ctx,
		`INSERT INTO sync_status (transaction_id, status) VALUES (?, 'pending')`, tx.ID); err != nil {
		return fmt.Errorf("insert sync status: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	return r.withTx(ctx, func(sqlTx *sql.Tx) error {
		if _, err := sqlTx.ExecContext(ctx, `DELETE FROM transaction_shares WHERE transaction_id = ?`, id); err != nil {
			return fmt.Errorf("delete shares: %w", err)
		}
		if _, err := sqlTx.ExecContext(ctx, `DELETE FROM sync_status WHERE transaction_id = ?`, id); err != nil {
			return fmt.Errorf("delete sync status: %w", err)
		}
		res, err := sqlTx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		if n == 0 {
			return ports.ErrNotFound
		}
		return nil
	})
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+`
		FROM transactions t LEFT JOIN categories c ON c.id = t.category_id
		WHERE t.id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ports.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT transaction_id, profile_id, share_amount FROM transaction_shares WHERE transaction_id = ? ORDER BY rowid`, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get shares: %w", err)
	}
	shares, err := scanShares(rows)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Shares = shares[id]
	return tx, nil
}

func (r *SQLiteRepository) ListBetween(ctx context.Context, start, end string) ([]core.Transaction, error) {
	args := []any{start, end, start, end, start, end}

	rows, err := r.db.QueryContext(ctx, `SELECT `+transactionColumns+`
		FROM transactions t LEFT JOIN categories c ON c.id = t.category_id
		WHERE `+periodWhere+`
		ORDER BY t.date, t.rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := []core.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	shareRows, err := r.db.QueryContext(ctx, `SELECT s.transaction_id, s.profile_id, s.share_amount
		FROM transaction_shares s JOIN transactions t ON t.id = s.transaction_id
		WHERE `+periodWhere+`
		ORDER BY s.rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	shares, err := scanShares(shareRows)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Shares = shares[out[i].ID]
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		tx                      core.Transaction
		typ                     string
		catName, catIcon, catCo string
	)
	err := s.Scan(&tx.ID, &typ, &tx.Amount, &tx.Date, &tx.CardID, &tx.InvoiceDate, &tx.CompetenceDate,
		&tx.PayerID, &tx.CategoryID, &tx.Description, &tx.SeriesID, &catName, &catIcon, &catCo)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Type = core.TransactionType(typ)
	if tx.CategoryID != "" && catName != "" {
		tx.Category = &core.Category{ID: tx.CategoryID, Name: catName, Icon: catIcon, Color: catCo}
	}
	return tx, nil
}

// scanShares groups share rows by transaction id and closes rows.
func scanShares(rows *sql.Rows) (map[string][]core.Share, error) {
	defer rows.Close()
	out := map[string][]core.Share{}
	for rows.Next() {
		var id string
		var s core.Share
		if err := rows.Scan(&id, &s.ProfileID, &s.ShareAmount); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		out[id] = append(out[id], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) Card(ctx context.Context, id string) (core.Card, error) {
	var c core.Card
	err := r.db.QueryRowContext(ctx, `SELECT id, name, closing_day FROM cards WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.ClosingDay)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Card{}, ports.ErrNotFound
	}
	if err != nil {
		return core.Card{}, fmt.Errorf("get card %s: %w", id, err)
	}
	return c, nil
}

func (r *SQLiteRepository) Profile(ctx context.Context, id string) (core.Profile, error) {
	var p core.Profile
	err := r.db.QueryRowContext(ctx, `SELECT id, name, financial_start_day, ghost FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.FinancialStartDay, &p.Ghost)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Profile{}, ports.ErrNotFound
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile %s: %w", id, err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListProfiles(ctx context.Context) ([]core.Profile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, financial_start_day, ghost FROM profiles ORDER BY id`)
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

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, icon, color FROM categories ORDER BY name`)
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

func (r *SQLiteRepository) SaveCard(ctx context.Context, c core.Card) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("card id is required")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO cards (id, name, closing_day) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, closing_day = excluded.closing_day`,
		c.ID, c.Name, c.ClosingDay)
	if err != nil {
		return fmt.Errorf("save card: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SaveProfile(ctx context.Context, p core.Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO profiles (id, name, financial_start_day, ghost) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			financial_start_day = excluded.financial_start_day, ghost = excluded.ghost`,
		p.ID, p.Name, p.FinancialStartDay, p.Ghost)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SaveCategory(ctx context.Context, c core.Category) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("category id is required")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO categories (id, name, icon, color) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, icon = excluded.icon, color = excluded.color`,
		c.ID, c.Name, c.Icon, c.Color)
	if err != nil {
		return fmt.Errorf("save category: %w", err)
	}
	return nil
}

// PendingSync returns transactions that still need to be mirrored, oldest first.
func (r *SQLiteRepository) PendingSync(ctx context.Context, limit int) ([]ports.PendingSync, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT transaction_id, attempts, created_at FROM sync_status
		WHERE status IN ('pending', 'error') AND attempts < ?
		ORDER BY created_at, rowid LIMIT ?`, ports.MaxSyncAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync: %w", err)
	}
	defer rows.Close()

	out := []ports.PendingSync{}
	for rows.Next() {
		var p ports.PendingSync
		var created time.Time
		if err := rows.Scan(&p.TransactionID, &p.Attempts, &created); err != nil {
			return nil, fmt.Errorf("scan pending sync: %w", err)
		}
		p.CreatedAt = created
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkSynced marks a transaction as successfully mirrored
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE sync_status SET status = 'synced', updated_at = CURRENT_TIMESTAMP
		WHERE transaction_id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	slog.InfoContext(ctx, "Transaction marked as synced", "id", id)
	return nil
}

// MarkSyncError records a failed mirroring attempt
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE sync_status SET status = 'error', attempts = attempts + 1,
		updated_at = CURRENT_TIMESTAMP WHERE transaction_id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction sync error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with sync error", "id", id)
	return nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

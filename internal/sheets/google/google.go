package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"financas/internal/core"
	ports "financas/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base name without year (e.g. "Lancamentos"); the attribution year is prefixed.
	sheetBase string
}

// Ensure interface conformance
var (
	_ ports.TransactionAppender = (*Client)(nil)
	_ ports.RowFinder           = (*Client)(nil)
)

type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
}

// New creates a Sheets client authenticated with a service account.
// ServiceAccountJSON wins over ServiceAccountFile; when both are empty
// GOOGLE_APPLICATION_CREDENTIALS is read.
func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Lancamentos"
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetBase: base}, nil
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	inline := strings.TrimSpace(cfg.ServiceAccountJSON)
	file := strings.TrimSpace(cfg.ServiceAccountFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case inline != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(inline)
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created successfully")
	return service, nil
}

// AppendTransaction writes tx to the next empty row of the sheet for its
// attribution year: date, type, description, amount, payer, category,
// attribution month and transaction id (A:H).
func (c *Client) AppendTransaction(ctx context.Context, tx core.Transaction, payerName string) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet, err := c.sheetFor(tx)
	if err != nil {
		return "", err
	}

	rng := fmt.Sprintf("%s!A:A", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get sheet dimensions for %s: %w", sheet, err)
	}
	nextRow := len(resp.Values) + 1

	ref := fmt.Sprintf("%s!A%d:H%d", sheet, nextRow, nextRow)
	vr := &gsheet.ValueRange{Values: [][]any{transactionRow(tx, payerName)}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, ref, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to update %s: %w", ref, err)
	}

	slog.InfoContext(ctx, "Transaction appended to sheet",
		"transaction_id", tx.ID,
		"range", ref)
	return ref, nil
}

// HasTransaction reports whether tx.ID already appears in column H of its sheet.
func (c *Client) HasTransaction(ctx context.Context, tx core.Transaction) (bool, error) {
	if c.svc == nil {
		return false, errors.New("sheets service not initialized")
	}
	sheet, err := c.sheetFor(tx)
	if err != nil {
		return false, err
	}
	rng := fmt.Sprintf("%s!H:H", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", rng, err)
	}
	for _, id := range columnValues(resp.Values) {
		if id == tx.ID {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) sheetFor(tx core.Transaction) (string, error) {
	d, err := core.ParseLocalDate(core.AttributionDate(tx))
	if err != nil {
		return "", fmt.Errorf("attribution date: %w", err)
	}
	return yearPrefixedName(c.sheetBase, d.Year()), nil
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"financas/internal/core"
	"financas/internal/report"
	"financas/internal/services"
)

const maxBodyBytes = 1 << 20

// amountInput accepts 12.5, "12.5" and "12,50".
type amountInput string

func (a *amountInput) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountInput(s)
		return nil
	}
	*a = amountInput(b)
	return nil
}

func (a amountInput) parse() (float64, error) {
	return core.ParseAmount(string(a))
}

type shareInput struct {
	ProfileID   string      `json:"profile_id"`
	ShareAmount amountInput `json:"share_amount"`
}

// transactionInput is the JSON body for the create endpoints.
type transactionInput struct {
	Type           core.TransactionType `json:"type"`
	Amount         amountInput          `json:"amount"`
	Date           string               `json:"date"`
	CardID         string               `json:"card_id"`
	InvoiceDate    string               `json:"invoice_date"`
	CompetenceDate string               `json:"competence_date"`
	PayerID        string               `json:"payer_id"`
	CategoryID     string               `json:"category_id"`
	Description    string               `json:"description"`
	Shares         []shareInput         `json:"shares"`
}

func (in transactionInput) toTransaction() (core.Transaction, error) {
	amount, err := in.Amount.parse()
	if err != nil {
		return core.Transaction{}, &services.ValidationError{Err: fmt.Errorf("amount: %w", err)}
	}
	tx := core.Transaction{
		Type:           in.Type,
		Amount:         amount,
		Date:           strings.TrimSpace(in.Date),
		CardID:         strings.TrimSpace(in.CardID),
		InvoiceDate:    strings.TrimSpace(in.InvoiceDate),
		CompetenceDate: strings.TrimSpace(in.CompetenceDate),
		PayerID:        strings.TrimSpace(in.PayerID),
		CategoryID:     strings.TrimSpace(in.CategoryID),
		Description:    sanitizeInput(in.Description),
	}
	for i, sh := range in.Shares {
		v, err := sh.ShareAmount.parse()
		if err != nil {
			return core.Transaction{}, &services.ValidationError{Err: fmt.Errorf("share %d: %w", i, err)}
		}
		tx.Shares = append(tx.Shares, core.Share{ProfileID: strings.TrimSpace(sh.ProfileID), ShareAmount: v})
	}
	return tx, nil
}

// decodeTransaction reads a transactionInput body, rejecting unknown fields.
func decodeTransaction(r *http.Request) (core.Transaction, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	var in transactionInput
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return core.Transaction{}, badRequest{"request body is empty"}
		}
		return core.Transaction{}, badRequest{fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return in.toTransaction()
}

// parseMonthParam reads month=YYYY-MM, defaulting to the month of now.
func parseMonthParam(q url.Values, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(q.Get("month"))
	if v == "" {
		return core.FirstOfMonth(now), nil
	}
	m, err := core.ParseMonth(v)
	if err != nil {
		return time.Time{}, badRequest{fmt.Sprintf("invalid month %q: want YYYY-MM", v)}
	}
	return m, nil
}

// parseReportFilters reads start, end, type and repeated category params.
// Missing bounds default to the month of now.
func parseReportFilters(q url.Values, now time.Time) report.Filters {
	first := core.FirstOfMonth(now)
	f := report.Filters{
		StartDate: strings.TrimSpace(q.Get("start")),
		EndDate:   strings.TrimSpace(q.Get("end")),
		Type:      report.TypeFilter(strings.TrimSpace(q.Get("type"))),
	}
	if f.StartDate == "" {
		f.StartDate = core.FormatLocalDate(first)
	}
	if f.EndDate == "" {
		f.EndDate = core.FormatLocalDate(first.AddDate(0, 1, -1))
	}
	for _, c := range q["category"] {
		for _, id := range strings.Split(c, ",") {
			if id = strings.TrimSpace(id); id != "" {
				f.CategoryIDs = append(f.CategoryIDs, id)
			}
		}
	}
	return f
}

func parseCount(q url.Values) (int, error) {
	v := strings.TrimSpace(q.Get("count"))
	if v == "" {
		return 0, badRequest{"count is required"}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest{fmt.Sprintf("invalid count %q", v)}
	}
	return n, nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

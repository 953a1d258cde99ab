package core

import (
	"errors"
	"strings"
)

const (
	Income     TransactionType = "income"
	Expense    TransactionType = "expense"
	Bill       TransactionType = "bill"
	Investment TransactionType = "investment"
)

type (
	TransactionType string

	// Share is the portion of a split transaction allocated to one participant.
	Share struct {
		ProfileID   string  `json:"profile_id"`
		ShareAmount float64 `json:"share_amount"`
	}

	Transaction struct {
		ID             string          `json:"id"`
		Type           TransactionType `json:"type"`
		Amount         float64         `json:"amount"`
		Date           string          `json:"date"`                      // YYYY-MM-DD
		CardID         string          `json:"card_id,omitempty"`         // card expenses only
		InvoiceDate    string          `json:"invoice_date,omitempty"`    // YYYY-MM-01
		CompetenceDate string          `json:"competence_date,omitempty"` // YYYY-MM-01
		PayerID        string          `json:"payer_id"`
		CategoryID     string          `json:"category_id,omitempty"`
		Category       *Category       `json:"category,omitempty"`
		Description    string          `json:"description,omitempty"`
		Shares         []Share         `json:"shares,omitempty"`
		SeriesID       string          `json:"series_id,omitempty"`
	}

	Card struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		ClosingDay int    `json:"closing_day,omitempty"` // 0 means no closing day
	}

	Profile struct {
		ID                string `json:"id"`
		Name              string `json:"name"`
		FinancialStartDay int    `json:"financial_start_day,omitempty"`
		Ghost             bool   `json:"ghost,omitempty"` // participant without a login
	}

	Category struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Icon  string `json:"icon,omitempty"`
		Color string `json:"color,omitempty"`
	}
)

var (
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyPayer       = errors.New("empty payer")
	ErrEmptyShares      = errors.New("split transaction without shares")
	ErrInvalidShare     = errors.New("invalid share")
	ErrCardOnNonExpense = errors.New("card is only allowed on expenses")
)

// IsValid reports whether t is one of the known transaction types.
func (t TransactionType) IsValid() bool {
	switch t {
	case Income, Expense, Bill, Investment:
		return true
	default:
		return false
	}
}

// IsSplit returns true when the transaction carries per-person shares.
func (tx Transaction) IsSplit() bool {
	return len(tx.Shares) > 0
}

// ShareOf returns the share amount allocated to profileID and whether one exists.
func (tx Transaction) ShareOf(profileID string) (float64, bool) {
	for _, s := range tx.Shares {
		if s.ProfileID == profileID {
			return s.ShareAmount, true
		}
	}
	return 0, false
}

// UsesInvoice reports whether the card invoice month decides the period.
func (tx Transaction) UsesInvoice() bool {
	return tx.Type == Expense && tx.CardID != "" && tx.InvoiceDate != ""
}

// Validate checks the fields a stored transaction must carry. Each share
// must name a distinct participant.
func (tx Transaction) Validate() error {
	if !tx.Type.IsValid() {
		return ErrInvalidType
	}
	if tx.Amount < 0 {
		return ErrInvalidAmount
	}
	if _, err := ParseLocalDate(tx.Date); err != nil {
		return err
	}
	if strings.TrimSpace(tx.PayerID) == "" {
		return ErrEmptyPayer
	}
	if tx.CardID != "" && tx.Type != Expense {
		return ErrCardOnNonExpense
	}
	for _, d := range []string{tx.InvoiceDate, tx.CompetenceDate} {
		if d == "" {
			continue
		}
		if _, err := ParseLocalDate(d); err != nil {
			return err
		}
	}
	if len(tx.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	seen := make(map[string]bool, len(tx.Shares))
	for _, s := range tx.Shares {
		if strings.TrimSpace(s.ProfileID) == "" || s.ShareAmount < 0 || seen[s.ProfileID] {
			return ErrInvalidShare
		}
		seen[s.ProfileID] = true
	}
	return nil
}

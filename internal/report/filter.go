// Package report aggregates transactions into the totals, category
// breakdown and cumulative timeline shown on the reports page.
package report

import (
	"slices"

	"financas/internal/core"
)

// TypeFilter selects transaction types. TypeExpense also matches bills.
type TypeFilter string

const (
	TypeAll        TypeFilter = "all"
	TypeExpense    TypeFilter = "expense"
	TypeIncome     TypeFilter = "income"
	TypeInvestment TypeFilter = "investment"
)

// Filters bound a report. StartDate and EndDate are inclusive YYYY-MM-DD.
type Filters struct {
	StartDate   string     `json:"start_date"`
	EndDate     string     `json:"end_date"`
	CategoryIDs []string   `json:"category_ids,omitempty"`
	Type        TypeFilter `json:"type"`
}

// IsValid reports whether f is a known type filter. The empty filter means all.
func (f TypeFilter) IsValid() bool {
	switch f {
	case "", TypeAll, TypeExpense, TypeIncome, TypeInvestment:
		return true
	default:
		return false
	}
}

func (f TypeFilter) matches(t core.TransactionType) bool {
	switch f {
	case "", TypeAll:
		return true
	case TypeExpense:
		return t == core.Expense || t == core.Bill
	case TypeIncome:
		return t == core.Income
	case TypeInvestment:
		return t == core.Investment
	default:
		return false
	}
}

// Filter keeps the transactions whose attribution date lies within the
// bounds and that pass the type and category filters. Missing bounds yield
// an empty result.
func Filter(txs []core.Transaction, f Filters) []core.Transaction {
	if txs == nil || f.StartDate == "" || f.EndDate == "" {
		return []core.Transaction{}
	}
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		d := day(core.AttributionDate(tx))
		if d < f.StartDate || d > f.EndDate {
			continue
		}
		if !f.Type.matches(tx.Type) {
			continue
		}
		if len(f.CategoryIDs) > 0 && !slices.Contains(f.CategoryIDs, tx.CategoryID) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// day trims a date or timestamp to its YYYY-MM-DD prefix. Zero-padded dates
// compare correctly as strings.
func day(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

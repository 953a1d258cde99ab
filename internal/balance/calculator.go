// Package balance computes what one person spent, is owed and owes in a
// month of shared and personal transactions.
package balance

import (
	"time"

	"financas/internal/core"
)

// Balances is one person's position for a month. MyExpenses is the part of
// the spending that is really theirs; TotalAReceber is what others owe them
// and TotalAPagar what they owe others.
type Balances struct {
	MyExpenses    float64 `json:"my_expenses"`
	TotalAReceber float64 `json:"total_a_receber"`
	TotalAPagar   float64 `json:"total_a_pagar"`
	NetBalance    float64 `json:"net_balance"`
}

// Calculate returns the balances of myProfileID for the month containing
// referenceMonth. Missing input yields the zero value.
//
// Income never counts. Transactions are attributed to a month by
// core.AttributionDate, and sums are rounded once, after aggregation.
func Calculate(txs []core.Transaction, myProfileID string, referenceMonth time.Time) Balances {
	if len(txs) == 0 || myProfileID == "" || referenceMonth.IsZero() {
		return Balances{}
	}

	var mine, receber, pagar core.Sum
	for _, tx := range txs {
		if !counts(tx, referenceMonth) {
			continue
		}
		paidByMe := tx.PayerID == myProfileID

		if !tx.IsSplit() {
			if paidByMe {
				mine.Add(tx.Amount)
			}
			continue
		}

		if share, ok := tx.ShareOf(myProfileID); ok {
			mine.Add(share)
		}
		for _, s := range tx.Shares {
			switch {
			case paidByMe && s.ProfileID != myProfileID:
				receber.Add(s.ShareAmount)
			case !paidByMe && s.ProfileID == myProfileID:
				pagar.Add(s.ShareAmount)
			}
		}
	}

	out := Balances{
		MyExpenses:    mine.Rounded(),
		TotalAReceber: receber.Rounded(),
		TotalAPagar:   pagar.Rounded(),
	}
	var net core.Sum
	net.Add(out.TotalAReceber)
	net.Sub(out.TotalAPagar)
	out.NetBalance = net.Rounded()
	return out
}

// counts reports whether tx takes part in the balances of ref's month.
func counts(tx core.Transaction, ref time.Time) bool {
	switch tx.Type {
	case core.Expense, core.Bill, core.Investment:
	default:
		return false
	}
	return core.InMonth(tx, ref)
}

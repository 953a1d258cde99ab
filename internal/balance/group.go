package balance

import (
	"sort"
	"time"

	"financas/internal/core"
)

// MemberBalance is the Calculate result of one group member.
type MemberBalance struct {
	ProfileID string `json:"profile_id"`
	Balances
}

// Debt says From owes To Amount for the month, after netting the pair.
type Debt struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

// Group runs Calculate for every member, in memberIDs order. The group view
// and a member's own dashboard therefore always agree.
func Group(txs []core.Transaction, memberIDs []string, referenceMonth time.Time) []MemberBalance {
	out := make([]MemberBalance, 0, len(memberIDs))
	for _, id := range memberIDs {
		out = append(out, MemberBalance{
			ProfileID: id,
			Balances:  Calculate(txs, id, referenceMonth),
		})
	}
	return out
}

type pair struct{ a, b string }

// Debts nets every split of the month into at most one debt per pair of
// people. Pairs that cancel out are omitted.
func Debts(txs []core.Transaction, referenceMonth time.Time) []Debt {
	if len(txs) == 0 || referenceMonth.IsZero() {
		return nil
	}

	// owed[{a,b}] > 0 means a owes b, with a < b.
	owed := map[pair]*core.Sum{}
	for _, tx := range txs {
		if !tx.IsSplit() || !counts(tx, referenceMonth) {
			continue
		}
		for _, s := range tx.Shares {
			if s.ProfileID == tx.PayerID {
				continue
			}
			debtor, creditor := s.ProfileID, tx.PayerID
			key, sign := pair{debtor, creditor}, 1.0
			if creditor < debtor {
				key, sign = pair{creditor, debtor}, -1.0
			}
			sum, ok := owed[key]
			if !ok {
				sum = &core.Sum{}
				owed[key] = sum
			}
			sum.Add(sign * s.ShareAmount)
		}
	}

	var out []Debt
	for key, sum := range owed {
		// Round the magnitude so the direction never changes the amount.
		amount := sum.Abs().Rounded()
		if amount == 0 {
			continue
		}
		from, to := key.a, key.b
		if !sum.IsPositive() {
			from, to = key.b, key.a
		}
		out = append(out, Debt{From: from, To: to, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

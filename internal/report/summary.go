package report

import (
	"math"
	"sort"

	"financas/internal/core"
)

// UncategorizedKey groups transactions without a category.
const UncategorizedKey = "uncategorized"

// Summary holds the headline totals. Bills and investments count as expenses.
type Summary struct {
	TotalIncome   float64 `json:"total_income"`
	TotalExpenses float64 `json:"total_expenses"`
	Balance       float64 `json:"balance"`
	Count         int     `json:"count"`
}

// CategoryBreakdown is the spending of one category.
type CategoryBreakdown struct {
	CategoryID   string             `json:"category_id"`
	Name         string             `json:"name"`
	Icon         string             `json:"icon,omitempty"`
	Color        string             `json:"color,omitempty"`
	Total        float64            `json:"total"`
	Count        int                `json:"count"`
	Percentage   float64            `json:"percentage"`
	Transactions []core.Transaction `json:"transactions"`
}

// Summarize totals income against everything else.
func Summarize(txs []core.Transaction) Summary {
	var income, expenses core.Sum
	for _, tx := range txs {
		if tx.Type == core.Income {
			income.Add(tx.Amount)
		} else {
			expenses.Add(tx.Amount)
		}
	}
	out := Summary{
		TotalIncome:   income.Rounded(),
		TotalExpenses: expenses.Rounded(),
		Count:         len(txs),
	}
	var balance core.Sum
	balance.Add(out.TotalIncome)
	balance.Sub(out.TotalExpenses)
	out.Balance = balance.Rounded()
	return out
}

// Breakdown groups non-income transactions by category, largest total first.
// Labels come from the first transaction seen in each group.
func Breakdown(txs []core.Transaction) []CategoryBreakdown {
	type group struct {
		CategoryBreakdown
		sum core.Sum
	}

	var (
		order  []string
		groups = map[string]*group{}
		all    core.Sum
	)
	for _, tx := range txs {
		if tx.Type == core.Income {
			continue
		}
		key := tx.CategoryID
		if key == "" {
			key = UncategorizedKey
		}
		g, ok := groups[key]
		if !ok {
			g = &group{CategoryBreakdown: newBreakdown(key, tx.Category)}
			groups[key] = g
			order = append(order, key)
		}
		g.sum.Add(tx.Amount)
		g.Count++
		g.Transactions = append(g.Transactions, tx)
		all.Add(tx.Amount)
	}

	out := make([]CategoryBreakdown, 0, len(order))
	for _, key := range order {
		g := groups[key]
		g.Total = g.sum.Rounded()
		if all.IsPositive() {
			g.Percentage = percentage(g.sum.Raw(), all.Raw())
		}
		out = append(out, g.CategoryBreakdown)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

func newBreakdown(key string, c *core.Category) CategoryBreakdown {
	b := CategoryBreakdown{CategoryID: key, Name: "Sem categoria"}
	if c != nil {
		if c.Name != "" {
			b.Name = c.Name
		}
		b.Icon = c.Icon
		b.Color = c.Color
	}
	return b
}

// percentage is part/total with one decimal place.
func percentage(part, total float64) float64 {
	return math.Floor(part/total*1000+0.5) / 10
}

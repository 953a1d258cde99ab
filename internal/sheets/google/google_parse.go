package google

import (
	"fmt"
	"strconv"
	"strings"

	"financas/internal/core"
)

// transactionRow renders tx as a sheet row. Amounts are written as numbers
// so the spreadsheet can sum them; the attribution month is YYYY-MM.
func transactionRow(tx core.Transaction, payerName string) []any {
	payer := strings.TrimSpace(payerName)
	if payer == "" {
		payer = tx.PayerID
	}
	category := ""
	if tx.Category != nil {
		category = tx.Category.Name
	}
	month := core.AttributionDate(tx)
	if len(month) >= 7 {
		month = month[:7]
	}
	date := tx.Date
	if len(date) > 10 {
		date = date[:10]
	}
	return []any{date, string(tx.Type), tx.Description, core.Round2(tx.Amount), payer, category, month, tx.ID}
}

// columnValues flattens the first cell of each row, skipping blanks and
// '#' comments. Order is preserved and duplicates removed.
func columnValues(values [][]any) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, row := range values {
		if len(row) == 0 {
			continue
		}
		v := strings.TrimSpace(fmt.Sprint(row[0]))
		if v == "" || strings.HasPrefix(v, "#") {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

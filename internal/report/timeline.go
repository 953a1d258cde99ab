package report

import (
	"strconv"
	"time"

	"financas/internal/core"
)

// Ranges longer than these many days switch to coarser buckets.
const (
	weeklyAfterDays  = 60
	monthlyAfterDays = 180
)

var monthLabels = [12]string{"jan", "fev", "mar", "abr", "mai", "jun", "jul", "ago", "set", "out", "nov", "dez"}

// Timeline is a cumulative series: every point is the running total up to
// and including its bucket.
type Timeline struct {
	Labels      []string  `json:"labels"`
	IncomeData  []float64 `json:"income_data"`
	ExpenseData []float64 `json:"expense_data"`
}

type bucket struct {
	label      string
	start, end string // inclusive YYYY-MM-DD
}

// BuildTimeline buckets txs by their calendar date between startDate and
// endDate: daily up to 60 days, weekly (S1, S2, ...) up to 180 days and
// monthly beyond. Invalid or reversed bounds give an empty timeline.
func BuildTimeline(txs []core.Transaction, startDate, endDate string) Timeline {
	out := Timeline{Labels: []string{}, IncomeData: []float64{}, ExpenseData: []float64{}}
	start, err := core.ParseLocalDate(startDate)
	if err != nil {
		return out
	}
	end, err := core.ParseLocalDate(endDate)
	if err != nil || end.Before(start) {
		return out
	}

	var income, expense core.Sum
	for _, b := range buckets(start, end) {
		for _, tx := range txs {
			d := day(tx.Date)
			if d < b.start || d > b.end {
				continue
			}
			if tx.Type == core.Income {
				income.Add(tx.Amount)
			} else {
				expense.Add(tx.Amount)
			}
		}
		out.Labels = append(out.Labels, b.label)
		out.IncomeData = append(out.IncomeData, income.Rounded())
		out.ExpenseData = append(out.ExpenseData, expense.Rounded())
	}
	return out
}

func buckets(start, end time.Time) []bucket {
	switch days := core.DaysBetween(start, end); {
	case days > monthlyAfterDays:
		return monthlyBuckets(start, end)
	case days > weeklyAfterDays:
		return weeklyBuckets(start, end)
	default:
		return dailyBuckets(start, end)
	}
}

func dailyBuckets(start, end time.Time) []bucket {
	var out []bucket
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		s := core.FormatLocalDate(d)
		out = append(out, bucket{label: strconv.Itoa(d.Day()), start: s, end: s})
	}
	return out
}

// weeklyBuckets counts weeks from start; the last one stops at end.
func weeklyBuckets(start, end time.Time) []bucket {
	var out []bucket
	for n, d := 1, start; !d.After(end); n, d = n+1, d.AddDate(0, 0, 7) {
		last := d.AddDate(0, 0, 6)
		if last.After(end) {
			last = end
		}
		out = append(out, bucket{
			label: "S" + strconv.Itoa(n),
			start: core.FormatLocalDate(d),
			end:   core.FormatLocalDate(last),
		})
	}
	return out
}

// monthlyBuckets covers whole calendar months from start's month to end's.
func monthlyBuckets(start, end time.Time) []bucket {
	var out []bucket
	for m := core.FirstOfMonth(start); !m.After(end); m = m.AddDate(0, 1, 0) {
		out = append(out, bucket{
			label: monthLabels[m.Month()-1],
			start: core.FormatLocalDate(m),
			end:   core.FormatLocalDate(m.AddDate(0, 1, -1)),
		})
	}
	return out
}

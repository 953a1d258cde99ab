package report

import "financas/internal/core"

// Report is everything the reports page needs for one set of filters.
type Report struct {
	Filters   Filters             `json:"filters"`
	Summary   Summary             `json:"summary"`
	Breakdown []CategoryBreakdown `json:"breakdown"`
	Timeline  Timeline            `json:"timeline"`
}

// Build filters txs and aggregates the result.
func Build(txs []core.Transaction, f Filters) Report {
	filtered := Filter(txs, f)
	return Report{
		Filters:   f,
		Summary:   Summarize(filtered),
		Breakdown: Breakdown(filtered),
		Timeline:  BuildTimeline(filtered, f.StartDate, f.EndDate),
	}
}

package executor

import "github.com/teemow/inboxpilot/internal/tools"

// Summary aggregates the outcome of a batch.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timedOut"`
	Skipped   int `json:"skipped"`
	Pending   int `json:"pending"`
}

// Summarize counts results by status.
func Summarize(results []tools.Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case tools.StatusSuccess:
			s.Succeeded++
		case tools.StatusTimeout:
			s.TimedOut++
		case tools.StatusSkipped:
			s.Skipped++
		case tools.StatusPending:
			s.Pending++
		default:
			s.Failed++
		}
	}
	return s
}

// Settled reports whether no result is pending.
func (s Summary) Settled() bool {
	return s.Pending == 0
}

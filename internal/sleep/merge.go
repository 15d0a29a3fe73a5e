package sleep

import (
	"sort"

	"github.com/hyperengineering/somnus/internal/types"
)

// MaxSummaries caps the stored history by insertion order.
const MaxSummaries = 90

// Merge applies one summary to the history, newest insertion first.
//
// A date without a record gets the summary prepended and the history capped
// to MaxSummaries. An existing record is replaced when the incoming summary is
// manual or the existing one is automatic; an automatic summary never
// replaces a manual one. Merge reports whether the history changed.
func Merge(history []types.SleepSummary, summary types.SleepSummary) ([]types.SleepSummary, bool) {
	for i, existing := range history {
		if existing.Date != summary.Date {
			continue
		}
		if summary.Source == types.SourceManual || existing.Source.IsAutomatic() {
			out := append([]types.SleepSummary(nil), history...)
			out[i] = summary
			return out, true
		}
		return history, false
	}

	out := make([]types.SleepSummary, 0, len(history)+1)
	out = append(out, summary)
	out = append(out, history...)
	if len(out) > MaxSummaries {
		out = out[:MaxSummaries]
	}
	return out, true
}

// Recent returns summaries dated on or after since, newest date first.
func Recent(history []types.SleepSummary, since string) []types.SleepSummary {
	out := []types.SleepSummary{}
	for _, s := range history {
		if s.Date >= since {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date > out[j].Date
	})
	return out
}

// ByDate returns the summary for date, or nil.
func ByDate(history []types.SleepSummary, date string) *types.SleepSummary {
	for i := range history {
		if history[i].Date == date {
			s := history[i]
			return &s
		}
	}
	return nil
}

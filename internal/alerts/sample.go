package alerts

import (
	"math"
	"sort"

	"github.com/hyperengineering/somnus/internal/types"
)

func latestLogs(logs []types.CheckIn, n int) []types.CheckIn {
	out := append([]types.CheckIn(nil), logs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func latestDreams(dreams []types.Dream, n int) []types.Dream {
	out := append([]types.Dream(nil), dreams...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// average is the mean of field over logs, counting missing values as 0.
func average(logs []types.CheckIn, field func(types.CheckIn) *float64) float64 {
	if len(logs) == 0 {
		return 0
	}
	var sum float64
	for _, l := range logs {
		if v, ok := numeric(field(l)); ok {
			sum += v
		}
	}
	return sum / float64(len(logs))
}

func numeric(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

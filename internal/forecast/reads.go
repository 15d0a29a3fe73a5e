package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hyperengineering/somnus/internal/store"
	"github.com/hyperengineering/somnus/internal/types"
)

// GetForecast returns the user's forecast with the given ID.
func (m *Manager) GetForecast(ctx context.Context, userID, id string) (*types.Forecast, error) {
	st, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := st.byID(id)
	if i < 0 {
		return nil, ErrForecastNotFound
	}
	f := st.Forecasts[i]
	return &f, nil
}

// GetForecastByDate returns the user's forecast for date.
func (m *Manager) GetForecastByDate(ctx context.Context, userID, date string) (*types.Forecast, error) {
	st, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := st.byDate(date)
	if i < 0 {
		return nil, ErrForecastNotFound
	}
	f := st.Forecasts[i]
	return &f, nil
}

// ListForecasts returns forecasts dated within the last days calendar days,
// newest first.
func (m *Manager) ListForecasts(ctx context.Context, userID string, days int) ([]types.Forecast, error) {
	st, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.inWindow(st, days), nil
}

// GetAverageAccuracy returns the mean accuracy of verified forecasts, 0 when
// none are verified.
func (m *Manager) GetAverageAccuracy(ctx context.Context, userID string) (float64, error) {
	st, err := m.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	history := st.accuracyHistory()
	if len(history) == 0 {
		return 0, nil
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	return sum / float64(len(history)), nil
}

// GetExperimentSummary compares the actual condition on days where at least
// half the suggestions were completed against the rest.
func (m *Manager) GetExperimentSummary(ctx context.Context, userID string, days int) (types.ExperimentSummary, error) {
	summary := types.ExperimentSummary{Days: days}

	st, err := m.load(ctx, userID)
	if err != nil {
		return summary, err
	}

	var highSum, lowSum float64
	for _, f := range m.inWindow(st, days) {
		if f.Actual == nil || len(f.Experiment.PlannedSuggestions) == 0 {
			continue
		}
		summary.SampleSize++
		if f.Experiment.CompletionRatePercent >= 50 {
			summary.HighCompletion.Count++
			highSum += f.Actual.Condition
		} else {
			summary.LowCompletion.Count++
			lowSum += f.Actual.Condition
		}
	}
	if summary.SampleSize == 0 {
		return summary, nil
	}

	var highAvg, lowAvg float64
	if summary.HighCompletion.Count > 0 {
		highAvg = highSum / float64(summary.HighCompletion.Count)
	}
	if summary.LowCompletion.Count > 0 {
		lowAvg = lowSum / float64(summary.LowCompletion.Count)
	}
	summary.HighCompletion.AvgActualCondition = round1(highAvg)
	summary.LowCompletion.AvgActualCondition = round1(lowAvg)
	summary.Improvement = round1(highAvg - lowAvg)
	return summary, nil
}

// GetReviewStats counts verified forecasts in the window by outcome.
func (m *Manager) GetReviewStats(ctx context.Context, userID string, days int) (types.ReviewStats, error) {
	stats := types.ReviewStats{Days: days}

	st, err := m.load(ctx, userID)
	if err != nil {
		return stats, err
	}

	for _, f := range m.inWindow(st, days) {
		if !f.Verified() {
			continue
		}
		stats.Total++
		switch f.Actual.Outcome {
		case types.OutcomeHit:
			stats.Hit++
		case types.OutcomeMiss:
			stats.Miss++
		default:
			stats.Partial++
		}
	}
	return stats, nil
}

func (m *Manager) inWindow(st *state, days int) []types.Forecast {
	since := types.WindowStart(m.now(), days)
	out := []types.Forecast{}
	for _, f := range st.Forecasts {
		if f.Date >= since {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

// ClearActualMutation returns a blob mutation that drops the verification of
// the forecast for date. It lets a history store clear the verification in
// the same transaction that deletes the check-in.
func ClearActualMutation(date string) store.BlobMutation {
	return func(data []byte) ([]byte, bool, error) {
		var st state
		if len(data) > 0 {
			if err := json.Unmarshal(data, &st); err != nil {
				return nil, false, fmt.Errorf("decode forecasts: %w: %v", store.ErrCorruptBlob, err)
			}
		}
		if !st.clearActual(date) {
			return data, false, nil
		}
		out, err := json.Marshal(st)
		if err != nil {
			return nil, false, fmt.Errorf("encode forecasts: %w", err)
		}
		return out, true, nil
	}
}

package forecast

import (
	"encoding/json"
	"log/slog"
	"math"
	"sort"

	"github.com/hyperengineering/somnus/internal/types"
)

// MaxForecasts caps the stored history by insertion order.
const MaxForecasts = 365

const schemaVersion = 1

// state is the persisted forecasts blob, newest insertion first.
type state struct {
	Forecasts []types.Forecast `json:"forecasts"`
}

// UnmarshalJSON skips records that no longer decode instead of failing the blob.
func (s *state) UnmarshalJSON(data []byte) error {
	var raw struct {
		Forecasts []json.RawMessage `json:"forecasts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Forecasts = make([]types.Forecast, 0, len(raw.Forecasts))
	for i, r := range raw.Forecasts {
		var f types.Forecast
		if err := json.Unmarshal(r, &f); err != nil || f.ID == "" || f.Date == "" {
			slog.Warn("skipping malformed forecast record",
				"component", "forecast",
				"index", i,
				"error", err,
			)
			continue
		}
		s.Forecasts = append(s.Forecasts, f)
	}
	return nil
}

func (s *state) byID(id string) int {
	for i := range s.Forecasts {
		if s.Forecasts[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *state) byDate(date string) int {
	for i := range s.Forecasts {
		if s.Forecasts[i].Date == date {
			return i
		}
	}
	return -1
}

// insert prepends f and caps the history.
func (s *state) insert(f types.Forecast) {
	out := make([]types.Forecast, 0, len(s.Forecasts)+1)
	out = append(out, f)
	out = append(out, s.Forecasts...)
	if len(out) > MaxForecasts {
		out = out[:MaxForecasts]
	}
	s.Forecasts = out
}

// clearActual drops the verification of the forecast for date.
func (s *state) clearActual(date string) bool {
	i := s.byDate(date)
	if i < 0 || (s.Forecasts[i].Actual == nil && s.Forecasts[i].AccuracyPercent == nil) {
		return false
	}
	s.Forecasts[i].Actual = nil
	s.Forecasts[i].AccuracyPercent = nil
	return true
}

// accuracyHistory returns verified accuracies ordered oldest date first.
func (s *state) accuracyHistory() []float64 {
	verified := make([]types.Forecast, 0, len(s.Forecasts))
	for _, f := range s.Forecasts {
		if f.Verified() {
			verified = append(verified, f)
		}
	}
	sort.SliceStable(verified, func(i, j int) bool {
		return verified[i].Date < verified[j].Date
	})
	out := make([]float64, len(verified))
	for i, f := range verified {
		out[i] = float64(*f.AccuracyPercent)
	}
	return out
}

// Accuracy scores how close the predicted condition came to the actual one.
func Accuracy(predicted, actual float64) int {
	return int(math.Max(0, math.Round(100-25*math.Abs(predicted-actual))))
}

// WasAccurate derives a correctness flag from the outcome, falling back to
// the numeric accuracy for partial outcomes.
func WasAccurate(outcome types.Outcome, accuracyPercent int) bool {
	switch outcome {
	case types.OutcomeHit:
		return true
	case types.OutcomeMiss:
		return false
	default:
		return accuracyPercent >= 75
	}
}

// CompletionRate returns the rounded share of planned suggestions completed.
func CompletionRate(completed, planned int) int {
	if planned <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(planned) * 100))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Package forecast manages the daily forecast life cycle: generation,
// verification against a later check-in, and suggestion tracking.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/hyperengineering/somnus/internal/confidence"
	"github.com/hyperengineering/somnus/internal/metrics"
	"github.com/hyperengineering/somnus/internal/predictor"
	"github.com/hyperengineering/somnus/internal/store"
	"github.com/hyperengineering/somnus/internal/types"
	"github.com/hyperengineering/somnus/internal/userlock"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"
)

// ErrForecastNotFound is returned when no forecast matches the ID or date.
var ErrForecastNotFound = errors.New("forecast not found")

// DefaultProviderTimeout bounds a single provider call.
const DefaultProviderTimeout = 20 * time.Second

const (
	fallbackSummary = "We couldn't prepare a personalised outlook today. Take it easy and check in tonight."

	markerTimeout   = "provider_timeout"
	markerMalformed = "provider_malformed_output"
	markerFailure   = "provider_unavailable"
)

var fallbackSuggestions = []string{
	"Take a short walk outside",
	"Drink a glass of water",
	"Write one line about how you feel tonight",
}

// SleepSource supplies sleep summaries for the sleep-signal score.
type SleepSource interface {
	GetSummaryByDate(ctx context.Context, userID, date string) (*types.SleepSummary, error)
	HasWearableData(ctx context.Context, userID string) (bool, error)
}

// StatsSource supplies provider call counts for the model-health score.
type StatsSource interface {
	Stats(ctx context.Context, userID string) (types.ProviderStats, error)
}

// VerificationReporter receives the derived correctness of each verification.
type VerificationReporter interface {
	ForecastVerified(ctx context.Context, userID string, f types.Forecast, wasAccurate bool)
}

// Config wires a Manager. Stats, Reporter and Metrics are optional.
type Config struct {
	Blobs           store.BlobStore
	Locks           *userlock.Locks
	Predictor       predictor.Predictor
	Sleep           SleepSource
	Stats           StatsSource
	Reporter        VerificationReporter
	Metrics         *metrics.Metrics
	ProviderTimeout time.Duration
	Now             func() time.Time
}

// Manager owns the forecasts blob of every user.
type Manager struct {
	blobs     store.BlobStore
	locks     *userlock.Locks
	predictor predictor.Predictor
	sleep     SleepSource
	stats     StatsSource
	reporter  VerificationReporter
	metrics   *metrics.Metrics
	timeout   time.Duration
	now       func() time.Time
	inflight  singleflight.Group
	logger    *slog.Logger
}

// NewManager creates a forecast manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		blobs:     cfg.Blobs,
		locks:     cfg.Locks,
		predictor: cfg.Predictor,
		sleep:     cfg.Sleep,
		stats:     cfg.Stats,
		reporter:  cfg.Reporter,
		metrics:   cfg.Metrics,
		timeout:   cfg.ProviderTimeout,
		now:       cfg.Now,
		logger:    slog.Default().With("component", "forecast"),
	}
	if m.locks == nil {
		m.locks = userlock.New()
	}
	if m.timeout <= 0 {
		m.timeout = DefaultProviderTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// GenerateForecast returns the user's forecast for date, creating it if
// needed. An empty date means today. Concurrent calls for the same user and
// date share one generation, and at most one forecast per date is ever
// stored. Provider failures produce a fallback forecast rather than an error;
// only storage failures are returned.
func (m *Manager) GenerateForecast(ctx context.Context, userID string, recentDreams []types.Dream, recentLogs []types.CheckIn, date string) (*types.Forecast, error) {
	if date == "" {
		date = types.DateKey(m.now())
	}

	if existing, err := m.GetForecastByDate(ctx, userID, date); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrForecastNotFound) {
		return nil, err
	}

	// The shared generation must outlive any single caller.
	work := context.WithoutCancel(ctx)
	v, err, shared := m.inflight.Do(userID+"|"+date, func() (any, error) {
		return m.generate(work, userID, recentDreams, recentLogs, date)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("joined in-flight forecast generation", "user_id", userID, "date", date)
	}

	f := v.(types.Forecast)
	return &f, nil
}

func (m *Manager) generate(ctx context.Context, userID string, dreams []types.Dream, logs []types.CheckIn, date string) (types.Forecast, error) {
	// A previous flight may have finished between the caller's check and now.
	if existing, err := m.GetForecastByDate(ctx, userID, date); err == nil {
		return *existing, nil
	}

	breakdown, err := m.PreviewConfidence(ctx, userID, dreams, logs, date)
	if err != nil {
		return types.Forecast{}, err
	}

	f := types.Forecast{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Date:      date,
		CreatedAt: m.now().UTC(),
	}

	out, perr := m.predict(ctx, userID, dreams, logs)
	if perr != nil {
		f.Prediction = types.Prediction{
			Condition:         3,
			ConfidencePercent: breakdown.Confidence,
			Summary:           fallbackSummary,
			Risks:             []string{},
			Suggestions:       append([]string(nil), fallbackSuggestions...),
		}
		f.Error = errorMarker(perr)
		m.logger.Warn("forecast provider failed, using fallback",
			"user_id", userID,
			"date", date,
			"marker", f.Error,
			"error", perr,
		)
	} else {
		f.Prediction = types.Prediction{
			Condition:                 out.Condition,
			ConfidencePercent:         breakdown.Confidence,
			ProviderConfidencePercent: out.ConfidencePercent,
			Summary:                   out.Summary,
			Risks:                     predictor.NonEmpty(out.Risks),
			Suggestions:               predictor.NonEmpty(out.Suggestions),
		}
	}
	f.Experiment = types.Experiment{
		PlannedSuggestions:    append([]string{}, f.Prediction.Suggestions...),
		CompletedSuggestions:  []string{},
		CompletionRatePercent: 0,
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	created := false
	stored := f
	_, err = store.Update(ctx, m.blobs, userID, store.BlobForecasts, schemaVersion, func(st *state) (bool, error) {
		if i := st.byDate(date); i >= 0 {
			stored = st.Forecasts[i]
			created = false
			return false, nil
		}
		st.insert(f)
		stored = f
		created = true
		return true, nil
	})
	if err != nil {
		return types.Forecast{}, fmt.Errorf("store forecast: %w", err)
	}

	if created {
		m.metrics.RecordForecastGenerated(perr != nil)
		m.logger.Info("forecast generated",
			"user_id", userID,
			"date", date,
			"forecast_id", stored.ID,
			"condition", stored.Prediction.Condition,
			"confidence", stored.Prediction.ConfidencePercent,
			"fallback", perr != nil,
		)
	}
	return stored, nil
}

func (m *Manager) predict(ctx context.Context, userID string, dreams []types.Dream, logs []types.CheckIn) (*predictor.Output, error) {
	if m.predictor == nil {
		return nil, errors.New("no forecast provider configured")
	}

	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	out, err := m.predictor.Predict(pctx, predictor.Input{
		UserID:       userID,
		RecentDreams: dreams,
		RecentLogs:   logs,
	})
	if err != nil {
		if pctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, err
	}
	if err := predictor.ValidateOutput(out); err != nil {
		return nil, err
	}
	return out, nil
}

func errorMarker(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return markerTimeout
	case errors.Is(err, predictor.ErrMalformedOutput):
		return markerMalformed
	default:
		return markerFailure
	}
}

// PreviewConfidence computes the confidence breakdown a forecast for date
// would get, without calling the provider.
func (m *Manager) PreviewConfidence(ctx context.Context, userID string, dreams []types.Dream, logs []types.CheckIn, date string) (confidence.Breakdown, error) {
	if date == "" {
		date = types.DateKey(m.now())
	}

	st, err := m.load(ctx, userID)
	if err != nil {
		return confidence.Breakdown{}, err
	}

	hasWearable := false
	var summary *types.SleepSummary
	if m.sleep != nil {
		if hasWearable, err = m.sleep.HasWearableData(ctx, userID); err != nil {
			m.logger.Warn("sleep lookup failed", "user_id", userID, "error", err)
			hasWearable = false
		}
		if summary, err = m.sleep.GetSummaryByDate(ctx, userID, date); err != nil {
			m.logger.Warn("sleep lookup failed", "user_id", userID, "error", err)
			summary = nil
		}
	}

	var model types.ProviderStats
	if m.stats != nil {
		if model, err = m.stats.Stats(ctx, userID); err != nil {
			m.logger.Warn("provider stats lookup failed", "user_id", userID, "error", err)
			model = types.ProviderStats{}
		}
	}

	sleepIn := sleepInput(summary, logs)
	return confidence.Evaluate(
		&confidence.DataInput{
			DreamCount:      len(dreams),
			CheckInCount:    len(logs),
			HasWearableData: hasWearable,
		},
		&sleepIn,
		&confidence.ConsistencyInput{AccuracyHistory: st.accuracyHistory()},
		&confidence.ModelInput{
			TotalRequests:  model.TotalRequests,
			FailedRequests: model.FailedRequests,
			RetryRequests:  model.RetryRequests,
		},
	), nil
}

// sleepInput prefers the day's sleep summary and falls back to the latest
// check-in that reported a sleep duration.
func sleepInput(summary *types.SleepSummary, logs []types.CheckIn) confidence.SleepInput {
	if summary != nil {
		return confidence.SleepInput{
			IsManualInput:     !summary.Source.IsAutomatic(),
			TotalSleepMinutes: summary.TotalSleepMinutes,
			REMMinutes:        summary.REMMinutes,
			DeepMinutes:       summary.DeepMinutes,
			HRVMs:             summary.HRVMs,
		}
	}

	sorted := append([]types.CheckIn(nil), logs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date > sorted[j].Date })
	for _, l := range sorted {
		if d := l.SleepDurationMinutes; d != nil && !math.IsNaN(*d) && *d > 0 {
			return confidence.SleepInput{IsManualInput: true, TotalSleepMinutes: d}
		}
	}
	return confidence.SleepInput{IsManualInput: true}
}

// ActualInput is a self-reported verification. A nil Condition makes
// RecordActual a no-op.
type ActualInput struct {
	Condition *float64      `json:"condition"`
	Emotions  []string      `json:"emotions"`
	Outcome   types.Outcome `json:"outcome"`
	Reasons   []string      `json:"reasons"`
}

// RecordActual verifies a forecast, replacing any earlier verification. A
// missing or non-finite condition leaves the forecast unchanged.
func (m *Manager) RecordActual(ctx context.Context, userID, forecastID string, in ActualInput) (*types.Forecast, error) {
	numeric := in.Condition != nil && !math.IsNaN(*in.Condition) && !math.IsInf(*in.Condition, 0)

	outcome := in.Outcome
	switch outcome {
	case types.OutcomeHit, types.OutcomeMiss, types.OutcomePartial:
	default:
		outcome = types.OutcomePartial
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	var result types.Forecast
	found := false
	_, err := store.Update(ctx, m.blobs, userID, store.BlobForecasts, schemaVersion, func(st *state) (bool, error) {
		i := st.byID(forecastID)
		if i < 0 {
			found = false
			return false, nil
		}
		found = true
		if !numeric {
			result = st.Forecasts[i]
			return false, nil
		}

		f := &st.Forecasts[i]
		accuracy := Accuracy(f.Prediction.Condition, *in.Condition)
		f.Actual = &types.Actual{
			Condition:  *in.Condition,
			Emotions:   append([]string{}, in.Emotions...),
			Outcome:    outcome,
			Reasons:    append([]string{}, in.Reasons...),
			RecordedAt: m.now().UTC(),
		}
		f.AccuracyPercent = &accuracy
		result = *f
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record actual: %w", err)
	}
	if !found {
		return nil, ErrForecastNotFound
	}
	if !numeric {
		return &result, nil
	}

	wasAccurate := WasAccurate(outcome, *result.AccuracyPercent)
	m.metrics.RecordForecastVerified(*result.AccuracyPercent, wasAccurate)
	m.logger.Info("forecast verified",
		"user_id", userID,
		"forecast_id", forecastID,
		"accuracy_percent", *result.AccuracyPercent,
		"outcome", outcome,
		"was_accurate", wasAccurate,
	)
	if m.reporter != nil {
		m.reporter.ForecastVerified(ctx, userID, result, wasAccurate)
	}
	return &result, nil
}

// ToggleActionSuggestion flips suggestion in or out of the completed set. A
// suggestion that was never planned leaves the forecast unchanged.
func (m *Manager) ToggleActionSuggestion(ctx context.Context, userID, forecastID, suggestion string) (*types.Forecast, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	var result types.Forecast
	found := false
	_, err := store.Update(ctx, m.blobs, userID, store.BlobForecasts, schemaVersion, func(st *state) (bool, error) {
		i := st.byID(forecastID)
		if i < 0 {
			found = false
			return false, nil
		}
		found = true

		e := &st.Forecasts[i].Experiment
		if !contains(e.PlannedSuggestions, suggestion) {
			result = st.Forecasts[i]
			return false, nil
		}

		if contains(e.CompletedSuggestions, suggestion) {
			e.CompletedSuggestions = remove(e.CompletedSuggestions, suggestion)
		} else {
			e.CompletedSuggestions = append(e.CompletedSuggestions, suggestion)
		}
		e.CompletionRatePercent = CompletionRate(len(e.CompletedSuggestions), len(e.PlannedSuggestions))
		result = st.Forecasts[i]
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("toggle suggestion: %w", err)
	}
	if !found {
		return nil, ErrForecastNotFound
	}
	return &result, nil
}

// ClearActualForDate removes the verification of the user's forecast for
// date. Used when the check-in that verified it is deleted.
func (m *Manager) ClearActualForDate(ctx context.Context, userID, date string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	_, err := store.Update(ctx, m.blobs, userID, store.BlobForecasts, schemaVersion, func(st *state) (bool, error) {
		return st.clearActual(date), nil
	})
	if err != nil {
		return fmt.Errorf("clear actual: %w", err)
	}
	return nil
}

// Locks returns the per-user locks guarding forecast writes.
func (m *Manager) Locks() *userlock.Locks {
	return m.locks
}

func (m *Manager) load(ctx context.Context, userID string) (*state, error) {
	var st state
	if _, err := store.Load(ctx, m.blobs, userID, store.BlobForecasts, &st); err != nil {
		return nil, fmt.Errorf("load forecasts: %w", err)
	}
	return &st, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

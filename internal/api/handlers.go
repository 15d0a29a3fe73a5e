package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/somnus/internal/alerts"
	"github.com/hyperengineering/somnus/internal/confidence"
	"github.com/hyperengineering/somnus/internal/forecast"
	"github.com/hyperengineering/somnus/internal/goals"
	"github.com/hyperengineering/somnus/internal/metrics"
	"github.com/hyperengineering/somnus/internal/types"
	"github.com/hyperengineering/somnus/internal/validation"
)

const (
	maxBodyBytes = 1 << 20

	maxWindowDays         = 365
	defaultSleepDays      = 7
	defaultForecastDays   = 30
	defaultAlertDays      = 14
	defaultHistoryDays    = 14
	maxGoalLookbackDays   = 90
	defaultCoverageWindow = 7
)

// Journal is the dream and check-in surface the handlers need.
type Journal interface {
	Today() string
	AddDream(ctx context.Context, userID string, dream types.Dream, analyze bool) (*types.Dream, error)
	UpsertCheckIn(ctx context.Context, userID string, checkIn types.CheckIn) (*types.CheckIn, error)
	DeleteCheckIn(ctx context.Context, userID, date string) error
	History(ctx context.Context, userID string, days int) ([]types.Dream, []types.CheckIn, error)
}

// SleepStore is the sleep summary surface the handlers need.
type SleepStore interface {
	SetSleepSummary(ctx context.Context, userID string, summary types.SleepSummary) (bool, error)
	GetSummaryByDate(ctx context.Context, userID, date string) (*types.SleepSummary, error)
	GetTodaySummary(ctx context.Context, userID string) (*types.SleepSummary, error)
	GetRecentSummaries(ctx context.Context, userID string, days int) ([]types.SleepSummary, error)
	GetCoverage(ctx context.Context, userID string, days int) (int, error)
	HasWearableData(ctx context.Context, userID string) (bool, error)
}

// Forecasts is the forecast surface the handlers need.
type Forecasts interface {
	GenerateForecast(ctx context.Context, userID string, dreams []types.Dream, logs []types.CheckIn, date string) (*types.Forecast, error)
	PreviewConfidence(ctx context.Context, userID string, dreams []types.Dream, logs []types.CheckIn, date string) (confidence.Breakdown, error)
	GetForecast(ctx context.Context, userID, id string) (*types.Forecast, error)
	ListForecasts(ctx context.Context, userID string, days int) ([]types.Forecast, error)
	GetAverageAccuracy(ctx context.Context, userID string) (float64, error)
	GetReviewStats(ctx context.Context, userID string, days int) (types.ReviewStats, error)
	GetExperimentSummary(ctx context.Context, userID string, days int) (types.ExperimentSummary, error)
	RecordActual(ctx context.Context, userID, forecastID string, in forecast.ActualInput) (*types.Forecast, error)
	ToggleActionSuggestion(ctx context.Context, userID, forecastID, suggestion string) (*types.Forecast, error)
}

// Goals is the weekly goal surface the handlers need.
type Goals interface {
	GetGoals(ctx context.Context, userID string) (types.WeeklyGoal, error)
	UpdateGoals(ctx context.Context, userID string, update types.GoalUpdate) (types.WeeklyGoal, error)
	GetWeeklyProgress(ctx context.Context, userID string, logs []types.CheckIn, dreams []types.Dream) (types.WeeklyProgress, error)
	GetSuggestedGoals(ctx context.Context, userID string, logs []types.CheckIn, dreams []types.Dream, lookbackDays int) (types.SuggestedGoals, error)
	ApplySuggestedGoals(ctx context.Context, userID string, logs []types.CheckIn, dreams []types.Dream, lookbackDays int) (types.WeeklyGoal, error)
}

// HandlerConfig wires a Handler. Detector, Metrics and Limiter are optional.
type HandlerConfig struct {
	Journal       Journal
	Sleep         SleepStore
	Forecasts     Forecasts
	Goals         Goals
	Detector      *alerts.Detector
	Metrics       *metrics.Metrics
	Limiter       *UserRateLimiter
	APIKey        string
	Version       string
	ProviderModel string
	BlobBackend   string
	// HistoryDays is the dream and check-in window fed to forecasting.
	HistoryDays int
}

// Handler implements the API handlers
type Handler struct {
	journal       Journal
	sleep         SleepStore
	forecasts     Forecasts
	goals         Goals
	detector      *alerts.Detector
	metrics       *metrics.Metrics
	limiter       *UserRateLimiter
	apiKey        string
	version       string
	providerModel string
	blobBackend   string
	historyDays   int
}

// NewHandler creates a Handler from its collaborators.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		journal:       cfg.Journal,
		sleep:         cfg.Sleep,
		forecasts:     cfg.Forecasts,
		goals:         cfg.Goals,
		detector:      cfg.Detector,
		metrics:       cfg.Metrics,
		limiter:       cfg.Limiter,
		apiKey:        cfg.APIKey,
		version:       cfg.Version,
		providerModel: cfg.ProviderModel,
		blobBackend:   cfg.BlobBackend,
		historyDays:   cfg.HistoryDays,
	}
	if h.detector == nil {
		h.detector = alerts.NewDetector(nil)
	}
	if h.historyDays <= 0 {
		h.historyDays = defaultHistoryDays
	}
	return h
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		ProviderModel: h.providerModel,
		BlobBackend:   h.blobBackend,
	})
}

// AddDream handles POST /api/v1/users/{userID}/dreams
func (h *Handler) AddDream(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	analyze, err := queryBool(r, "analyze")
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var dream types.Dream
	if !decodeJSON(w, r, &dream) {
		return
	}
	if dream.Date == "" {
		dream.Date = h.journal.Today()
	}
	if errs := validation.Dream(dream); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Dream contains invalid fields", errs)
		return
	}

	stored, err := h.journal.AddDream(r.Context(), userID, dream, analyze)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// UpsertCheckIn handles POST /api/v1/users/{userID}/checkins
func (h *Handler) UpsertCheckIn(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	var checkIn types.CheckIn
	if !decodeJSON(w, r, &checkIn) {
		return
	}
	if checkIn.Date == "" {
		checkIn.Date = h.journal.Today()
	}
	if errs := validation.CheckIn(checkIn); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Check-in contains invalid fields", errs)
		return
	}

	stored, err := h.journal.UpsertCheckIn(r.Context(), userID, checkIn)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// DeleteCheckIn handles DELETE /api/v1/users/{userID}/checkins/{date}
func (h *Handler) DeleteCheckIn(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	if err := h.journal.DeleteCheckIn(r.Context(), userID, date); err != nil {
		MapError(w, r, err)
		return
	}

	slog.Info("check-in deleted", "component", "api", "user_id", userID, "date", date)
	w.WriteHeader(http.StatusNoContent)
}

// PutSleep handles PUT /api/v1/users/{userID}/sleep
func (h *Handler) PutSleep(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	var summary types.SleepSummary
	if !decodeJSON(w, r, &summary) {
		return
	}
	if errs := validation.SleepSummary(summary); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Sleep summary contains invalid fields", errs)
		return
	}

	applied, err := h.sleep.SetSleepSummary(r.Context(), userID, summary)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SleepWriteResponse{Applied: applied, Summary: summary})
}

// ListSleep handles GET /api/v1/users/{userID}/sleep
func (h *Handler) ListSleep(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	days, ok := queryDays(w, r, "days", defaultSleepDays, maxWindowDays)
	if !ok {
		return
	}
	summaries, err := h.sleep.GetRecentSummaries(r.Context(), userID, days)
	if err != nil {
		MapError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []types.SleepSummary{}
	}
	writeJSON(w, http.StatusOK, types.SleepListResponse{Summaries: summaries})
}

// TodaySleep handles GET /api/v1/users/{userID}/sleep/today
func (h *Handler) TodaySleep(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	summary, err := h.sleep.GetTodaySummary(r.Context(), userID)
	if err != nil {
		MapError(w, r, err)
		return
	}
	if summary == nil {
		WriteProblem(w, r, http.StatusNotFound, "No sleep summary for today")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// SleepByDate handles GET /api/v1/users/{userID}/sleep/{date}
func (h *Handler) SleepByDate(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	summary, err := h.sleep.GetSummaryByDate(r.Context(), userID, date)
	if err != nil {
		MapError(w, r, err)
		return
	}
	if summary == nil {
		WriteProblem(w, r, http.StatusNotFound, "No sleep summary for "+date)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// SleepCoverage handles GET /api/v1/users/{userID}/sleep/coverage
func (h *Handler) SleepCoverage(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	days, ok := queryDays(w, r, "days", defaultCoverageWindow, maxWindowDays)
	if !ok {
		return
	}
	coverage, err := h.sleep.GetCoverage(r.Context(), userID, days)
	if err != nil {
		MapError(w, r, err)
		return
	}
	wearable, err := h.sleep.HasWearableData(r.Context(), userID)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SleepCoverageResponse{
		Days:            days,
		CoveragePercent: coverage,
		HasWearableData: wearable,
	})
}

// GenerateForecast handles POST /api/v1/users/{userID}/forecasts
func (h *Handler) GenerateForecast(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	var req types.GenerateForecastRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Forecast request contains invalid fields", errs)
		return
	}

	dreams, logs, err := h.journal.History(r.Context(), userID, h.historyDays)
	if err != nil {
		MapError(w, r, err)
		return
	}
	f, err := h.forecasts.GenerateForecast(r.Context(), userID, dreams, logs, req.Date)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// ListForecasts handles GET /api/v1/users/{userID}/forecasts
func (h *Handler) ListForecasts(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	days, ok := queryDays(w, r, "days", defaultForecastDays, maxWindowDays)
	if !ok {
		return
	}
	forecasts, err := h.forecasts.ListForecasts(r.Context(), userID, days)
	if err != nil {
		MapError(w, r, err)
		return
	}
	if forecasts == nil {
		forecasts = []types.Forecast{}
	}
	writeJSON(w, http.StatusOK, types.ForecastListResponse{Forecasts: forecasts})
}

// PreviewConfidence handles GET /api/v1/users/{userID}/forecasts/confidence
func (h *Handler) PreviewConfidence(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	date := r.URL.Query().Get("date")
	if date != "" {
		if err := validation.ValidateDate("date", date); err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid date: "+err.Message)
			return
		}
	}

	dreams, logs, err := h.journal.History(r.Context(), userID, h.historyDays)
	if err != nil {
		MapError(w, r, err)
		return
	}
	breakdown, err := h.forecasts.PreviewConfidence(r.Context(), userID, dreams, logs, date)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// ForecastStats handles GET /api/v1/users/{userID}/forecasts/stats
func (h *Handler) ForecastStats(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())
	ctx := r.Context()

	days, ok := queryDays(w, r, "days", defaultForecastDays, maxWindowDays)
	if !ok {
		return
	}

	avg, err := h.forecasts.GetAverageAccuracy(ctx, userID)
	if err != nil {
		MapError(w, r, err)
		return
	}
	review, err := h.forecasts.GetReviewStats(ctx, userID, days)
	if err != nil {
		MapError(w, r, err)
		return
	}
	experiment, err := h.forecasts.GetExperimentSummary(ctx, userID, days)
	if err != nil {
		MapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.ForecastStatsResponse{
		Days:            days,
		AverageAccuracy: avg,
		Review:          review,
		Experiment:      experiment,
	})
}

// GetForecast handles GET /api/v1/users/{userID}/forecasts/{id}
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())
	id, ok := pathForecastID(w, r)
	if !ok {
		return
	}

	f, err := h.forecasts.GetForecast(r.Context(), userID, id)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// RecordActual handles POST /api/v1/users/{userID}/forecasts/{id}/actual
func (h *Handler) RecordActual(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())
	id, ok := pathForecastID(w, r)
	if !ok {
		return
	}

	var in forecast.ActualInput
	if !decodeJSON(w, r, &in) {
		return
	}

	var c validation.Collector
	c.Add(validation.ValidateFinite("condition", in.Condition))
	if in.Condition != nil {
		c.Add(validation.ValidateRange("condition", *in.Condition, 1, 5))
	}
	if in.Outcome != "" {
		c.Add(validation.ValidateEnum("outcome", string(in.Outcome), []string{
			string(types.OutcomeHit), string(types.OutcomeMiss), string(types.OutcomePartial),
		}))
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Actual outcome contains invalid fields", c.Errors())
		return
	}

	f, err := h.forecasts.RecordActual(r.Context(), userID, id, in)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// ToggleSuggestion handles POST /api/v1/users/{userID}/forecasts/{id}/suggestions/toggle
func (h *Handler) ToggleSuggestion(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())
	id, ok := pathForecastID(w, r)
	if !ok {
		return
	}

	var req types.ToggleSuggestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.Struct(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Toggle request contains invalid fields", errs)
		return
	}

	f, err := h.forecasts.ToggleActionSuggestion(r.Context(), userID, id, req.Suggestion)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Alerts handles GET /api/v1/users/{userID}/alerts
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	dreams, logs, err := h.journal.History(r.Context(), userID, defaultAlertDays)
	if err != nil {
		MapError(w, r, err)
		return
	}

	found := h.detector.Detect(logs, dreams)
	for _, a := range found {
		h.metrics.RecordAlert(string(a.ID), string(a.Severity))
	}
	writeJSON(w, http.StatusOK, types.AlertsResponse{
		Alerts:  found,
		Summary: alerts.Summarize(found),
	})
}

// GetGoals handles GET /api/v1/users/{userID}/goals
func (h *Handler) GetGoals(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	goal, err := h.goals.GetGoals(r.Context(), userID)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

// UpdateGoals handles PUT /api/v1/users/{userID}/goals
func (h *Handler) UpdateGoals(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	var update types.GoalUpdate
	if !decodeJSON(w, r, &update) {
		return
	}

	goal, err := h.goals.UpdateGoals(r.Context(), userID, update)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

// GoalProgress handles GET /api/v1/users/{userID}/goals/progress
func (h *Handler) GoalProgress(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	dreams, logs, err := h.journal.History(r.Context(), userID, goals.DefaultLookbackDays)
	if err != nil {
		MapError(w, r, err)
		return
	}
	progress, err := h.goals.GetWeeklyProgress(r.Context(), userID, logs, dreams)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// SuggestedGoals handles GET /api/v1/users/{userID}/goals/suggested
func (h *Handler) SuggestedGoals(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	lookback, ok := queryDays(w, r, "lookback", goals.DefaultLookbackDays, maxGoalLookbackDays)
	if !ok {
		return
	}
	dreams, logs, err := h.journal.History(r.Context(), userID, lookback)
	if err != nil {
		MapError(w, r, err)
		return
	}
	suggestion, err := h.goals.GetSuggestedGoals(r.Context(), userID, logs, dreams, lookback)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

// ApplySuggestedGoals handles POST /api/v1/users/{userID}/goals/apply
func (h *Handler) ApplySuggestedGoals(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	lookback, ok := queryDays(w, r, "lookback", goals.DefaultLookbackDays, maxGoalLookbackDays)
	if !ok {
		return
	}
	dreams, logs, err := h.journal.History(r.Context(), userID, lookback)
	if err != nil {
		MapError(w, r, err)
		return
	}
	goal, err := h.goals.ApplySuggestedGoals(r.Context(), userID, logs, dreams, lookback)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// decodeJSON decodes the request body into v, writing a 400 problem and
// returning false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
	return false
}

// queryDays parses a positive integer window from the query string.
func queryDays(w http.ResponseWriter, r *http.Request, name string, def, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("%s must be an integer between 1 and %d", name, max))
		return 0, false
	}
	return n, true
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b, nil
}

// pathDate reads and validates the {date} path segment.
func pathDate(w http.ResponseWriter, r *http.Request) (string, bool) {
	date := chi.URLParam(r, "date")
	if err := validation.ValidateDate("date", date); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid date: "+err.Message)
		return "", false
	}
	return date, true
}

func pathForecastID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateULID("id", id); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid forecast ID: "+err.Message)
		return "", false
	}
	return id, true
}

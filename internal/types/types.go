package types

import (
	"encoding/json"
	"time"
)

// DateLayout is the calendar-day key format used for every dated record.
const DateLayout = "2006-01-02"

// DateKey returns the calendar-day key for t in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// WindowStart returns the first calendar day of an n-day window ending on the
// day of now (inclusive). Windows shorter than one day collapse to today.
func WindowStart(now time.Time, days int) string {
	if days < 1 {
		days = 1
	}
	return DateKey(now.AddDate(0, 0, -(days - 1)))
}

// SleepSource identifies where a sleep summary came from.
type SleepSource string

const (
	SourceManual        SleepSource = "manual"
	SourceHealthKit     SleepSource = "healthkit"
	SourceHealthConnect SleepSource = "health_connect"
)

// IsAutomatic reports whether the source is a wearable integration.
func (s SleepSource) IsAutomatic() bool {
	return s != SourceManual
}

// SleepSummary is one night of sleep for a calendar day.
type SleepSummary struct {
	Date              string      `json:"date" validate:"required,datetime=2006-01-02"`
	TotalSleepMinutes *float64    `json:"total_sleep_minutes,omitempty" validate:"omitempty,gte=0"`
	SleepQualityScore *float64    `json:"sleep_quality_score,omitempty" validate:"omitempty,gte=0,lte=10"`
	REMMinutes        *float64    `json:"rem_minutes,omitempty" validate:"omitempty,gte=0"`
	DeepMinutes       *float64    `json:"deep_minutes,omitempty" validate:"omitempty,gte=0"`
	HRVMs             *float64    `json:"hrv_ms,omitempty" validate:"omitempty,gte=0"`
	Source            SleepSource `json:"source" validate:"required,oneof=manual healthkit health_connect"`
	FetchedAt         time.Time   `json:"fetched_at"`
}

// Dream is a journaled dream entry.
type Dream struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Date           string    `json:"date" validate:"required,datetime=2006-01-02"`
	Content        string    `json:"content" validate:"required,max=8000"`
	Emotions       []string  `json:"emotions"`
	Themes         []string  `json:"themes"`
	Symbols        []string  `json:"symbols"`
	Intensity      *float64  `json:"intensity,omitempty" validate:"omitempty,gte=0,lte=10"`
	Interpretation string    `json:"interpretation,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CheckIn is the daily self-report ("log") for a calendar day.
type CheckIn struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Date                 string    `json:"date" validate:"required,datetime=2006-01-02"`
	Condition            *float64  `json:"condition,omitempty" validate:"omitempty,gte=1,lte=5"`
	StressLevel          *float64  `json:"stress_level,omitempty" validate:"omitempty,gte=1,lte=5"`
	SleepDurationMinutes *float64  `json:"sleep_duration_minutes,omitempty" validate:"omitempty,gte=0,lte=1440"`
	Emotions             []string  `json:"emotions"`
	Note                 string    `json:"note,omitempty" validate:"max=4000"`
	CreatedAt            time.Time `json:"created_at"`
}

// Outcome classifies how a forecast turned out.
type Outcome string

const (
	OutcomeHit     Outcome = "hit"
	OutcomeMiss    Outcome = "miss"
	OutcomePartial Outcome = "partial"
)

// Prediction is the forecasted outlook for a day.
type Prediction struct {
	Condition                 float64  `json:"condition"`
	ConfidencePercent         int      `json:"confidence_percent"`
	ProviderConfidencePercent *int     `json:"provider_confidence_percent,omitempty"`
	Summary                   string   `json:"summary"`
	Risks                     []string `json:"risks"`
	Suggestions               []string `json:"suggestions"`
}

// Actual is the self-reported verification of a forecast.
type Actual struct {
	Condition  float64   `json:"condition"`
	Emotions   []string  `json:"emotions"`
	Outcome    Outcome   `json:"outcome"`
	Reasons    []string  `json:"reasons"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Experiment tracks which suggested actions the user carried out.
type Experiment struct {
	PlannedSuggestions    []string `json:"planned_suggestions"`
	CompletedSuggestions  []string `json:"completed_suggestions"`
	CompletionRatePercent int      `json:"completion_rate_percent"`
}

// Forecast is a single daily prediction record.
type Forecast struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Date            string     `json:"date"`
	Prediction      Prediction `json:"prediction"`
	Actual          *Actual    `json:"actual"`
	AccuracyPercent *int       `json:"accuracy_percent"`
	Experiment      Experiment `json:"experiment"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Verified reports whether an actual outcome has been recorded.
func (f *Forecast) Verified() bool {
	return f.Actual != nil && f.AccuracyPercent != nil
}

// Severity ranks a pattern alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Weight returns the sort weight of a severity (high=3, medium=2, low=1).
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AlertID names a pattern alert rule.
type AlertID string

const (
	AlertConditionDrop    AlertID = "condition-drop"
	AlertStressSpike      AlertID = "stress-spike"
	AlertSleepDeficit     AlertID = "sleep-deficit"
	AlertNightmarePattern AlertID = "nightmare-pattern"
	AlertCompoundRisk     AlertID = "compound-risk"
)

// PatternAlert is an ephemeral, rule-derived warning. Never persisted.
type PatternAlert struct {
	ID             AlertID  `json:"id"`
	Severity       Severity `json:"severity"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
}

// AlertSummary is the one-line digest of an alert evaluation.
type AlertSummary struct {
	HasAlert bool     `json:"has_alert"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// WeeklyGoal holds the user's weekly targets.
type WeeklyGoal struct {
	CheckInDaysTarget   float64 `json:"check_in_days_target"`
	DreamCountTarget    float64 `json:"dream_count_target"`
	AvgSleepHoursTarget float64 `json:"avg_sleep_hours_target"`
}

// GoalUpdate carries a partial goal change. Nil fields keep their value.
type GoalUpdate struct {
	CheckInDaysTarget   *float64 `json:"check_in_days_target,omitempty"`
	DreamCountTarget    *float64 `json:"dream_count_target,omitempty"`
	AvgSleepHoursTarget *float64 `json:"avg_sleep_hours_target,omitempty"`
}

// MetricProgress is progress for one goal metric.
type MetricProgress struct {
	Current  float64 `json:"current"`
	Target   float64 `json:"target"`
	Rate     int     `json:"rate"`
	Achieved bool    `json:"achieved"`
}

// WeeklyProgress is goal progress over the trailing 7-day window.
type WeeklyProgress struct {
	WindowStart   string         `json:"window_start"`
	WindowEnd     string         `json:"window_end"`
	CheckInDays   MetricProgress `json:"check_in_days"`
	DreamCount    MetricProgress `json:"dream_count"`
	AvgSleepHours MetricProgress `json:"avg_sleep_hours"`
}

// ConfidenceTier qualifies a goal suggestion by sample size.
type ConfidenceTier string

const (
	TierLow    ConfidenceTier = "low"
	TierMedium ConfidenceTier = "medium"
	TierHigh   ConfidenceTier = "high"
)

// SuggestedGoals is an adaptive goal proposal.
type SuggestedGoals struct {
	LookbackDays     int            `json:"lookback_days"`
	WeeklyCheckInAvg float64        `json:"weekly_check_in_avg"`
	WeeklyDreamAvg   float64        `json:"weekly_dream_avg"`
	AvgSleepHours    float64        `json:"avg_sleep_hours"`
	Current          WeeklyGoal     `json:"current"`
	Suggested        WeeklyGoal     `json:"suggested"`
	SampleSize       int            `json:"sample_size"`
	Confidence       ConfidenceTier `json:"confidence"`
}

// ExperimentGroup aggregates forecasts on one side of the completion split.
type ExperimentGroup struct {
	Count              int     `json:"count"`
	AvgActualCondition float64 `json:"avg_actual_condition"`
}

// ExperimentSummary compares outcomes of days with high vs low suggestion completion.
type ExperimentSummary struct {
	Days           int             `json:"days"`
	SampleSize     int             `json:"sample_size"`
	HighCompletion ExperimentGroup `json:"high_completion"`
	LowCompletion  ExperimentGroup `json:"low_completion"`
	Improvement    float64         `json:"improvement"`
}

// ReviewStats counts verified forecasts by outcome.
type ReviewStats struct {
	Days    int `json:"days"`
	Total   int `json:"total"`
	Hit     int `json:"hit"`
	Miss    int `json:"miss"`
	Partial int `json:"partial"`
}

// ProviderStats counts prediction provider calls for model-health scoring.
type ProviderStats struct {
	TotalRequests  int `json:"total_requests"`
	FailedRequests int `json:"failed_requests"`
	RetryRequests  int `json:"retry_requests"`
}

// Blob is one versioned JSON document per (user, logical store).
type Blob struct {
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Version       int64     `json:"version"`
	SchemaVersion int       `json:"schema_version"`
	Data          []byte    `json:"-"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	ProviderModel string `json:"provider_model"`
	BlobBackend   string `json:"blob_backend"`
}

// SleepWriteResponse reports whether a sleep summary write was applied.
type SleepWriteResponse struct {
	Applied bool         `json:"applied"`
	Summary SleepSummary `json:"summary"`
}

// SleepListResponse wraps recent sleep summaries.
type SleepListResponse struct {
	Summaries []SleepSummary `json:"summaries"`
}

// SleepCoverageResponse reports how many recent days have sleep data.
type SleepCoverageResponse struct {
	Days            int  `json:"days"`
	CoveragePercent int  `json:"coverage_percent"`
	HasWearableData bool `json:"has_wearable_data"`
}

// GenerateForecastRequest optionally names the day to forecast.
type GenerateForecastRequest struct {
	Date string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// ForecastListResponse wraps a window of forecasts.
type ForecastListResponse struct {
	Forecasts []Forecast `json:"forecasts"`
}

// ForecastStatsResponse aggregates verification results over a window.
type ForecastStatsResponse struct {
	Days            int               `json:"days"`
	AverageAccuracy float64           `json:"average_accuracy"`
	Review          ReviewStats       `json:"review"`
	Experiment      ExperimentSummary `json:"experiment"`
}

// ToggleSuggestionRequest names the suggestion to mark done or undone.
type ToggleSuggestionRequest struct {
	Suggestion string `json:"suggestion" validate:"required,max=500"`
}

// AlertsResponse carries detected alerts and their digest.
type AlertsResponse struct {
	Alerts  []PatternAlert `json:"alerts"`
	Summary AlertSummary   `json:"summary"`
}

// MarshalJSON ensures nil slices in Dream marshal as [] not null.
func (d Dream) MarshalJSON() ([]byte, error) {
	if d.Emotions == nil {
		d.Emotions = []string{}
	}
	if d.Themes == nil {
		d.Themes = []string{}
	}
	if d.Symbols == nil {
		d.Symbols = []string{}
	}
	type Alias Dream
	return json.Marshal(Alias(d))
}

// MarshalJSON ensures nil slices in CheckIn marshal as [] not null.
func (c CheckIn) MarshalJSON() ([]byte, error) {
	if c.Emotions == nil {
		c.Emotions = []string{}
	}
	type Alias CheckIn
	return json.Marshal(Alias(c))
}

// MarshalJSON ensures nil slices in Prediction marshal as [] not null.
func (p Prediction) MarshalJSON() ([]byte, error) {
	if p.Risks == nil {
		p.Risks = []string{}
	}
	if p.Suggestions == nil {
		p.Suggestions = []string{}
	}
	type Alias Prediction
	return json.Marshal(Alias(p))
}

// MarshalJSON ensures nil slices in Experiment marshal as [] not null.
func (e Experiment) MarshalJSON() ([]byte, error) {
	if e.PlannedSuggestions == nil {
		e.PlannedSuggestions = []string{}
	}
	if e.CompletedSuggestions == nil {
		e.CompletedSuggestions = []string{}
	}
	type Alias Experiment
	return json.Marshal(Alias(e))
}

// MarshalJSON ensures nil slices in Actual marshal as [] not null.
func (a Actual) MarshalJSON() ([]byte, error) {
	if a.Emotions == nil {
		a.Emotions = []string{}
	}
	if a.Reasons == nil {
		a.Reasons = []string{}
	}
	type Alias Actual
	return json.Marshal(Alias(a))
}

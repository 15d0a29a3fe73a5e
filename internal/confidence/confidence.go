// Package confidence computes the 0–100 trust score attached to a forecast.
//
// Every function here is pure: no clock, no randomness, no I/O. Nil inputs
// are treated as empty objects so callers can pass whatever history they have.
package confidence

import "math"

// Weights of each sub-score, in percent.
const (
	weightDataCompleteness   = 40
	weightSleepSignalQuality = 35
	weightConsistency        = 15
	weightModelHealth        = 10
)

// maxAccuracyHistory bounds how many verified accuracies feed consistency.
const maxAccuracyHistory = 30

// DataInput describes how much journal history backs a forecast.
type DataInput struct {
	DreamCount      int  `json:"dream_count"`
	CheckInCount    int  `json:"check_in_count"`
	HasWearableData bool `json:"has_wearable_data"`
}

// SleepInput describes last night's sleep signal. Nil pointers are missing values.
type SleepInput struct {
	IsManualInput     bool     `json:"is_manual_input"`
	TotalSleepMinutes *float64 `json:"total_sleep_minutes,omitempty"`
	REMMinutes        *float64 `json:"rem_minutes,omitempty"`
	DeepMinutes       *float64 `json:"deep_minutes,omitempty"`
	HRVMs             *float64 `json:"hrv_ms,omitempty"`
}

// ConsistencyInput carries past accuracy percentages, oldest first.
type ConsistencyInput struct {
	AccuracyHistory []float64 `json:"accuracy_history"`
}

// ModelInput carries prediction provider call counts.
type ModelInput struct {
	TotalRequests  int `json:"total_requests"`
	FailedRequests int `json:"failed_requests"`
	RetryRequests  int `json:"retry_requests"`
}

// Breakdown reports each sub-score next to the final confidence.
type Breakdown struct {
	DataCompleteness   float64 `json:"data_completeness"`
	SleepSignalQuality float64 `json:"sleep_signal_quality"`
	ConsistencyScore   float64 `json:"consistency_score"`
	ModelHealth        float64 `json:"model_health"`
	Confidence         int     `json:"confidence"`
}

// Confidence returns the weighted trust score as an integer in [0,100].
func Confidence(data *DataInput, sleep *SleepInput, consistency *ConsistencyInput, model *ModelInput) int {
	return Evaluate(data, sleep, consistency, model).Confidence
}

// Evaluate computes all sub-scores and the final confidence.
func Evaluate(data *DataInput, sleep *SleepInput, consistency *ConsistencyInput, model *ModelInput) Breakdown {
	if data == nil {
		data = &DataInput{}
	}
	if sleep == nil {
		sleep = &SleepInput{}
	}
	if consistency == nil {
		consistency = &ConsistencyInput{}
	}
	if model == nil {
		model = &ModelInput{}
	}

	b := Breakdown{
		DataCompleteness:   DataCompleteness(data.DreamCount, data.CheckInCount, data.HasWearableData),
		SleepSignalQuality: SleepSignalQuality(*sleep),
		ConsistencyScore:   ConsistencyScore(consistency.AccuracyHistory),
		ModelHealth:        ModelHealth(model.TotalRequests, model.FailedRequests, model.RetryRequests),
	}

	// Integer weights over 100 keep .5 boundaries exact.
	weighted := (weightDataCompleteness*b.DataCompleteness +
		weightSleepSignalQuality*b.SleepSignalQuality +
		weightConsistency*b.ConsistencyScore +
		weightModelHealth*b.ModelHealth) / 100

	b.Confidence = int(math.Round(clamp(weighted, 0, 100)))
	return b
}

// DataCompleteness scores history volume: up to 30 for dreams (3 saturate),
// up to 50 for check-ins (5 saturate) and 20 for wearable data.
func DataCompleteness(dreamCount, checkInCount int, hasWearable bool) float64 {
	dreams := math.Max(0, float64(dreamCount))
	checkIns := math.Max(0, float64(checkInCount))

	score := math.Min(30, dreams/3*30) + math.Min(50, checkIns/5*50)
	if hasWearable {
		score += 20
	}
	return clamp(score, 0, 100)
}

// SleepSignalQuality scores the richness of the sleep signal. Manual input is
// judged on duration alone; automatic input sums duration, REM share, deep
// share and HRV sub-scores.
func SleepSignalQuality(in SleepInput) float64 {
	hours, hasDuration := positive(in.TotalSleepMinutes)
	hours /= 60

	if in.IsManualInput {
		switch {
		case !hasDuration:
			return 20
		case hours >= 7 && hours <= 9:
			return 60
		case (hours >= 6 && hours < 7) || (hours > 9 && hours <= 10):
			return 50
		default:
			return 30
		}
	}

	var score float64

	switch {
	case !hasDuration:
		// no duration, no points
	case hours >= 7 && hours <= 9:
		score += 40
	case (hours >= 6 && hours < 7) || (hours > 9 && hours <= 10):
		score += 30
	default:
		score += 15
	}

	score += stageScore(in.REMMinutes, in.TotalSleepMinutes, 18, 28, 15)
	score += stageScore(in.DeepMinutes, in.TotalSleepMinutes, 13, 23, 10)

	hrv, hasHRV := nonNegative(in.HRVMs)
	switch {
	case hasHRV && hrv >= 50:
		score += 20
	case hasHRV && hrv >= 30:
		score += 15
	default:
		score += 10
	}

	return clamp(score, 0, 100)
}

// stageScore awards 20 when the stage share of total sleep lies in
// [lo,hi], 15 in [fallback,lo), 10 otherwise or when unknown.
func stageScore(stage, total *float64, lo, hi, fallback float64) float64 {
	minutes, ok := nonNegative(stage)
	totalMinutes, hasTotal := positive(total)
	if !ok || !hasTotal {
		return 10
	}
	pct := minutes / totalMinutes * 100
	switch {
	case pct >= lo && pct <= hi:
		return 20
	case pct >= fallback && pct < lo:
		return 15
	default:
		return 10
	}
}

// ConsistencyScore rewards accurate and stable history. An empty history
// scores a neutral 50. Only the most recent 30 entries count.
func ConsistencyScore(accuracyHistory []float64) float64 {
	values := make([]float64, 0, len(accuracyHistory))
	for _, v := range accuracyHistory {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		values = append(values, v)
	}
	if len(values) > maxAccuracyHistory {
		values = values[len(values)-maxAccuracyHistory:]
	}
	if len(values) == 0 {
		return 50
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	stddev := math.Sqrt(variance / float64(len(values)))

	return clamp(avg+math.Max(0, 10-stddev/2), 0, 100)
}

// ModelHealth scores provider reliability. With no calls yet it scores 80.
func ModelHealth(totalRequests, failedRequests, retryRequests int) float64 {
	if totalRequests <= 0 {
		return 80
	}
	total := float64(totalRequests)
	failRate := math.Max(0, float64(failedRequests)) / total
	retryRate := math.Max(0, float64(retryRequests)) / total

	failScore := math.Max(50, 100-failRate*500)
	retryScore := math.Max(60, 100-retryRate*200)
	return clamp((failScore+retryScore)/2, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func nonNegative(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return 0, false
	}
	return *v, true
}

func positive(v *float64) (float64, bool) {
	f, ok := nonNegative(v)
	if !ok || f == 0 {
		return 0, false
	}
	return f, true
}

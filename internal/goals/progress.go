package goals

import (
	"math"

	"github.com/hyperengineering/somnus/internal/types"
)

const (
	progressWindowDays  = 7
	DefaultLookbackDays = 14
)

// Defaults are the targets for a user who never set goals.
var Defaults = types.WeeklyGoal{
	CheckInDaysTarget:   5,
	DreamCountTarget:    4,
	AvgSleepHoursTarget: 7,
}

// activity is the raw goal metrics over a date window.
type activity struct {
	checkInDays   int
	dreamCount    int
	avgSleepHours float64
}

// measure computes goal metrics for records dated within [start, end].
func measure(logs []types.CheckIn, dreams []types.Dream, start, end string) activity {
	days := make(map[string]struct{})
	var sleepSum float64
	sleepN := 0
	for _, l := range logs {
		if l.Date < start || l.Date > end {
			continue
		}
		days[l.Date] = struct{}{}
		if m := l.SleepDurationMinutes; m != nil && isDuration(*m) {
			sleepSum += *m / 60
			sleepN++
		}
	}

	dreamCount := 0
	for _, d := range dreams {
		if d.Date >= start && d.Date <= end {
			dreamCount++
		}
	}

	a := activity{checkInDays: len(days), dreamCount: dreamCount}
	if sleepN > 0 {
		a.avgSleepHours = round1(sleepSum / float64(sleepN))
	}
	return a
}

// Progress computes one metric's progress against target.
func Progress(current, target float64) types.MetricProgress {
	rate := 0
	if target > 0 {
		rate = int(math.Min(100, math.Round(current/target*100)))
	}
	return types.MetricProgress{
		Current:  current,
		Target:   target,
		Rate:     rate,
		Achieved: current >= target,
	}
}

// WeeklyProgress is the pure form of Engine.GetWeeklyProgress.
func WeeklyProgress(goal types.WeeklyGoal, logs []types.CheckIn, dreams []types.Dream, start, end string) types.WeeklyProgress {
	a := measure(logs, dreams, start, end)
	return types.WeeklyProgress{
		WindowStart:   start,
		WindowEnd:     end,
		CheckInDays:   Progress(float64(a.checkInDays), goal.CheckInDaysTarget),
		DreamCount:    Progress(float64(a.dreamCount), goal.DreamCountTarget),
		AvgSleepHours: Progress(a.avgSleepHours, goal.AvgSleepHoursTarget),
	}
}

// Suggest is the pure form of Engine.GetSuggestedGoals.
func Suggest(current types.WeeklyGoal, logs []types.CheckIn, dreams []types.Dream, start, end string, lookbackDays int) types.SuggestedGoals {
	a := measure(logs, dreams, start, end)

	weeklyCheckIns := math.Round(float64(a.checkInDays) / float64(lookbackDays) * 7)
	weeklyDreams := math.Round(float64(a.dreamCount) / float64(lookbackDays) * 7)

	sleepBase := a.avgSleepHours
	if sleepBase <= 0 {
		sleepBase = current.AvgSleepHoursTarget
	}

	sample := a.checkInDays + a.dreamCount
	return types.SuggestedGoals{
		LookbackDays:     lookbackDays,
		WeeklyCheckInAvg: weeklyCheckIns,
		WeeklyDreamAvg:   weeklyDreams,
		AvgSleepHours:    a.avgSleepHours,
		Current:          current,
		Suggested: types.WeeklyGoal{
			CheckInDaysTarget:   clamp(stretch(weeklyCheckIns, current.CheckInDaysTarget), 3, 7),
			DreamCountTarget:    clamp(stretch(weeklyDreams, current.DreamCountTarget), 2, 7),
			AvgSleepHoursTarget: clamp(round1(sleepBase+0.3), 6, 9),
		},
		SampleSize: sample,
		Confidence: Tier(sample),
	}
}

// Tier grades a suggestion by how many records backed it.
func Tier(sample int) types.ConfidenceTier {
	switch {
	case sample >= 10:
		return types.TierHigh
	case sample >= 5:
		return types.TierMedium
	default:
		return types.TierLow
	}
}

// stretch raises an already-met target by one.
func stretch(avg, target float64) float64 {
	if avg >= target {
		return avg + 1
	}
	return avg
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func isDuration(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func isPositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Package alerts flags deteriorating multi-signal trends in recent journal
// history. Alerts are recomputed on every call and never stored.
package alerts

import (
	"fmt"
	"sort"

	"github.com/hyperengineering/somnus/internal/types"
)

const (
	sampleLogs   = 3
	sampleDreams = 5
)

// NoAlertMessage is the summary message when nothing fired.
const NoAlertMessage = "No concerning patterns detected."

// Detector evaluates the alert rules.
type Detector struct {
	negative NegativeDreamDetector
}

// NewDetector creates a detector. A nil strategy uses the default keyword set.
func NewDetector(negative NegativeDreamDetector) *Detector {
	if negative == nil {
		negative = NewKeywordDetector(nil)
	}
	return &Detector{negative: negative}
}

// Detect evaluates every rule against the latest three check-ins and latest
// five dreams. Too little history yields no alerts, not an error. A compound
// alert leads when two or more rules fire; the rest are ordered by severity.
func (d *Detector) Detect(recentLogs []types.CheckIn, recentDreams []types.Dream) []types.PatternAlert {
	logs := latestLogs(recentLogs, sampleLogs)
	dreams := latestDreams(recentDreams, sampleDreams)

	var fired []types.PatternAlert
	for _, rule := range []func() *types.PatternAlert{
		func() *types.PatternAlert { return conditionDrop(logs) },
		func() *types.PatternAlert { return stressSpike(logs) },
		func() *types.PatternAlert { return sleepDeficit(logs) },
		func() *types.PatternAlert { return d.nightmarePattern(dreams) },
	} {
		if a := rule(); a != nil {
			fired = append(fired, *a)
		}
	}

	sort.SliceStable(fired, func(i, j int) bool {
		return fired[i].Severity.Weight() > fired[j].Severity.Weight()
	})

	if len(fired) >= 2 {
		compound := types.PatternAlert{
			ID:             types.AlertCompoundRisk,
			Severity:       types.SeverityHigh,
			Title:          "Several warning signs at once",
			Description:    fmt.Sprintf("%d separate patterns showed up in your recent entries.", len(fired)),
			Recommendation: "Plan a lighter day and reach out to someone you trust.",
		}
		fired = append([]types.PatternAlert{compound}, fired...)
	}

	if fired == nil {
		return []types.PatternAlert{}
	}
	return fired
}

// Summarize reduces alerts to the leading alert's severity and title.
func Summarize(alerts []types.PatternAlert) types.AlertSummary {
	if len(alerts) == 0 {
		return types.AlertSummary{
			HasAlert: false,
			Severity: types.SeverityLow,
			Message:  NoAlertMessage,
		}
	}
	return types.AlertSummary{
		HasAlert: true,
		Severity: alerts[0].Severity,
		Message:  alerts[0].Title,
	}
}

func conditionDrop(logs []types.CheckIn) *types.PatternAlert {
	if len(logs) < sampleLogs {
		return nil
	}
	avg := average(logs, func(l types.CheckIn) *float64 { return l.Condition })
	if avg <= 0 || avg > 2.5 {
		return nil
	}
	severity := types.SeverityMedium
	if avg <= 2 {
		severity = types.SeverityHigh
	}
	return &types.PatternAlert{
		ID:             types.AlertConditionDrop,
		Severity:       severity,
		Title:          "Your condition has been low",
		Description:    fmt.Sprintf("Average condition over your last %d check-ins is %.1f out of 5.", len(logs), avg),
		Recommendation: "Keep today's plans small and make time for rest.",
	}
}

func stressSpike(logs []types.CheckIn) *types.PatternAlert {
	if len(logs) == 0 {
		return nil
	}
	avg := average(logs, func(l types.CheckIn) *float64 { return l.StressLevel })
	if avg < 4 {
		return nil
	}
	return &types.PatternAlert{
		ID:             types.AlertStressSpike,
		Severity:       types.SeverityHigh,
		Title:          "Stress has been running high",
		Description:    fmt.Sprintf("Average stress over your last %d check-ins is %.1f out of 5.", len(logs), avg),
		Recommendation: "Try a few minutes of slow breathing between tasks.",
	}
}

func sleepDeficit(logs []types.CheckIn) *types.PatternAlert {
	var sum float64
	n := 0
	for _, l := range logs {
		if minutes, ok := numeric(l.SleepDurationMinutes); ok {
			sum += minutes
			n++
		}
	}
	if n < 2 {
		return nil
	}
	hours := sum / float64(n) / 60
	if hours >= 6 {
		return nil
	}
	severity := types.SeverityMedium
	if hours < 5.5 {
		severity = types.SeverityHigh
	}
	return &types.PatternAlert{
		ID:             types.AlertSleepDeficit,
		Severity:       severity,
		Title:          "You've been sleeping less",
		Description:    fmt.Sprintf("You averaged %.1f hours of sleep over %d nights.", hours, n),
		Recommendation: "Aim for an earlier, screen-free wind-down tonight.",
	}
}

func (d *Detector) nightmarePattern(dreams []types.Dream) *types.PatternAlert {
	intense, negative := 0, 0
	for _, dream := range dreams {
		if v, ok := numeric(dream.Intensity); ok && v >= 8 {
			intense++
		}
		if d.negative.IsNegative(dream) {
			negative++
		}
	}
	if intense < 2 && negative < 2 {
		return nil
	}
	severity := types.SeverityMedium
	if intense >= 3 || negative >= 3 {
		severity = types.SeverityHigh
	}
	return &types.PatternAlert{
		ID:             types.AlertNightmarePattern,
		Severity:       severity,
		Title:          "Recurring unsettling dreams",
		Description:    fmt.Sprintf("Of your last %d dreams, %d were intense and %d carried anxious themes.", len(dreams), intense, negative),
		Recommendation: "Jot the dream down on waking and do something calming before bed.",
	}
}

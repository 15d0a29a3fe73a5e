package predictor

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/hyperengineering/somnus/internal/types"
)

var (
	_ Predictor     = (*Static)(nil)
	_ DreamAnalyzer = (*Static)(nil)
)

// Static is an offline provider used in dev mode. Its forecast is a simple
// average of the latest check-ins.
type Static struct{}

// NewStatic creates an offline provider.
func NewStatic() *Static {
	return &Static{}
}

// Predict forecasts from the mean condition of the three latest check-ins.
func (s *Static) Predict(ctx context.Context, in Input) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logs := append([]types.CheckIn(nil), in.RecentLogs...)
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Date > logs[j].Date })
	if len(logs) > 3 {
		logs = logs[:3]
	}

	var condSum, stressSum, sleepSum float64
	var condN, stressN, sleepN int
	for _, l := range logs {
		if l.Condition != nil {
			condSum += *l.Condition
			condN++
		}
		if l.StressLevel != nil {
			stressSum += *l.StressLevel
			stressN++
		}
		if l.SleepDurationMinutes != nil && *l.SleepDurationMinutes > 0 {
			sleepSum += *l.SleepDurationMinutes
			sleepN++
		}
	}

	out := &Output{
		Condition:   3,
		Summary:     "A steady day is likely.",
		Risks:       []string{},
		Suggestions: []string{"Take a short walk outside", "Keep a regular bedtime tonight"},
	}
	if condN > 0 {
		out.Condition = math.Max(1, math.Min(5, math.Round(condSum/float64(condN))))
		if out.Condition <= 2 {
			out.Summary = "Recent check-ins point to a low-energy day."
		} else if out.Condition >= 4 {
			out.Summary = "Recent check-ins point to a good day."
		}
	}
	if stressN > 0 && stressSum/float64(stressN) >= 4 {
		out.Risks = append(out.Risks, "Stress has been high lately")
		out.Suggestions = append(out.Suggestions, "Schedule ten minutes of slow breathing")
	}
	if sleepN > 0 && sleepSum/float64(sleepN) < 360 {
		out.Risks = append(out.Risks, "Sleep has been short")
		out.Suggestions = append(out.Suggestions, "Avoid caffeine after noon")
	}
	return out, nil
}

// Analyze tags text with themes of recent dreams that it mentions.
func (s *Static) Analyze(ctx context.Context, text string, recentDreams []types.Dream) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Analysis{
		Symbols:        []string{},
		Emotions:       []string{},
		Themes:         recurringThemes(text, recentDreams),
		Interpretation: "Offline mode: no interpretation available.",
	}, nil
}

// ModelName identifies the offline provider.
func (s *Static) ModelName() string {
	return "static"
}

// recurringThemes returns the recent dream themes mentioned in text, sorted.
func recurringThemes(text string, recent []types.Dream) []string {
	lower := strings.ToLower(text)
	seen := map[string]bool{}
	out := []string{}
	for _, d := range recent {
		for _, theme := range d.Themes {
			key := strings.ToLower(strings.TrimSpace(theme))
			if key == "" || seen[key] {
				continue
			}
			if strings.Contains(lower, key) {
				seen[key] = true
				out = append(out, theme)
			}
		}
	}
	sort.Strings(out)
	return out
}

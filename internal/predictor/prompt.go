package predictor

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/somnus/internal/types"
)

// maxDreamChars bounds each dream excerpt sent to the provider.
const maxDreamChars = 600

const forecastSystemPrompt = `You are a wellbeing journal assistant. From the user's recent check-ins and dreams, forecast how today is likely to feel.
Respond with a single JSON object and nothing else:
{"condition": <number 1-5>, "confidence_percent": <integer 0-100>, "summary": <string>, "risks": [<string>], "suggestions": [<string>]}
Suggestions are short, concrete actions for today. Do not give medical advice.`

const analysisSystemPrompt = `You are a dream journal assistant. Interpret the dream in light of the user's recent dreams.
Respond with a single JSON object and nothing else:
{"symbols": [<string>], "emotions": [<string>], "themes": [<string>], "intensity": <number 0-10>, "interpretation": <string>, "suggestion": <string>}
Do not give medical advice.`

type promptLog struct {
	Date         string   `json:"date"`
	Condition    *float64 `json:"condition,omitempty"`
	Stress       *float64 `json:"stress_level,omitempty"`
	SleepMinutes *float64 `json:"sleep_minutes,omitempty"`
	Emotions     []string `json:"emotions,omitempty"`
	Note         string   `json:"note,omitempty"`
}

type promptDream struct {
	Date      string   `json:"date"`
	Excerpt   string   `json:"excerpt"`
	Emotions  []string `json:"emotions,omitempty"`
	Themes    []string `json:"themes,omitempty"`
	Intensity *float64 `json:"intensity,omitempty"`
}

func forecastPrompt(in Input) (string, error) {
	payload := struct {
		RecentLogs   []promptLog   `json:"recent_logs"`
		RecentDreams []promptDream `json:"recent_dreams"`
	}{
		RecentLogs:   make([]promptLog, 0, len(in.RecentLogs)),
		RecentDreams: promptDreams(in.RecentDreams),
	}
	for _, l := range in.RecentLogs {
		payload.RecentLogs = append(payload.RecentLogs, promptLog{
			Date:         l.Date,
			Condition:    l.Condition,
			Stress:       l.StressLevel,
			SleepMinutes: l.SleepDurationMinutes,
			Emotions:     l.Emotions,
			Note:         truncate(l.Note, maxDreamChars),
		})
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode forecast prompt: %w", err)
	}
	return string(b), nil
}

func analysisPrompt(text string, recent []types.Dream) (string, error) {
	payload := struct {
		Dream        string        `json:"dream"`
		RecentDreams []promptDream `json:"recent_dreams"`
	}{
		Dream:        text,
		RecentDreams: promptDreams(recent),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode analysis prompt: %w", err)
	}
	return string(b), nil
}

func promptDreams(dreams []types.Dream) []promptDream {
	out := make([]promptDream, 0, len(dreams))
	for _, d := range dreams {
		out = append(out, promptDream{
			Date:      d.Date,
			Excerpt:   truncate(d.Content, maxDreamChars),
			Emotions:  d.Emotions,
			Themes:    d.Themes,
			Intensity: d.Intensity,
		})
	}
	return out
}

// parseForecast decodes a model reply. Numbers may arrive as JSON numbers or
// numeric strings; anything else is malformed.
func parseForecast(content string) (*Output, error) {
	var raw struct {
		Condition         json.Number     `json:"condition"`
		ConfidencePercent json.Number     `json:"confidence_percent"`
		Summary           string          `json:"summary"`
		Risks             json.RawMessage `json:"risks"`
		Suggestions       json.RawMessage `json:"suggestions"`
	}
	if err := decodeObject(content, &raw); err != nil {
		return nil, err
	}

	condition, err := raw.Condition.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: condition %q", ErrMalformedOutput, raw.Condition)
	}

	out := &Output{
		Condition:   condition,
		Summary:     strings.TrimSpace(raw.Summary),
		Risks:       stringList(raw.Risks),
		Suggestions: stringList(raw.Suggestions),
	}
	if pct, err := raw.ConfidencePercent.Float64(); err == nil && !math.IsNaN(pct) {
		v := int(math.Round(math.Max(0, math.Min(100, pct))))
		out.ConfidencePercent = &v
	}

	if err := ValidateOutput(out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseAnalysis(content string) (*Analysis, error) {
	var raw struct {
		Symbols        json.RawMessage `json:"symbols"`
		Emotions       json.RawMessage `json:"emotions"`
		Themes         json.RawMessage `json:"themes"`
		Intensity      json.Number     `json:"intensity"`
		Interpretation string          `json:"interpretation"`
		Suggestion     string          `json:"suggestion"`
	}
	if err := decodeObject(content, &raw); err != nil {
		return nil, err
	}

	a := &Analysis{
		Symbols:        stringList(raw.Symbols),
		Emotions:       stringList(raw.Emotions),
		Themes:         stringList(raw.Themes),
		Interpretation: strings.TrimSpace(raw.Interpretation),
		Suggestion:     strings.TrimSpace(raw.Suggestion),
	}
	if v, err := raw.Intensity.Float64(); err == nil && v >= 0 && v <= 10 {
		a.Intensity = &v
	}
	if a.Interpretation == "" && len(a.Symbols) == 0 && len(a.Emotions) == 0 && len(a.Themes) == 0 {
		return nil, fmt.Errorf("%w: empty analysis", ErrMalformedOutput)
	}
	return a, nil
}

// decodeObject accepts a bare JSON object, optionally inside a markdown code fence.
func decodeObject(content string, v any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") {
		return fmt.Errorf("%w: not a JSON object", ErrMalformedOutput)
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// stringList decodes a JSON array of strings, dropping non-string entries.
// A lone string becomes a one-element list.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		var single string
		if json.Unmarshal(raw, &single) == nil {
			return NonEmpty([]string{single})
		}
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return NonEmpty(out)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "…"
}

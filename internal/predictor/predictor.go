// Package predictor wraps the external forecast-prediction and dream-analysis
// providers.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hyperengineering/somnus/internal/types"
)

// ErrMalformedOutput is returned when a provider answers with something that
// is not a usable forecast or analysis.
var ErrMalformedOutput = errors.New("malformed provider output")

// Input is what a forecast provider sees. UserID scopes usage accounting and
// is never sent to the provider.
type Input struct {
	UserID       string
	RecentDreams []types.Dream
	RecentLogs   []types.CheckIn
}

// Output is a provider forecast. ConfidencePercent is the provider's own
// estimate, if it gave one.
type Output struct {
	Condition         float64  `json:"condition"`
	ConfidencePercent *int     `json:"confidence_percent,omitempty"`
	Summary           string   `json:"summary"`
	Risks             []string `json:"risks"`
	Suggestions       []string `json:"suggestions"`
}

// Predictor produces a same-day forecast from recent journal history.
type Predictor interface {
	Predict(ctx context.Context, in Input) (*Output, error)
	ModelName() string
}

// Analysis is the enrichment a dream-analysis provider returns.
type Analysis struct {
	Symbols        []string `json:"symbols"`
	Emotions       []string `json:"emotions"`
	Themes         []string `json:"themes"`
	Intensity      *float64 `json:"intensity,omitempty"`
	Interpretation string   `json:"interpretation"`
	Suggestion     string   `json:"suggestion"`
}

// DreamAnalyzer enriches a dream entry.
type DreamAnalyzer interface {
	Analyze(ctx context.Context, text string, recentDreams []types.Dream) (*Analysis, error)
}

// ValidateOutput rejects forecasts outside the 1-5 condition scale or
// without a summary.
func ValidateOutput(out *Output) error {
	if out == nil {
		return fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}
	if math.IsNaN(out.Condition) || out.Condition < 1 || out.Condition > 5 {
		return fmt.Errorf("%w: condition %v outside [1,5]", ErrMalformedOutput, out.Condition)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return fmt.Errorf("%w: empty summary", ErrMalformedOutput)
	}
	return nil
}

// NonEmpty returns the trimmed, non-blank entries of list.
func NonEmpty(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

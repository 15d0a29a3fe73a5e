package alerts

import (
	"strings"

	"github.com/hyperengineering/somnus/internal/types"
)

// NegativeDreamDetector decides whether a dream carries anxious content.
type NegativeDreamDetector interface {
	IsNegative(dream types.Dream) bool
}

// DefaultNegativeKeywords is the keyword set used when none is configured.
var DefaultNegativeKeywords = []string{
	"anxiety", "anxious", "fear", "afraid", "scared", "dread", "nightmare",
	"terror", "panic", "stress", "chased", "falling", "trapped",
	"不安", "恐怖", "悪夢", "ストレス", "焦り",
}

// KeywordDetector matches keywords as case-insensitive substrings of a
// dream's emotions, themes and content.
type KeywordDetector struct {
	keywords []string
}

// NewKeywordDetector creates a detector. An empty list uses DefaultNegativeKeywords.
func NewKeywordDetector(keywords []string) *KeywordDetector {
	if len(keywords) == 0 {
		keywords = DefaultNegativeKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &KeywordDetector{keywords: lowered}
}

// IsNegative reports whether any keyword appears in the dream.
func (k *KeywordDetector) IsNegative(dream types.Dream) bool {
	fields := make([]string, 0, len(dream.Emotions)+len(dream.Themes)+1)
	fields = append(fields, dream.Emotions...)
	fields = append(fields, dream.Themes...)
	fields = append(fields, dream.Content)

	for _, f := range fields {
		text := strings.ToLower(f)
		for _, kw := range k.keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
	}
	return false
}

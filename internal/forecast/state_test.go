package forecast

import (
	"testing"

	"github.com/hyperengineering/somnus/internal/types"
)

func TestAccuracy(t *testing.T) {
	tests := []struct {
		predicted, actual float64
		want              int
	}{
		{3, 3, 100},
		{3, 4, 75},
		{4, 2, 50},
		{1, 5, 0},
		{3, 3.5, 88},
	}
	for _, tt := range tests {
		if got := Accuracy(tt.predicted, tt.actual); got != tt.want {
			t.Errorf("Accuracy(%v, %v) = %d, want %d", tt.predicted, tt.actual, got, tt.want)
		}
	}
}

func TestWasAccurate(t *testing.T) {
	tests := []struct {
		outcome  types.Outcome
		accuracy int
		want     bool
	}{
		{types.OutcomeHit, 0, true},
		{types.OutcomeMiss, 100, false},
		{types.OutcomePartial, 75, true},
		{types.OutcomePartial, 74, false},
		{"", 80, true},
	}
	for _, tt := range tests {
		if got := WasAccurate(tt.outcome, tt.accuracy); got != tt.want {
			t.Errorf("WasAccurate(%q, %d) = %v, want %v", tt.outcome, tt.accuracy, got, tt.want)
		}
	}
}

func TestCompletionRate(t *testing.T) {
	tests := []struct {
		completed, planned, want int
	}{
		{0, 0, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
	}
	for _, tt := range tests {
		if got := CompletionRate(tt.completed, tt.planned); got != tt.want {
			t.Errorf("CompletionRate(%d, %d) = %d, want %d", tt.completed, tt.planned, got, tt.want)
		}
	}
}

func TestState_InsertCapsByInsertionOrder(t *testing.T) {
	var st state
	st.insert(types.Forecast{ID: "newest-date", Date: "2026-03-10"})
	for i := 0; i < MaxForecasts; i++ {
		st.insert(types.Forecast{ID: "backfill", Date: "2024-01-01"})
	}

	if len(st.Forecasts) != MaxForecasts {
		t.Fatalf("len = %d, want %d", len(st.Forecasts), MaxForecasts)
	}
	if st.byDate("2026-03-10") >= 0 {
		t.Error("earliest insertion should be evicted regardless of date")
	}
}

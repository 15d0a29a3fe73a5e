package forecast

import (
	"context"
	"testing"

	"github.com/hyperengineering/somnus/internal/types"
)

// seed generates forecasts for the given dates and applies each step.
func seed(t *testing.T, h *harness, steps map[string]func(f *types.Forecast)) {
	t.Helper()
	ctx := context.Background()
	for date, step := range steps {
		f, err := h.manager.GenerateForecast(ctx, "u1", nil, nil, date)
		if err != nil {
			t.Fatal(err)
		}
		if step != nil {
			step(f)
		}
	}
}

func TestGetExperimentSummary_NoQualifyingForecasts(t *testing.T) {
	h := newHarness(t, &mockPredictor{out: goodOutput()})
	ctx := context.Background()
	h.manager.GenerateForecast(ctx, "u1", nil, nil, "")

	got, err := h.manager.GetExperimentSummary(ctx, "u1", 14)
	if err != nil {
		t.Fatal(err)
	}
	want := types.ExperimentSummary{Days: 14}
	if got != want {
		t.Errorf("GetExperimentSummary = %+v, want %+v", got, want)
	}
}

func TestGetExperimentSummary_SplitsByCompletion(t *testing.T) {
	h := newHarness(t, &mockPredictor{out: goodOutput()})
	ctx := context.Background()
	m := h.manager

	verify := func(condition float64, toggles ...string) func(f *types.Forecast) {
		return func(f *types.Forecast) {
			for _, s := range toggles {
				m.ToggleActionSuggestion(ctx, "u1", f.ID, s)
			}
			m.RecordActual(ctx, "u1", f.ID, ActualInput{Condition: ptr(condition)})
		}
	}

	seed(t, h, map[string]func(f *types.Forecast){
		"2026-03-10": verify(5, "walk"),         // 50% -> high
		"2026-03-09": verify(4, "walk", "read"), // 100% -> high
		"2026-03-08": verify(2),                 // 0% -> low
		"2026-03-07": nil,                       // unverified, excluded
		"2026-02-01": verify(1),                 // outside window
	})

	got, err := m.GetExperimentSummary(ctx, "u1", 14)
	if err != nil {
		t.Fatal(err)
	}
	if got.SampleSize != 3 {
		t.Errorf("SampleSize = %d, want 3", got.SampleSize)
	}
	if got.HighCompletion.Count != 2 || got.HighCompletion.AvgActualCondition != 4.5 {
		t.Errorf("HighCompletion = %+v", got.HighCompletion)
	}
	if got.LowCompletion.Count != 1 || got.LowCompletion.AvgActualCondition != 2 {
		t.Errorf("LowCompletion = %+v", got.LowCompletion)
	}
	if got.Improvement != 2.5 {
		t.Errorf("Improvement = %v, want 2.5", got.Improvement)
	}
}

func TestGetExperimentSummary_EmptyGroupAveragesZero(t *testing.T) {
	h := newHarness(t, &mockPredictor{out: goodOutput()})
	ctx := context.Background()
	m := h.manager

	seed(t, h, map[string]func(f *types.Forecast){
		"2026-03-10": func(f *types.Forecast) {
			m.RecordActual(ctx, "u1", f.ID, ActualInput{Condition: ptr(3)})
		},
	})

	got, _ := m.GetExperimentSummary(ctx, "u1", 7)
	if got.HighCompletion.Count != 0 || got.Improvement != -3 {
		t.Errorf("expected high group empty and improvement -3, got %+v", got)
	}
}

func TestGetReviewStats(t *testing.T) {
	h := newHarness(t, &mockPredictor{out: goodOutput()})
	ctx := context.Background()
	m := h.manager

	record := func(outcome types.Outcome) func(f *types.Forecast) {
		return func(f *types.Forecast) {
			m.RecordActual(ctx, "u1", f.ID, ActualInput{Condition: ptr(4), Outcome: outcome})
		}
	}
	seed(t, h, map[string]func(f *types.Forecast){
		"2026-03-10": record(types.OutcomeHit),
		"2026-03-09": record(types.OutcomeHit),
		"2026-03-08": record(types.OutcomeMiss),
		"2026-03-07": record(""),
		"2026-03-06": nil,
		"2026-01-01": record(types.OutcomeMiss),
	})

	got, err := m.GetReviewStats(ctx, "u1", 30)
	if err != nil {
		t.Fatal(err)
	}
	want := types.ReviewStats{Days: 30, Total: 4, Hit: 2, Miss: 1, Partial: 1}
	if got != want {
		t.Errorf("GetReviewStats = %+v, want %+v", got, want)
	}
}

func TestGetAverageAccuracy(t *testing.T) {
	h := newHarness(t, &mockPredictor{out: goodOutput()})
	ctx := context.Background()
	m := h.manager

	avg, err := m.GetAverageAccuracy(ctx, "u1")
	if err != nil || avg != 0 {
		t.Errorf("empty average = %v (err %v), want 0", avg, err)
	}

	seed(t, h, map[string]func(f *types.Forecast){
		"2026-03-10": func(f *types.Forecast) { m.RecordActual(ctx, "u1", f.ID, ActualInput{Condition: ptr(4)}) },
		"2026-03-09": func(f *types.Forecast) { m.RecordActual(ctx, "u1", f.ID, ActualInput{Condition: ptr(3)}) },
		"2026-03-08": nil,
	})

	avg, _ = m.GetAverageAccuracy(ctx, "u1")
	if avg != 87.5 {
		t.Errorf("average = %v, want 87.5", avg)
	}
}

func TestListForecasts_WindowAndOrder(t *testing.T) {
	h := newHarness(t, &mockPredictor{out: goodOutput()})
	ctx := context.Background()
	seed(t, h, map[string]func(f *types.Forecast){
		"2026-03-05": nil,
		"2026-03-10": nil,
		"2026-03-03": nil,
		"2026-03-04": nil,
	})

	list, err := h.manager.ListForecasts(ctx, "u1", 7)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2026-03-10", "2026-03-05", "2026-03-04"}
	if len(list) != len(want) {
		t.Fatalf("got %d forecasts, want %d", len(list), len(want))
	}
	for i, d := range want {
		if list[i].Date != d {
			t.Errorf("position %d: %s, want %s", i, list[i].Date, d)
		}
	}
}

func TestAccuracyHistoryFeedsConsistency(t *testing.T) {
	h := newHarness(t, &mockPredictor{out: goodOutput()})
	ctx := context.Background()
	m := h.manager

	seed(t, h, map[string]func(f *types.Forecast){
		"2026-03-08": func(f *types.Forecast) { m.RecordActual(ctx, "u1", f.ID, ActualInput{Condition: ptr(4)}) },
		"2026-03-09": func(f *types.Forecast) { m.RecordActual(ctx, "u1", f.ID, ActualInput{Condition: ptr(4)}) },
	})

	b, err := m.PreviewConfidence(ctx, "u1", nil, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if b.ConsistencyScore != 100 {
		t.Errorf("ConsistencyScore = %v, want 100 for perfect history", b.ConsistencyScore)
	}
}

package sleep

import (
	"testing"

	"github.com/hyperengineering/somnus/internal/types"
)

func TestMerge_DoesNotMutateInput(t *testing.T) {
	history := []types.SleepSummary{summary("2026-03-10", types.SourceHealthKit, 420)}

	out, changed := Merge(history, summary("2026-03-10", types.SourceManual, 300))
	if !changed {
		t.Fatal("expected change")
	}
	if history[0].Source != types.SourceHealthKit {
		t.Error("Merge must not mutate its input")
	}
	if out[0].Source != types.SourceManual {
		t.Errorf("expected manual in output, got %s", out[0].Source)
	}
}

func TestMerge_CapsByInsertionOrder(t *testing.T) {
	var history []types.SleepSummary
	// A chronologically newer record inserted first is evicted by a later
	// backfill of older dates.
	history, _ = Merge(history, summary("2026-03-10", types.SourceManual, 420))
	for i := 0; i < MaxSummaries; i++ {
		date := types.DateKey(fixedNow.AddDate(-1, 0, -i))
		history, _ = Merge(history, summary(date, types.SourceManual, 420))
	}

	if len(history) != MaxSummaries {
		t.Fatalf("expected %d, got %d", MaxSummaries, len(history))
	}
	if ByDate(history, "2026-03-10") != nil {
		t.Error("earliest insertion should be evicted even though it is the newest date")
	}
}

func TestByDate_Missing(t *testing.T) {
	if ByDate(nil, "2026-03-10") != nil {
		t.Error("expected nil")
	}
}

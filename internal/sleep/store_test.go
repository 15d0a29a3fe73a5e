package sleep

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hyperengineering/somnus/internal/store"
	"github.com/hyperengineering/somnus/internal/types"
	"github.com/hyperengineering/somnus/internal/userlock"
)

var fixedNow = time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func newTestStore(t *testing.T) (*Store, *store.MemoryBlobStore) {
	t.Helper()
	blobs := store.NewMemoryBlobStore()
	return NewStore(blobs, userlock.New(), func() time.Time { return fixedNow }), blobs
}

func summary(date string, source types.SleepSource, minutes float64) types.SleepSummary {
	return types.SleepSummary{Date: date, Source: source, TotalSleepMinutes: ptr(minutes)}
}

func TestSetSleepSummary_ManualWinsRegardlessOfOrder(t *testing.T) {
	orders := []struct {
		name  string
		first types.SleepSummary
		then  types.SleepSummary
	}{
		{"manual then automatic", summary("2026-03-10", types.SourceManual, 400), summary("2026-03-10", types.SourceHealthKit, 480)},
		{"automatic then manual", summary("2026-03-10", types.SourceHealthKit, 480), summary("2026-03-10", types.SourceManual, 400)},
	}

	for _, tt := range orders {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			ctx := context.Background()

			if _, err := s.SetSleepSummary(ctx, "u1", tt.first); err != nil {
				t.Fatal(err)
			}
			if _, err := s.SetSleepSummary(ctx, "u1", tt.then); err != nil {
				t.Fatal(err)
			}

			got, err := s.GetSummaryByDate(ctx, "u1", "2026-03-10")
			if err != nil {
				t.Fatal(err)
			}
			if got == nil || got.Source != types.SourceManual || *got.TotalSleepMinutes != 400 {
				t.Errorf("expected manual 400 minutes to win, got %+v", got)
			}
		})
	}
}

func TestSetSleepSummary_ReportsShadowedWrite(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	applied, err := s.SetSleepSummary(ctx, "u1", summary("2026-03-10", types.SourceManual, 400))
	if err != nil || !applied {
		t.Fatalf("manual write: applied=%v err=%v", applied, err)
	}

	applied, err = s.SetSleepSummary(ctx, "u1", summary("2026-03-10", types.SourceHealthConnect, 300))
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("automatic write over manual should not be applied")
	}
}

func TestSetSleepSummary_AutomaticSourcesReplaceEachOther(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.SetSleepSummary(ctx, "u1", summary("2026-03-10", types.SourceHealthKit, 420))
	applied, err := s.SetSleepSummary(ctx, "u1", summary("2026-03-10", types.SourceHealthConnect, 450))
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Error("latest automatic write should win")
	}

	got, _ := s.GetSummaryByDate(ctx, "u1", "2026-03-10")
	if got.Source != types.SourceHealthConnect {
		t.Errorf("expected health_connect, got %s", got.Source)
	}
}

func TestSetSleepSummary_CapsHistory(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	start := fixedNow.AddDate(0, 0, -99)
	for i := 0; i < 100; i++ {
		date := types.DateKey(start.AddDate(0, 0, i))
		if _, err := s.SetSleepSummary(ctx, "u1", summary(date, types.SourceHealthKit, 420)); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.GetRecentSummaries(ctx, "u1", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) > MaxSummaries {
		t.Errorf("expected at most %d summaries, got %d", MaxSummaries, len(all))
	}
	if all[0].Date != "2026-03-10" {
		t.Errorf("newest summary should survive, got %s", all[0].Date)
	}
}

func TestSetSleepSummary_SetsFetchedAt(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.SetSleepSummary(ctx, "u1", summary("2026-03-10", types.SourceManual, 400))
	got, _ := s.GetTodaySummary(ctx, "u1")
	if got == nil || !got.FetchedAt.Equal(fixedNow) {
		t.Errorf("expected FetchedAt %v, got %+v", fixedNow, got)
	}
}

func TestGetRecentSummaries_WindowAndOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, date := range []string{"2026-03-08", "2026-03-01", "2026-03-10", "2026-03-04", "2026-03-03"} {
		s.SetSleepSummary(ctx, "u1", summary(date, types.SourceManual, 420))
	}

	got, err := s.GetRecentSummaries(ctx, "u1", 7)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2026-03-10", "2026-03-08", "2026-03-04"}
	if len(got) != len(want) {
		t.Fatalf("expected %d summaries, got %d", len(want), len(got))
	}
	for i, d := range want {
		if got[i].Date != d {
			t.Errorf("position %d: got %s, want %s", i, got[i].Date, d)
		}
	}
}

func TestGetCoverage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, date := range []string{"2026-03-10", "2026-03-09", "2026-03-07"} {
		s.SetSleepSummary(ctx, "u1", summary(date, types.SourceManual, 420))
	}

	tests := []struct {
		days int
		want int
	}{
		{7, 43},
		{3, 67},
		{1, 100},
		{0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d days", tt.days), func(t *testing.T) {
			got, err := s.GetCoverage(ctx, "u1", tt.days)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("GetCoverage(%d) = %d, want %d", tt.days, got, tt.want)
			}
		})
	}
}

func TestHasWearableData(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.SetSleepSummary(ctx, "u1", summary("2026-03-10", types.SourceManual, 420))
	s.SetSleepSummary(ctx, "u1", summary("2026-03-01", types.SourceHealthKit, 420))

	has, err := s.HasWearableData(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("automatic data older than 7 days should not count")
	}

	s.SetSleepSummary(ctx, "u1", summary("2026-03-04", types.SourceHealthConnect, 420))
	has, _ = s.HasWearableData(ctx, "u1")
	if !has {
		t.Error("automatic data on the window start should count")
	}
}

func TestStore_ToleratesMalformedRecords(t *testing.T) {
	s, blobs := newTestStore(t)
	ctx := context.Background()

	raw := `{"summaries":[{"date":"2026-03-10","source":"manual","total_sleep_minutes":400},"garbage",{"source":"healthkit"},{"date":"2026-03-09","total_sleep_minutes":"oops"}]}`
	if _, err := blobs.PutBlob(ctx, types.Blob{UserID: "u1", Name: store.BlobSleep, Data: []byte(raw)}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRecentSummaries(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("malformed records should be skipped, got error %v", err)
	}
	if len(got) != 1 || got[0].Date != "2026-03-10" {
		t.Errorf("expected only the valid record, got %+v", got)
	}
}

func TestStore_MissingBlob(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.GetTodaySummary(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil summary, got %+v", got)
	}
}

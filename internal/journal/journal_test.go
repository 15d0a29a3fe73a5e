package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperengineering/somnus/internal/forecast"
	"github.com/hyperengineering/somnus/internal/predictor"
	"github.com/hyperengineering/somnus/internal/store"
	"github.com/hyperengineering/somnus/internal/types"
	"github.com/hyperengineering/somnus/internal/userlock"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func fptr(v float64) *float64 { return &v }

type mockAnalyzer struct {
	analysis *predictor.Analysis
	err      error
	calls    int
	lastText string
}

func (m *mockAnalyzer) Analyze(ctx context.Context, text string, recent []types.Dream) (*predictor.Analysis, error) {
	m.calls++
	m.lastText = text
	if m.err != nil {
		return nil, m.err
	}
	return m.analysis, nil
}

type fixedPredictor struct{}

func (fixedPredictor) Predict(ctx context.Context, in predictor.Input) (*predictor.Output, error) {
	return &predictor.Output{Condition: 4, Summary: "steady day", Suggestions: []string{"walk"}}, nil
}

func (fixedPredictor) ModelName() string { return "fixed" }

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newManager(blobs store.BlobStore) *forecast.Manager {
	return forecast.NewManager(forecast.Config{
		Blobs:     blobs,
		Locks:     userlock.New(),
		Predictor: fixedPredictor{},
		Now:       clock,
	})
}

func TestAddDream_DefaultsDateAndUser(t *testing.T) {
	svc := NewService(Config{History: newSQLite(t), Now: clock})

	got, err := svc.AddDream(context.Background(), "u1", types.Dream{Content: "a quiet library"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "u1" || got.Date != "2026-03-10" || got.ID == "" {
		t.Errorf("unexpected dream %+v", got)
	}
}

func TestAddDream_AnalysisFillsOnlyEmptyFields(t *testing.T) {
	analyzer := &mockAnalyzer{analysis: &predictor.Analysis{
		Symbols:        []string{"key"},
		Emotions:       []string{"curious"},
		Themes:         []string{"discovery"},
		Intensity:      fptr(6),
		Interpretation: "Looking for something new.",
	}}
	svc := NewService(Config{History: newSQLite(t), Analyzer: analyzer, Now: clock})

	got, err := svc.AddDream(context.Background(), "u1", types.Dream{
		Content:  "found a golden key",
		Emotions: []string{"joy"},
	}, true)
	if err != nil {
		t.Fatal(err)
	}

	if analyzer.calls != 1 || analyzer.lastText != "found a golden key" {
		t.Errorf("analyzer calls=%d text=%q", analyzer.calls, analyzer.lastText)
	}
	if len(got.Emotions) != 1 || got.Emotions[0] != "joy" {
		t.Errorf("user emotions should be kept, got %v", got.Emotions)
	}
	if len(got.Symbols) != 1 || got.Symbols[0] != "key" {
		t.Errorf("symbols = %v", got.Symbols)
	}
	if got.Intensity == nil || *got.Intensity != 6 {
		t.Errorf("intensity = %v", got.Intensity)
	}
	if got.Interpretation == "" {
		t.Error("interpretation should be filled")
	}
}

func TestAddDream_AnalysisFailureStoresUnanalysed(t *testing.T) {
	analyzer := &mockAnalyzer{err: errors.New("provider down")}
	svc := NewService(Config{History: newSQLite(t), Analyzer: analyzer, Now: clock})

	got, err := svc.AddDream(context.Background(), "u1", types.Dream{Content: "rain"}, true)
	if err != nil {
		t.Fatalf("analysis failure must not fail ingest: %v", err)
	}
	if got.Interpretation != "" || len(got.Symbols) != 0 {
		t.Errorf("expected unanalysed dream, got %+v", got)
	}
}

func TestAddDream_SkipsAnalysisWhenNotRequested(t *testing.T) {
	analyzer := &mockAnalyzer{analysis: &predictor.Analysis{}}
	svc := NewService(Config{History: newSQLite(t), Analyzer: analyzer, Now: clock})

	if _, err := svc.AddDream(context.Background(), "u1", types.Dream{Content: "rain"}, false); err != nil {
		t.Fatal(err)
	}
	if analyzer.calls != 0 {
		t.Errorf("analyzer should not run, got %d calls", analyzer.calls)
	}
}

func TestHistory_UsesWindow(t *testing.T) {
	db := newSQLite(t)
	svc := NewService(Config{History: db, HistoryDays: 7, Now: clock})
	ctx := context.Background()

	svc.AddDream(ctx, "u1", types.Dream{Date: "2026-03-04", Content: "in"}, false)
	svc.AddDream(ctx, "u1", types.Dream{Date: "2026-03-03", Content: "out"}, false)
	svc.UpsertCheckIn(ctx, "u1", types.CheckIn{Date: "2026-03-10", Condition: fptr(3)})
	svc.UpsertCheckIn(ctx, "u1", types.CheckIn{Date: "2026-02-01", Condition: fptr(3)})

	dreams, logs, err := svc.History(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(dreams) != 1 || dreams[0].Content != "in" {
		t.Errorf("dreams = %+v", dreams)
	}
	if len(logs) != 1 || logs[0].Date != "2026-03-10" {
		t.Errorf("logs = %+v", logs)
	}

	older, err := svc.GetRecentLogs(ctx, "u1", 60)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 2 {
		t.Errorf("expected 2 logs over 60 days, got %d", len(older))
	}
}

func TestGetTodayLog(t *testing.T) {
	svc := NewService(Config{History: newSQLite(t), Now: clock})
	ctx := context.Background()

	if _, err := svc.GetTodayLog(ctx, "u1"); !errors.Is(err, ErrCheckInNotFound) {
		t.Errorf("expected ErrCheckInNotFound, got %v", err)
	}

	svc.UpsertCheckIn(ctx, "u1", types.CheckIn{Condition: fptr(4)})
	got, err := svc.GetTodayLog(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Date != "2026-03-10" || *got.Condition != 4 {
		t.Errorf("unexpected check-in %+v", got)
	}
}

// verifiedForecast creates a forecast for today and verifies it.
func verifiedForecast(t *testing.T, m *forecast.Manager) *types.Forecast {
	t.Helper()
	ctx := context.Background()
	f, err := m.GenerateForecast(ctx, "u1", nil, nil, "2026-03-10")
	if err != nil {
		t.Fatal(err)
	}
	f, err = m.RecordActual(ctx, "u1", f.ID, forecast.ActualInput{Condition: fptr(4), Outcome: types.OutcomeHit})
	if err != nil {
		t.Fatal(err)
	}
	if !f.Verified() {
		t.Fatal("forecast should be verified")
	}
	return f
}

func TestDeleteCheckIn_TransactionalCascade(t *testing.T) {
	db := newSQLite(t)
	manager := newManager(db)
	svc := NewService(Config{History: db, Cascade: db, Forecasts: manager, Now: clock})
	ctx := context.Background()

	svc.UpsertCheckIn(ctx, "u1", types.CheckIn{Date: "2026-03-10", Condition: fptr(4)})
	f := verifiedForecast(t, manager)

	if err := svc.DeleteCheckIn(ctx, "u1", "2026-03-10"); err != nil {
		t.Fatal(err)
	}

	got, err := manager.GetForecast(ctx, "u1", f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Actual != nil || got.AccuracyPercent != nil {
		t.Errorf("verification should be cleared, got %+v", got)
	}
	if _, err := svc.GetLogByDate(ctx, "u1", "2026-03-10"); !errors.Is(err, ErrCheckInNotFound) {
		t.Errorf("check-in should be gone, got %v", err)
	}
}

func TestDeleteCheckIn_SequentialReconcile(t *testing.T) {
	db := newSQLite(t)
	manager := newManager(store.NewMemoryBlobStore())
	svc := NewService(Config{History: db, Forecasts: manager, Now: clock})
	ctx := context.Background()

	svc.UpsertCheckIn(ctx, "u1", types.CheckIn{Date: "2026-03-10", Condition: fptr(4)})
	f := verifiedForecast(t, manager)

	if err := svc.DeleteCheckIn(ctx, "u1", "2026-03-10"); err != nil {
		t.Fatal(err)
	}

	got, err := manager.GetForecast(ctx, "u1", f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Verified() {
		t.Errorf("verification should be cleared, got %+v", got.Actual)
	}
}

func TestDeleteCheckIn_NotFound(t *testing.T) {
	db := newSQLite(t)
	manager := newManager(db)

	for name, svc := range map[string]*Service{
		"cascade":    NewService(Config{History: db, Cascade: db, Forecasts: manager, Now: clock}),
		"sequential": NewService(Config{History: db, Forecasts: manager, Now: clock}),
	} {
		t.Run(name, func(t *testing.T) {
			err := svc.DeleteCheckIn(context.Background(), "u1", "2026-03-01")
			if !errors.Is(err, ErrCheckInNotFound) {
				t.Errorf("expected ErrCheckInNotFound, got %v", err)
			}
		})
	}
}

func TestActiveUsers(t *testing.T) {
	svc := NewService(Config{History: newSQLite(t), Now: clock})
	ctx := context.Background()

	svc.UpsertCheckIn(ctx, "alice", types.CheckIn{Date: "2026-03-09"})
	svc.AddDream(ctx, "bob", types.Dream{Date: "2026-01-01", Content: "long ago"}, false)

	users, err := svc.ActiveUsers(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("ActiveUsers = %v", users)
	}
}

package predictor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hyperengineering/somnus/internal/store"
	"github.com/hyperengineering/somnus/internal/userlock"
)

// scriptedPredictor returns errs in order, then succeeds.
type scriptedPredictor struct {
	mu    sync.Mutex
	errs  []error
	calls int
	out   *Output
}

func (s *scriptedPredictor) Predict(ctx context.Context, in Input) (*Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	if s.out != nil {
		return s.out, nil
	}
	return &Output{Condition: 3, Summary: "ok"}, nil
}

func (s *scriptedPredictor) ModelName() string { return "scripted" }

type recordedUsage struct {
	userID string
	usage  Usage
}

type fakeRecorder struct {
	got []recordedUsage
}

func (f *fakeRecorder) RecordUsage(ctx context.Context, userID string, u Usage) error {
	f.got = append(f.got, recordedUsage{userID, u})
	return nil
}

func TestRetrying_SucceedsAfterRetries(t *testing.T) {
	next := &scriptedPredictor{errs: []error{errors.New("503"), errors.New("503")}}
	rec := &fakeRecorder{}
	r := NewRetrying(next, 2, 0, rec, nil)

	out, err := r.Predict(context.Background(), Input{UserID: "u1"})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if out.Condition != 3 {
		t.Errorf("Condition = %v", out.Condition)
	}
	if next.calls != 3 {
		t.Errorf("calls = %d, want 3", next.calls)
	}
	if len(rec.got) != 1 || rec.got[0].usage != (Usage{Attempts: 3, Failed: false}) || rec.got[0].userID != "u1" {
		t.Errorf("recorded usage = %+v", rec.got)
	}
}

func TestRetrying_ExhaustsBudget(t *testing.T) {
	boom := errors.New("boom")
	next := &scriptedPredictor{errs: []error{boom, boom, boom, boom}}
	rec := &fakeRecorder{}
	r := NewRetrying(next, 1, 0, rec, nil)

	_, err := r.Predict(context.Background(), Input{UserID: "u1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if next.calls != 2 {
		t.Errorf("calls = %d, want 2", next.calls)
	}
	if rec.got[0].usage != (Usage{Attempts: 2, Failed: true}) {
		t.Errorf("recorded usage = %+v", rec.got[0].usage)
	}
}

func TestRetrying_RetriesInvalidOutput(t *testing.T) {
	next := &scriptedPredictor{out: &Output{Condition: 7, Summary: "x"}}
	r := NewRetrying(next, 1, 0, nil, nil)

	_, err := r.Predict(context.Background(), Input{})
	if !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("expected ErrMalformedOutput, got %v", err)
	}
	if next.calls != 2 {
		t.Errorf("calls = %d, want 2", next.calls)
	}
}

func TestRetrying_DoesNotRetryDeadline(t *testing.T) {
	next := &scriptedPredictor{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded}}
	r := NewRetrying(next, 3, 0, nil, nil)

	_, err := r.Predict(context.Background(), Input{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if next.calls != 1 {
		t.Errorf("calls = %d, want 1", next.calls)
	}
}

func TestRetrying_RecordsUsageIntoStatsStore(t *testing.T) {
	stats := NewStatsStore(store.NewMemoryBlobStore(), userlock.New())
	ctx := context.Background()

	ok := NewRetrying(&scriptedPredictor{errs: []error{errors.New("x")}}, 2, 0, stats, nil)
	if _, err := ok.Predict(ctx, Input{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	failing := NewRetrying(&scriptedPredictor{errs: []error{errors.New("x"), errors.New("x")}}, 1, 0, stats, nil)
	failing.Predict(ctx, Input{UserID: "u1"})

	got, err := stats.Stats(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalRequests != 2 || got.RetryRequests != 2 || got.FailedRequests != 1 {
		t.Errorf("stats = %+v, want total=2 retry=2 failed=1", got)
	}
}

func TestStatsStore_IgnoresAnonymousUsage(t *testing.T) {
	blobs := store.NewMemoryBlobStore()
	stats := NewStatsStore(blobs, nil)
	ctx := context.Background()

	if err := stats.RecordUsage(ctx, "", Usage{Attempts: 1}); err != nil {
		t.Fatal(err)
	}
	got, _ := stats.Stats(ctx, "")
	if got.TotalRequests != 0 {
		t.Errorf("anonymous usage should not be recorded, got %+v", got)
	}
}

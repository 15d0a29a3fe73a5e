// Package sleep keeps per-date sleep summaries where manual entries override
// wearable data.
package sleep

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hyperengineering/somnus/internal/store"
	"github.com/hyperengineering/somnus/internal/types"
	"github.com/hyperengineering/somnus/internal/userlock"
)

const schemaVersion = 1

// wearableWindowDays is how far back HasWearableData looks.
const wearableWindowDays = 7

// state is the persisted sleep blob.
type state struct {
	Summaries []types.SleepSummary `json:"summaries"`
}

// UnmarshalJSON skips records that no longer decode instead of failing the blob.
func (s *state) UnmarshalJSON(data []byte) error {
	var raw struct {
		Summaries []json.RawMessage `json:"summaries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Summaries = make([]types.SleepSummary, 0, len(raw.Summaries))
	for i, r := range raw.Summaries {
		var summary types.SleepSummary
		if err := json.Unmarshal(r, &summary); err != nil || summary.Date == "" {
			slog.Warn("skipping malformed sleep summary",
				"component", "sleep",
				"index", i,
				"error", err,
			)
			continue
		}
		s.Summaries = append(s.Summaries, summary)
	}
	return nil
}

// Store is the per-user sleep signal store.
type Store struct {
	blobs store.BlobStore
	locks *userlock.Locks
	now   func() time.Time
}

// NewStore creates a sleep store. A nil now uses time.Now.
func NewStore(blobs store.BlobStore, locks *userlock.Locks, now func() time.Time) *Store {
	if locks == nil {
		locks = userlock.New()
	}
	if now == nil {
		now = time.Now
	}
	return &Store{blobs: blobs, locks: locks, now: now}
}

// SetSleepSummary merges summary into the user's history. It reports whether
// the write was applied; a manual record shadowing an automatic write is not
// an error. The summary must already be validated.
func (s *Store) SetSleepSummary(ctx context.Context, userID string, summary types.SleepSummary) (bool, error) {
	if summary.FetchedAt.IsZero() {
		summary.FetchedAt = s.now().UTC()
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	applied := false
	_, err := store.Update(ctx, s.blobs, userID, store.BlobSleep, schemaVersion, func(st *state) (bool, error) {
		st.Summaries, applied = Merge(st.Summaries, summary)
		return applied, nil
	})
	if err != nil {
		return false, fmt.Errorf("set sleep summary: %w", err)
	}

	if !applied {
		slog.Debug("automatic sleep summary shadowed by manual entry",
			"component", "sleep",
			"user_id", userID,
			"date", summary.Date,
			"source", summary.Source,
		)
	}
	return applied, nil
}

// GetSummaryByDate returns the summary for date, or nil when none exists.
func (s *Store) GetSummaryByDate(ctx context.Context, userID, date string) (*types.SleepSummary, error) {
	st, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ByDate(st.Summaries, date), nil
}

// GetTodaySummary returns today's summary, or nil.
func (s *Store) GetTodaySummary(ctx context.Context, userID string) (*types.SleepSummary, error) {
	return s.GetSummaryByDate(ctx, userID, types.DateKey(s.now()))
}

// GetRecentSummaries returns summaries within the last days calendar days,
// newest date first.
func (s *Store) GetRecentSummaries(ctx context.Context, userID string, days int) ([]types.SleepSummary, error) {
	st, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Recent(st.Summaries, types.WindowStart(s.now(), days)), nil
}

// GetCoverage returns the percentage of the last days calendar days that
// have a summary.
func (s *Store) GetCoverage(ctx context.Context, userID string, days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}
	recent, err := s.GetRecentSummaries(ctx, userID, days)
	if err != nil {
		return 0, err
	}
	return int(math.Round(float64(len(recent)) / float64(days) * 100)), nil
}

// HasWearableData reports whether any automatic summary falls within the
// last seven days.
func (s *Store) HasWearableData(ctx context.Context, userID string) (bool, error) {
	recent, err := s.GetRecentSummaries(ctx, userID, wearableWindowDays)
	if err != nil {
		return false, err
	}
	for _, summary := range recent {
		if summary.Source.IsAutomatic() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) load(ctx context.Context, userID string) (*state, error) {
	var st state
	if _, err := store.Load(ctx, s.blobs, userID, store.BlobSleep, &st); err != nil {
		return nil, fmt.Errorf("load sleep summaries: %w", err)
	}
	return &st, nil
}

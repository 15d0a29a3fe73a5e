package predictor

import (
	"context"
	"fmt"

	"github.com/hyperengineering/somnus/internal/store"
	"github.com/hyperengineering/somnus/internal/types"
	"github.com/hyperengineering/somnus/internal/userlock"
)

var _ UsageRecorder = (*StatsStore)(nil)

const statsSchemaVersion = 1

// StatsStore persists per-user provider call counts.
type StatsStore struct {
	blobs store.BlobStore
	locks *userlock.Locks
}

// NewStatsStore creates a provider stats store.
func NewStatsStore(blobs store.BlobStore, locks *userlock.Locks) *StatsStore {
	if locks == nil {
		locks = userlock.New()
	}
	return &StatsStore{blobs: blobs, locks: locks}
}

// RecordUsage adds one logical request to the user's counters.
func (s *StatsStore) RecordUsage(ctx context.Context, userID string, u Usage) error {
	if userID == "" || u.Attempts <= 0 {
		return nil
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	_, err := store.Update(ctx, s.blobs, userID, store.BlobProviderStats, statsSchemaVersion, func(st *types.ProviderStats) (bool, error) {
		st.TotalRequests++
		st.RetryRequests += u.Attempts - 1
		if u.Failed {
			st.FailedRequests++
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("record provider usage: %w", err)
	}
	return nil
}

// Stats returns the user's counters, zero when none were recorded.
func (s *StatsStore) Stats(ctx context.Context, userID string) (types.ProviderStats, error) {
	var st types.ProviderStats
	if _, err := store.Load(ctx, s.blobs, userID, store.BlobProviderStats, &st); err != nil {
		return types.ProviderStats{}, fmt.Errorf("load provider stats: %w", err)
	}
	return st, nil
}

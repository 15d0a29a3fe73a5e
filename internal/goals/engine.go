// Package goals tracks weekly journaling targets and proposes adaptive ones.
package goals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/somnus/internal/store"
	"github.com/hyperengineering/somnus/internal/types"
	"github.com/hyperengineering/somnus/internal/userlock"
)

const schemaVersion = 1

// Engine owns the per-user goal record.
type Engine struct {
	blobs store.BlobStore
	locks *userlock.Locks
	now   func() time.Time
}

// NewEngine creates a goal engine. A nil now uses time.Now.
func NewEngine(blobs store.BlobStore, locks *userlock.Locks, now func() time.Time) *Engine {
	if locks == nil {
		locks = userlock.New()
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{blobs: blobs, locks: locks, now: now}
}

// GetGoals returns the user's targets, defaulting any unset or invalid field.
func (e *Engine) GetGoals(ctx context.Context, userID string) (types.WeeklyGoal, error) {
	var goal types.WeeklyGoal
	if _, err := store.Load(ctx, e.blobs, userID, store.BlobGoals, &goal); err != nil {
		return types.WeeklyGoal{}, fmt.Errorf("load goals: %w", err)
	}
	return sanitize(goal, Defaults), nil
}

// UpdateGoals applies each supplied positive finite value and keeps the
// previous target for anything else.
func (e *Engine) UpdateGoals(ctx context.Context, userID string, update types.GoalUpdate) (types.WeeklyGoal, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	goal, err := store.Update(ctx, e.blobs, userID, store.BlobGoals, schemaVersion, func(g *types.WeeklyGoal) (bool, error) {
		before := sanitize(*g, Defaults)
		*g = apply(before, update)
		return true, nil
	})
	if err != nil {
		return types.WeeklyGoal{}, fmt.Errorf("update goals: %w", err)
	}
	return goal, nil
}

// GetWeeklyProgress measures the trailing seven calendar days against the
// user's targets.
func (e *Engine) GetWeeklyProgress(ctx context.Context, userID string, logs []types.CheckIn, dreams []types.Dream) (types.WeeklyProgress, error) {
	goal, err := e.GetGoals(ctx, userID)
	if err != nil {
		return types.WeeklyProgress{}, err
	}
	now := e.now()
	return WeeklyProgress(goal, logs, dreams, types.WindowStart(now, progressWindowDays), types.DateKey(now)), nil
}

// GetSuggestedGoals proposes targets from the last lookbackDays of activity.
// A non-positive lookback uses DefaultLookbackDays.
func (e *Engine) GetSuggestedGoals(ctx context.Context, userID string, logs []types.CheckIn, dreams []types.Dream, lookbackDays int) (types.SuggestedGoals, error) {
	goal, err := e.GetGoals(ctx, userID)
	if err != nil {
		return types.SuggestedGoals{}, err
	}
	return e.suggest(goal, logs, dreams, lookbackDays), nil
}

// ApplySuggestedGoals computes a suggestion and stores it as the user's goals.
func (e *Engine) ApplySuggestedGoals(ctx context.Context, userID string, logs []types.CheckIn, dreams []types.Dream, lookbackDays int) (types.WeeklyGoal, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	var suggestion types.SuggestedGoals
	goal, err := store.Update(ctx, e.blobs, userID, store.BlobGoals, schemaVersion, func(g *types.WeeklyGoal) (bool, error) {
		suggestion = e.suggest(sanitize(*g, Defaults), logs, dreams, lookbackDays)
		*g = suggestion.Suggested
		return true, nil
	})
	if err != nil {
		return types.WeeklyGoal{}, fmt.Errorf("apply suggested goals: %w", err)
	}

	slog.Info("suggested goals applied",
		"component", "goals",
		"user_id", userID,
		"confidence", suggestion.Confidence,
		"sample_size", suggestion.SampleSize,
	)
	return goal, nil
}

func (e *Engine) suggest(goal types.WeeklyGoal, logs []types.CheckIn, dreams []types.Dream, lookbackDays int) types.SuggestedGoals {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	now := e.now()
	return Suggest(goal, logs, dreams, types.WindowStart(now, lookbackDays), types.DateKey(now), lookbackDays)
}

func apply(goal types.WeeklyGoal, update types.GoalUpdate) types.WeeklyGoal {
	if v := update.CheckInDaysTarget; v != nil && isPositive(*v) {
		goal.CheckInDaysTarget = *v
	}
	if v := update.DreamCountTarget; v != nil && isPositive(*v) {
		goal.DreamCountTarget = *v
	}
	if v := update.AvgSleepHoursTarget; v != nil && isPositive(*v) {
		goal.AvgSleepHoursTarget = *v
	}
	return goal
}

// sanitize replaces non-positive fields with fallback values.
func sanitize(goal, fallback types.WeeklyGoal) types.WeeklyGoal {
	if !isPositive(goal.CheckInDaysTarget) {
		goal.CheckInDaysTarget = fallback.CheckInDaysTarget
	}
	if !isPositive(goal.DreamCountTarget) {
		goal.DreamCountTarget = fallback.DreamCountTarget
	}
	if !isPositive(goal.AvgSleepHoursTarget) {
		goal.AvgSleepHoursTarget = fallback.AvgSleepHoursTarget
	}
	return goal
}

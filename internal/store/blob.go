package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/somnus/internal/types"
)

// Logical store names.
const (
	BlobSleep         = "sleep"
	BlobForecasts     = "forecasts"
	BlobGoals         = "goals"
	BlobProviderStats = "provider_stats"
)

// maxUpdateAttempts bounds optimistic-concurrency retries in Update.
const maxUpdateAttempts = 3

// Load decodes the named blob into v. A missing blob leaves v untouched and
// reports version 0.
func Load(ctx context.Context, bs BlobStore, userID, name string, v any) (int64, error) {
	blob, err := bs.GetBlob(ctx, userID, name)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", name, err)
	}
	if len(blob.Data) > 0 {
		if err := json.Unmarshal(blob.Data, v); err != nil {
			return 0, fmt.Errorf("decode %s: %w: %v", name, ErrCorruptBlob, err)
		}
	}
	return blob.Version, nil
}

// Update loads the named blob, applies fn and writes the result back with
// compare-and-swap semantics. fn reports whether it changed the state; an
// unchanged state is not written. On a version conflict the whole cycle is
// retried with fresh state.
func Update[T any](ctx context.Context, bs BlobStore, userID, name string, schemaVersion int, fn func(state *T) (bool, error)) (T, error) {
	var zero T

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		var state T
		version, err := Load(ctx, bs, userID, name, &state)
		if err != nil {
			return zero, err
		}

		changed, err := fn(&state)
		if err != nil {
			return zero, err
		}
		if !changed {
			return state, nil
		}

		data, err := json.Marshal(state)
		if err != nil {
			return zero, fmt.Errorf("encode %s: %w", name, err)
		}

		_, err = bs.PutBlob(ctx, types.Blob{
			UserID:        userID,
			Name:          name,
			Version:       version,
			SchemaVersion: schemaVersion,
			Data:          data,
			UpdatedAt:     time.Now().UTC(),
		})
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return zero, fmt.Errorf("write %s: %w", name, err)
		}

		slog.Debug("blob version conflict, retrying",
			"component", "store",
			"blob", name,
			"user_id", userID,
			"attempt", attempt,
		)
	}

	return zero, fmt.Errorf("write %s: %w", name, ErrVersionConflict)
}

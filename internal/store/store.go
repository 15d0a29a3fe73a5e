package store

import (
	"context"

	"github.com/hyperengineering/somnus/internal/types"
)

// BlobStore persists one versioned JSON document per (user, logical store).
//
// PutBlob is a compare-and-swap: it succeeds only when the stored version
// equals blob.Version (0 meaning "absent") and returns the written blob with
// its new version. A lost race surfaces as ErrVersionConflict.
type BlobStore interface {
	GetBlob(ctx context.Context, userID, name string) (*types.Blob, error)
	PutBlob(ctx context.Context, blob types.Blob) (*types.Blob, error)
	Close() error
}

// HistoryStore holds the journal history the analytics core reads from.
type HistoryStore interface {
	AddDream(ctx context.Context, dream types.Dream) (*types.Dream, error)
	UpsertCheckIn(ctx context.Context, checkIn types.CheckIn) (*types.CheckIn, error)
	RecentDreams(ctx context.Context, userID, since string) ([]types.Dream, error)
	RecentCheckIns(ctx context.Context, userID, since string) ([]types.CheckIn, error)
	CheckInByDate(ctx context.Context, userID, date string) (*types.CheckIn, error)
	DeleteCheckIn(ctx context.Context, userID, date string) error
	ActiveUsers(ctx context.Context, since string) ([]string, error)
}

// BlobMutation rewrites a blob payload. It reports whether anything changed.
type BlobMutation func(data []byte) ([]byte, bool, error)

// CascadingHistoryStore deletes a check-in and rewrites a blob of the same
// user in a single transaction.
type CascadingHistoryStore interface {
	HistoryStore
	DeleteCheckInCascade(ctx context.Context, userID, date, blobName string, mutate BlobMutation) error
}

package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hyperengineering/somnus/internal/types"
	"github.com/redis/go-redis/v9"
)

// blobStoreFactories builds every BlobStore backend against throwaway state.
func blobStoreFactories() map[string]func(t *testing.T) BlobStore {
	return map[string]func(t *testing.T) BlobStore{
		"memory": func(t *testing.T) BlobStore {
			return NewMemoryBlobStore()
		},
		"sqlite": func(t *testing.T) BlobStore {
			return newTestSQLiteStore(t)
		},
		"redis": func(t *testing.T) BlobStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			bs := NewRedisBlobStoreFromClient(client, "test")
			t.Cleanup(func() { bs.Close() })
			return bs
		},
	}
}

func TestBlobStore_GetMissingReturnsNotFound(t *testing.T) {
	for name, factory := range blobStoreFactories() {
		t.Run(name, func(t *testing.T) {
			bs := factory(t)
			_, err := bs.GetBlob(context.Background(), "u1", BlobSleep)
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestBlobStore_PutIncrementsVersion(t *testing.T) {
	for name, factory := range blobStoreFactories() {
		t.Run(name, func(t *testing.T) {
			bs := factory(t)
			ctx := context.Background()

			first, err := bs.PutBlob(ctx, types.Blob{UserID: "u1", Name: BlobGoals, SchemaVersion: 1, Data: []byte(`{"a":1}`)})
			if err != nil {
				t.Fatalf("first put: %v", err)
			}
			if first.Version != 1 {
				t.Errorf("expected version 1, got %d", first.Version)
			}

			second, err := bs.PutBlob(ctx, types.Blob{UserID: "u1", Name: BlobGoals, Version: 1, SchemaVersion: 1, Data: []byte(`{"a":2}`)})
			if err != nil {
				t.Fatalf("second put: %v", err)
			}
			if second.Version != 2 {
				t.Errorf("expected version 2, got %d", second.Version)
			}

			got, err := bs.GetBlob(ctx, "u1", BlobGoals)
			if err != nil {
				t.Fatal(err)
			}
			if got.Version != 2 || string(got.Data) != `{"a":2}` || got.SchemaVersion != 1 {
				t.Errorf("unexpected blob: version=%d schema=%d data=%s", got.Version, got.SchemaVersion, got.Data)
			}
		})
	}
}

func TestBlobStore_RejectsStaleVersion(t *testing.T) {
	for name, factory := range blobStoreFactories() {
		t.Run(name, func(t *testing.T) {
			bs := factory(t)
			ctx := context.Background()

			if _, err := bs.PutBlob(ctx, types.Blob{UserID: "u1", Name: BlobSleep, Data: []byte(`[]`)}); err != nil {
				t.Fatal(err)
			}

			// A second creator loses.
			_, err := bs.PutBlob(ctx, types.Blob{UserID: "u1", Name: BlobSleep, Data: []byte(`[1]`)})
			if !errors.Is(err, ErrVersionConflict) {
				t.Errorf("create over existing: expected ErrVersionConflict, got %v", err)
			}

			// A writer from the future loses.
			_, err = bs.PutBlob(ctx, types.Blob{UserID: "u1", Name: BlobSleep, Version: 7, Data: []byte(`[2]`)})
			if !errors.Is(err, ErrVersionConflict) {
				t.Errorf("wrong version: expected ErrVersionConflict, got %v", err)
			}

			got, err := bs.GetBlob(ctx, "u1", BlobSleep)
			if err != nil {
				t.Fatal(err)
			}
			if string(got.Data) != `[]` {
				t.Errorf("stale writes must not land, got %s", got.Data)
			}
		})
	}
}

func TestBlobStore_ScopesByUserAndName(t *testing.T) {
	for name, factory := range blobStoreFactories() {
		t.Run(name, func(t *testing.T) {
			bs := factory(t)
			ctx := context.Background()

			bs.PutBlob(ctx, types.Blob{UserID: "u1", Name: BlobGoals, Data: []byte(`"u1"`)})
			bs.PutBlob(ctx, types.Blob{UserID: "u2", Name: BlobGoals, Data: []byte(`"u2"`)})

			got, err := bs.GetBlob(ctx, "u2", BlobGoals)
			if err != nil {
				t.Fatal(err)
			}
			if string(got.Data) != `"u2"` {
				t.Errorf("expected u2 data, got %s", got.Data)
			}
			if _, err := bs.GetBlob(ctx, "u1", BlobForecasts); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound for other name, got %v", err)
			}
		})
	}
}

type testCounter struct {
	N     int    `json:"n"`
	Label string `json:"label"`
}

func TestLoad_MissingLeavesZeroValue(t *testing.T) {
	bs := NewMemoryBlobStore()

	state := testCounter{Label: "default"}
	version, err := Load(context.Background(), bs, "u1", "counter", &state)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("expected version 0, got %d", version)
	}
	if state.Label != "default" {
		t.Errorf("missing blob should leave state untouched, got %+v", state)
	}
}

func TestLoad_CorruptBlob(t *testing.T) {
	bs := NewMemoryBlobStore()
	ctx := context.Background()
	bs.PutBlob(ctx, types.Blob{UserID: "u1", Name: "counter", Data: []byte(`{not json`)})

	var state testCounter
	_, err := Load(ctx, bs, "u1", "counter", &state)
	if !errors.Is(err, ErrCorruptBlob) {
		t.Errorf("expected ErrCorruptBlob, got %v", err)
	}
}

func TestLoad_ToleratesMissingFields(t *testing.T) {
	bs := NewMemoryBlobStore()
	ctx := context.Background()
	bs.PutBlob(ctx, types.Blob{UserID: "u1", Name: "counter", Data: []byte(`{"n":4}`)})

	var state testCounter
	if _, err := Load(ctx, bs, "u1", "counter", &state); err != nil {
		t.Fatal(err)
	}
	if state.N != 4 || state.Label != "" {
		t.Errorf("unexpected state %+v", state)
	}
}

func TestUpdate_UnchangedStateIsNotWritten(t *testing.T) {
	bs := NewMemoryBlobStore()
	ctx := context.Background()

	_, err := Update(ctx, bs, "u1", "counter", 1, func(c *testCounter) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bs.GetBlob(ctx, "u1", "counter"); !errors.Is(err, ErrNotFound) {
		t.Errorf("no-op update should not create a blob, got %v", err)
	}
}

func TestUpdate_PropagatesCallbackError(t *testing.T) {
	bs := NewMemoryBlobStore()
	boom := errors.New("boom")

	_, err := Update(context.Background(), bs, "u1", "counter", 1, func(c *testCounter) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected callback error, got %v", err)
	}
}

// conflictingStore fails the first n writes with ErrVersionConflict.
type conflictingStore struct {
	*MemoryBlobStore
	failures int
	puts     int
}

func (c *conflictingStore) PutBlob(ctx context.Context, blob types.Blob) (*types.Blob, error) {
	c.puts++
	if c.puts <= c.failures {
		return nil, ErrVersionConflict
	}
	return c.MemoryBlobStore.PutBlob(ctx, blob)
}

func TestUpdate_RetriesOnVersionConflict(t *testing.T) {
	bs := &conflictingStore{MemoryBlobStore: NewMemoryBlobStore(), failures: 2}
	calls := 0

	got, err := Update(context.Background(), bs, "u1", "counter", 1, func(c *testCounter) (bool, error) {
		calls++
		c.N++
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if got.N != 1 {
		t.Errorf("each attempt should start from fresh state, got N=%d", got.N)
	}
}

func TestUpdate_GivesUpAfterMaxAttempts(t *testing.T) {
	bs := &conflictingStore{MemoryBlobStore: NewMemoryBlobStore(), failures: maxUpdateAttempts}

	_, err := Update(context.Background(), bs, "u1", "counter", 1, func(c *testCounter) (bool, error) {
		c.N++
		return true, nil
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestUpdate_ConcurrentWritersNeverLoseSuccessfulUpdates(t *testing.T) {
	bs := NewMemoryBlobStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Update(ctx, bs, "u1", "counter", 1, func(c *testCounter) (bool, error) {
				c.N++
				return true, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrVersionConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	var got testCounter
	if _, err := Load(ctx, bs, "u1", "counter", &got); err != nil {
		t.Fatal(err)
	}
	if got.N != succeeded {
		t.Errorf("counter = %d, want %d", got.N, succeeded)
	}
}

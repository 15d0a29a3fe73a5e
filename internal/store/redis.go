package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hyperengineering/somnus/internal/types"
	"github.com/redis/go-redis/v9"
)

var _ BlobStore = (*RedisBlobStore)(nil)

// RedisBlobStore keeps each blob in a Redis hash at somnus:{user}:{name}.
// Writes use WATCH/MULTI so a concurrent writer surfaces as ErrVersionConflict.
type RedisBlobStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedisBlobStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisBlobStore connects to Redis and verifies the connection with PING.
func NewRedisBlobStore(ctx context.Context, opts RedisOptions) (*RedisBlobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisBlobStoreFromClient(client, opts.Prefix), nil
}

// NewRedisBlobStoreFromClient wraps an existing client.
func NewRedisBlobStoreFromClient(client *redis.Client, prefix string) *RedisBlobStore {
	if prefix == "" {
		prefix = "somnus"
	}
	return &RedisBlobStore{client: client, prefix: prefix}
}

func (r *RedisBlobStore) key(userID, name string) string {
	return r.prefix + ":" + userID + ":" + name
}

// GetBlob returns the stored blob or ErrNotFound.
func (r *RedisBlobStore) GetBlob(ctx context.Context, userID, name string) (*types.Blob, error) {
	fields, err := r.client.HGetAll(ctx, r.key(userID, name)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse version: %w", ErrCorruptBlob)
	}
	schemaVersion, _ := strconv.Atoi(fields["schema_version"])

	blob := &types.Blob{
		UserID:        userID,
		Name:          name,
		Version:       version,
		SchemaVersion: schemaVersion,
		Data:          []byte(fields["data"]),
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		blob.UpdatedAt = t
	}
	return blob, nil
}

// PutBlob writes the blob when its version matches the stored one.
func (r *RedisBlobStore) PutBlob(ctx context.Context, blob types.Blob) (*types.Blob, error) {
	key := r.key(blob.UserID, blob.Name)
	if blob.UpdatedAt.IsZero() {
		blob.UpdatedAt = time.Now().UTC()
	}
	next := blob.Version + 1

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		if current != blob.Version {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]any{
				"version":        next,
				"schema_version": blob.SchemaVersion,
				"data":           blob.Data,
				"updated_at":     blob.UpdatedAt.UTC().Format(time.RFC3339Nano),
			})
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrVersionConflict):
		return nil, ErrVersionConflict
	case err != nil:
		return nil, fmt.Errorf("write blob: %w", err)
	}

	blob.Version = next
	return &blob, nil
}

// Close closes the Redis client.
func (r *RedisBlobStore) Close() error {
	return r.client.Close()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/somnus/internal/alerts"
	"github.com/hyperengineering/somnus/internal/config"
	"github.com/hyperengineering/somnus/internal/forecast"
	"github.com/hyperengineering/somnus/internal/goals"
	"github.com/hyperengineering/somnus/internal/journal"
	"github.com/hyperengineering/somnus/internal/metrics"
	"github.com/hyperengineering/somnus/internal/predictor"
	"github.com/hyperengineering/somnus/internal/sleep"
	"github.com/hyperengineering/somnus/internal/store"
)

// app holds the wired analytics core shared by every command.
type app struct {
	cfg       *config.Config
	db        *store.SQLiteStore
	blobs     store.BlobStore
	journal   *journal.Service
	sleep     *sleep.Store
	forecasts *forecast.Manager
	goals     *goals.Engine
	detector  *alerts.Detector
	model     string
	now       func() time.Time
}

// newApp opens storage and wires the services. m may be nil.
func newApp(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*app, error) {
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	blobs, err := openBlobStore(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("blob store initialized", "backend", cfg.Storage.Backend)

	loc := cfg.Location()
	now := func() time.Time { return time.Now().In(loc) }

	stats := predictor.NewStatsStore(blobs, nil)
	pred, analyzer, model := newPredictor(cfg, stats, m)
	slog.Info("predictor initialized", "model", model)

	sleepStore := sleep.NewStore(blobs, nil, now)
	forecasts := forecast.NewManager(forecast.Config{
		Blobs:           blobs,
		Predictor:       pred,
		Sleep:           sleepStore,
		Stats:           stats,
		Metrics:         m,
		ProviderTimeout: time.Duration(cfg.Forecast.ProviderTimeout),
		Now:             now,
	})

	jcfg := journal.Config{
		History:     db,
		Forecasts:   forecasts,
		Analyzer:    analyzer,
		HistoryDays: cfg.Forecast.HistoryDays,
		Now:         now,
	}
	// Forecast blobs in the journal database can be reconciled in the
	// same transaction as a check-in delete.
	if cfg.Storage.Backend == config.BackendSQLite {
		jcfg.Cascade = db
	}

	return &app{
		cfg:       cfg,
		db:        db,
		blobs:     blobs,
		journal:   journal.NewService(jcfg),
		sleep:     sleepStore,
		forecasts: forecasts,
		goals:     goals.NewEngine(blobs, nil, now),
		detector:  alerts.NewDetector(alerts.NewKeywordDetector(cfg.Alerts.NegativeKeywords)),
		model:     model,
		now:       now,
	}, nil
}

// openBlobStore returns the configured blob backend. The sqlite backend
// shares the journal database.
func openBlobStore(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) (store.BlobStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return db, nil
	case config.BackendRedis:
		rs, err := store.NewRedisBlobStore(ctx, store.RedisOptions{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis blob store: %w", err)
		}
		return rs, nil
	case config.BackendMemory:
		slog.Warn("memory blob store selected, state is lost on restart")
		return store.NewMemoryBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// newPredictor returns the forecast provider, the dream analyzer and the
// model name. Without an API key the offline provider serves both.
func newPredictor(cfg *config.Config, recorder predictor.UsageRecorder, m *metrics.Metrics) (predictor.Predictor, predictor.DreamAnalyzer, string) {
	if cfg.Predictor.APIKey == "" {
		slog.Warn("no provider API key, using offline predictor", "component", "predictor")
		s := predictor.NewStatic()
		return s, s, s.ModelName()
	}

	client := predictor.NewOpenAI(cfg.Predictor.APIKey, cfg.Predictor.Model)
	retrying := predictor.NewRetrying(client, cfg.Predictor.MaxRetries, time.Duration(cfg.Predictor.RetryBackoff), recorder, m)
	return retrying, client, client.ModelName()
}

// Close releases the blob store and the journal database.
func (a *app) Close() error {
	var errs []error
	if a.blobs != nil && a.blobs != store.BlobStore(a.db) {
		if err := a.blobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close blob store: %w", err))
		}
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

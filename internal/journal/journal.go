// Package journal records dreams and daily check-ins and serves the recent
// history the analytics packages work from.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/somnus/internal/forecast"
	"github.com/hyperengineering/somnus/internal/predictor"
	"github.com/hyperengineering/somnus/internal/store"
	"github.com/hyperengineering/somnus/internal/types"
	"github.com/hyperengineering/somnus/internal/userlock"
)

// DefaultHistoryDays is the window used when a caller asks for zero days.
const DefaultHistoryDays = 30

// analyzeTimeout bounds dream analysis so ingest never hangs on the provider.
const analyzeTimeout = 15 * time.Second

// ErrCheckInNotFound is returned when no check-in exists for a date.
var ErrCheckInNotFound = errors.New("check-in not found")

// Reconciler keeps forecasts consistent when a verifying check-in goes away.
type Reconciler interface {
	ClearActualForDate(ctx context.Context, userID, date string) error
	Locks() *userlock.Locks
}

// Config wires a Service.
type Config struct {
	History store.HistoryStore
	// Cascade is set when the forecasts blob lives in the same database as
	// History, so deletes can reconcile in one transaction.
	Cascade     store.CascadingHistoryStore
	Forecasts   Reconciler
	Analyzer    predictor.DreamAnalyzer
	HistoryDays int
	Now         func() time.Time
}

// Service is the journal entry point.
type Service struct {
	history     store.HistoryStore
	cascade     store.CascadingHistoryStore
	forecasts   Reconciler
	analyzer    predictor.DreamAnalyzer
	historyDays int
	now         func() time.Time
	logger      *slog.Logger
}

// NewService creates a journal service.
func NewService(cfg Config) *Service {
	s := &Service{
		history:     cfg.History,
		cascade:     cfg.Cascade,
		forecasts:   cfg.Forecasts,
		analyzer:    cfg.Analyzer,
		historyDays: cfg.HistoryDays,
		now:         cfg.Now,
		logger:      slog.Default().With("component", "journal"),
	}
	if s.historyDays <= 0 {
		s.historyDays = DefaultHistoryDays
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Today returns the current calendar day key.
func (s *Service) Today() string {
	return types.DateKey(s.now())
}

// AddDream stores a dream. With analyze set, the configured analyzer fills
// in symbols, emotions, themes, intensity and interpretation that the entry
// left empty; an analysis failure stores the dream as written.
func (s *Service) AddDream(ctx context.Context, userID string, dream types.Dream, analyze bool) (*types.Dream, error) {
	dream.UserID = userID
	if dream.Date == "" {
		dream.Date = s.Today()
	}

	if analyze && s.analyzer != nil {
		s.enrich(ctx, userID, &dream)
	}

	stored, err := s.history.AddDream(ctx, dream)
	if err != nil {
		return nil, fmt.Errorf("add dream: %w", err)
	}
	return stored, nil
}

func (s *Service) enrich(ctx context.Context, userID string, dream *types.Dream) {
	recent, err := s.GetRecentDreams(ctx, userID, 0)
	if err != nil {
		s.logger.Warn("recent dreams unavailable for analysis", "user_id", userID, "error", err)
		recent = nil
	}

	actx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	analysis, err := s.analyzer.Analyze(actx, dream.Content, recent)
	if err != nil {
		s.logger.Warn("dream analysis failed, storing unanalysed", "user_id", userID, "error", err)
		return
	}

	if len(dream.Symbols) == 0 {
		dream.Symbols = analysis.Symbols
	}
	if len(dream.Emotions) == 0 {
		dream.Emotions = analysis.Emotions
	}
	if len(dream.Themes) == 0 {
		dream.Themes = analysis.Themes
	}
	if dream.Intensity == nil {
		dream.Intensity = analysis.Intensity
	}
	if dream.Interpretation == "" {
		dream.Interpretation = analysis.Interpretation
	}
}

// UpsertCheckIn stores the check-in for its date, replacing any earlier one.
func (s *Service) UpsertCheckIn(ctx context.Context, userID string, checkIn types.CheckIn) (*types.CheckIn, error) {
	checkIn.UserID = userID
	if checkIn.Date == "" {
		checkIn.Date = s.Today()
	}
	stored, err := s.history.UpsertCheckIn(ctx, checkIn)
	if err != nil {
		return nil, fmt.Errorf("upsert check-in: %w", err)
	}
	return stored, nil
}

// DeleteCheckIn removes the check-in for date and clears the verification of
// that day's forecast.
func (s *Service) DeleteCheckIn(ctx context.Context, userID, date string) error {
	if s.cascade != nil && s.forecasts != nil {
		err := s.forecasts.Locks().Do(userID, func() error {
			return s.cascade.DeleteCheckInCascade(ctx, userID, date, store.BlobForecasts, forecast.ClearActualMutation(date))
		})
		return s.deleteErr(err)
	}

	if err := s.history.DeleteCheckIn(ctx, userID, date); err != nil {
		return s.deleteErr(err)
	}
	if s.forecasts == nil {
		return nil
	}
	if err := s.forecasts.ClearActualForDate(ctx, userID, date); err != nil {
		return fmt.Errorf("reconcile forecast: %w", err)
	}
	return nil
}

func (s *Service) deleteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrCheckInNotFound
	default:
		return fmt.Errorf("delete check-in: %w", err)
	}
}

// GetRecentDreams returns dreams dated within the last days calendar days,
// newest first. Zero days uses the configured history window.
func (s *Service) GetRecentDreams(ctx context.Context, userID string, days int) ([]types.Dream, error) {
	dreams, err := s.history.RecentDreams(ctx, userID, s.since(days))
	if err != nil {
		return nil, fmt.Errorf("recent dreams: %w", err)
	}
	return dreams, nil
}

// GetRecentLogs returns check-ins dated within the last days calendar days,
// newest first. Zero days uses the configured history window.
func (s *Service) GetRecentLogs(ctx context.Context, userID string, days int) ([]types.CheckIn, error) {
	logs, err := s.history.RecentCheckIns(ctx, userID, s.since(days))
	if err != nil {
		return nil, fmt.Errorf("recent check-ins: %w", err)
	}
	return logs, nil
}

// History returns recent dreams and check-ins over the same window.
func (s *Service) History(ctx context.Context, userID string, days int) ([]types.Dream, []types.CheckIn, error) {
	dreams, err := s.GetRecentDreams(ctx, userID, days)
	if err != nil {
		return nil, nil, err
	}
	logs, err := s.GetRecentLogs(ctx, userID, days)
	if err != nil {
		return nil, nil, err
	}
	return dreams, logs, nil
}

// GetLogByDate returns the check-in for date.
func (s *Service) GetLogByDate(ctx context.Context, userID, date string) (*types.CheckIn, error) {
	c, err := s.history.CheckInByDate(ctx, userID, date)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCheckInNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check-in by date: %w", err)
	}
	return c, nil
}

// GetTodayLog returns today's check-in.
func (s *Service) GetTodayLog(ctx context.Context, userID string) (*types.CheckIn, error) {
	return s.GetLogByDate(ctx, userID, s.Today())
}

// ActiveUsers lists users with any entry in the last days calendar days.
func (s *Service) ActiveUsers(ctx context.Context, days int) ([]string, error) {
	users, err := s.history.ActiveUsers(ctx, s.since(days))
	if err != nil {
		return nil, fmt.Errorf("active users: %w", err)
	}
	return users, nil
}

func (s *Service) since(days int) string {
	if days <= 0 {
		days = s.historyDays
	}
	return types.WindowStart(s.now(), days)
}

package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/somnus/internal/metrics"
	"github.com/hyperengineering/somnus/internal/types"
)

// Journal provides the users and history the forecast worker needs.
type Journal interface {
	ActiveUsers(ctx context.Context, days int) ([]string, error)
	History(ctx context.Context, userID string, days int) ([]types.Dream, []types.CheckIn, error)
	Today() string
}

// ForecastGenerator creates (or returns) a user's forecast for a date.
type ForecastGenerator interface {
	GenerateForecast(ctx context.Context, userID string, recentDreams []types.Dream, recentLogs []types.CheckIn, date string) (*types.Forecast, error)
}

// ForecastCoordinator pre-generates today's forecast for every recently
// active user so the first read of the day does not wait on the provider.
// Generation is idempotent per user and date, so repeated cycles are cheap.
type ForecastCoordinator struct {
	journal      Journal
	forecasts    ForecastGenerator
	interval     time.Duration
	activeWindow int
	historyDays  int
	metrics      *metrics.Metrics
}

// NewForecastCoordinator creates a coordinator. activeWindow is how many
// days back a user counts as active; historyDays sizes the history passed to
// the provider.
func NewForecastCoordinator(
	journal Journal,
	forecasts ForecastGenerator,
	interval time.Duration,
	activeWindow, historyDays int,
	m *metrics.Metrics,
) *ForecastCoordinator {
	return &ForecastCoordinator{
		journal:      journal,
		forecasts:    forecasts,
		interval:     interval,
		activeWindow: activeWindow,
		historyDays:  historyDays,
		metrics:      m,
	}
}

// Run starts the coordinator loop.
func (c *ForecastCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "forecast-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "forecast-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce generates today's forecast for every active user.
func (c *ForecastCoordinator) RunOnce(ctx context.Context) {
	users, err := c.journal.ActiveUsers(ctx, c.activeWindow)
	if err != nil {
		slog.Error("failed to list active users for forecast generation",
			"component", "worker",
			"worker", "forecast-coordinator",
			"action", "list_users_failed",
			"error", err,
		)
		c.metrics.RecordWorkerRun("forecast", err)
		return
	}

	date := c.journal.Today()
	var succeeded, failed int
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		if c.generate(ctx, userID, date) {
			succeeded++
		} else {
			failed++
		}
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("forecast generation cycle completed",
			"component", "worker",
			"worker", "forecast-coordinator",
			"action", "cycle_complete",
			"date", date,
			"total", len(users),
			"succeeded", succeeded,
			"failed", failed,
		)
	}
	c.metrics.RecordWorkerRun("forecast", nil)
}

func (c *ForecastCoordinator) generate(ctx context.Context, userID, date string) bool {
	dreams, logs, err := c.journal.History(ctx, userID, c.historyDays)
	if err != nil {
		slog.Warn("failed to load history for forecast",
			"component", "worker",
			"worker", "forecast-coordinator",
			"action", "forecast_failed",
			"user_id", userID,
			"error", err,
		)
		return false
	}

	if _, err := c.forecasts.GenerateForecast(ctx, userID, dreams, logs, date); err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Warn("forecast generation failed",
			"component", "worker",
			"worker", "forecast-coordinator",
			"action", "forecast_failed",
			"user_id", userID,
			"error", err,
		)
		return false
	}
	return true
}

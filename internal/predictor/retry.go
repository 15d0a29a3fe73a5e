package predictor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/somnus/internal/metrics"
)

var _ Predictor = (*Retrying)(nil)

// Usage describes one logical provider request.
type Usage struct {
	Attempts int
	Failed   bool
}

// UsageRecorder receives per-user provider usage.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID string, u Usage) error
}

// Retrying retries a Predictor on error and reports attempts.
type Retrying struct {
	next       Predictor
	maxRetries int
	backoff    time.Duration
	recorder   UsageRecorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewRetrying wraps next with up to maxRetries extra attempts. recorder and
// m may be nil.
func NewRetrying(next Predictor, maxRetries int, backoff time.Duration, recorder UsageRecorder, m *metrics.Metrics) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrying{
		next:       next,
		maxRetries: maxRetries,
		backoff:    backoff,
		recorder:   recorder,
		metrics:    m,
		logger:     slog.Default().With("component", "predictor"),
	}
}

// Predict calls the wrapped predictor until it succeeds, the retry budget is
// spent, or ctx is done.
func (r *Retrying) Predict(ctx context.Context, in Input) (*Output, error) {
	var (
		out      *Output
		err      error
		attempts int
	)

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if !r.wait(ctx, attempt) {
				break
			}
		}

		attempts++
		start := time.Now()
		out, err = r.next.Predict(ctx, in)
		if err == nil {
			err = ValidateOutput(out)
		}

		if err == nil {
			r.metrics.RecordProviderCall("predict", "success", time.Since(start))
			break
		}

		status := "retry"
		if attempt == r.maxRetries || ctx.Err() != nil {
			status = "error"
		}
		r.metrics.RecordProviderCall("predict", status, time.Since(start))
		r.logger.Warn("forecast provider call failed",
			"user_id", in.UserID,
			"attempt", attempts,
			"model", r.next.ModelName(),
			"error", err,
		)

		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}

	if r.recorder != nil {
		// The request context may already be spent; usage must still land.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := r.recorder.RecordUsage(recordCtx, in.UserID, Usage{Attempts: attempts, Failed: err != nil}); rerr != nil {
			r.logger.Error("failed to record provider usage", "user_id", in.UserID, "error", rerr)
		}
	}

	if err != nil {
		return nil, err
	}
	return out, nil
}

// ModelName returns the wrapped model name.
func (r *Retrying) ModelName() string {
	return r.next.ModelName()
}

func (r *Retrying) wait(ctx context.Context, attempt int) bool {
	if r.backoff <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(r.backoff * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

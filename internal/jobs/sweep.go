package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-punchout/internal/punchout"
)

// TypeSweep expires overdue punch-out sessions and purges terminal ones.
const TypeSweep = "punchout:sweep"

// Sweeper is satisfied by *punchout.Manager.
type Sweeper interface {
	Sweep(ctx context.Context) (punchout.SweepResult, error)
}

// NewSweepTask builds the periodic sweep task. Only one sweep may be queued
// per interval.
func NewSweepTask(interval time.Duration) *asynq.Task {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return asynq.NewTask(TypeSweep, nil,
		asynq.MaxRetry(1),
		asynq.Timeout(interval),
		asynq.Unique(interval),
	)
}

// SweepHandler processes TypeSweep tasks.
type SweepHandler struct {
	Sweeper Sweeper
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h SweepHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	return sweepOnce(ctx, h.Sweeper, h.Logger)
}

// Register mounts every job handler on mux.
func Register(mux *asynq.ServeMux, sweep SweepHandler) {
	mux.Handle(TypeSweep, sweep)
}

// RunTicker sweeps on a fixed interval until ctx is done. It is used when no
// Redis broker is configured.
func RunTicker(ctx context.Context, interval time.Duration, sweeper Sweeper, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweepOnce(ctx, sweeper, logger); err != nil {
				logger.Error().Err(err).Msg("session sweep failed")
			}
		}
	}
}

func sweepOnce(ctx context.Context, sweeper Sweeper, logger zerolog.Logger) error {
	if sweeper == nil {
		return fmt.Errorf("jobs: sweeper not configured: %w", asynq.SkipRetry)
	}
	started := time.Now()
	res, err := sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("jobs: sweep sessions: %w", err)
	}
	logger.Info().
		Int("expired", res.Expired).
		Int("deleted", res.Deleted).
		Dur("duration", time.Since(started)).
		Msg("session sweep completed")
	return nil
}

// Package liveness runs the periodic sweep that transitions machines with no
// recent heartbeat to offline. It wraps gocron the same way the rest of this
// codebase wraps scheduled work — a single fixed-interval job rather than a
// per-entity cron expression, since there is exactly one policy here.
package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/greenwatt/fleet/server/internal/repository"
	"github.com/greenwatt/fleet/shared/status"
)

// Reaper periodically transitions stale online/idle machines to offline.
// The zero value is not usable — create instances with New.
type Reaper struct {
	cron          gocron.Scheduler
	machines      repository.MachineRepository
	offlineWindow time.Duration
	tickInterval  time.Duration
	logger        *zap.Logger
}

// New creates a Reaper. offlineWindow is how long a machine may go without a
// heartbeat before it is marked offline; tickInterval is how often the sweep
// runs.
func New(machines repository.MachineRepository, offlineWindow, tickInterval time.Duration, logger *zap.Logger) (*Reaper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("liveness: creating gocron scheduler: %w", err)
	}

	return &Reaper{
		cron:          s,
		machines:      machines,
		offlineWindow: offlineWindow,
		tickInterval:  tickInterval,
		logger:        logger.Named("liveness"),
	}, nil
}

// Start registers the sweep as a fixed-interval gocron job and starts the
// scheduler. Call once at server startup.
func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.cron.NewJob(
		gocron.DurationJob(r.tickInterval),
		gocron.NewTask(func() {
			n, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Error("sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				r.logger.Info("reaped stale machines", zap.Int("count", n))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("liveness: scheduling sweep job: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop shuts the underlying scheduler down, waiting for any in-flight sweep
// to finish.
func (r *Reaper) Stop() error {
	return r.cron.Shutdown()
}

// Sweep transitions every machine whose LastSeenAt is older than
// offlineWindow and whose status is online or idle to offline. It never
// touches machines in shutdown — a machine that was deliberately shut down
// must only leave that state via a fresh heartbeat, not the reaper. Returns
// the number of machines transitioned.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.offlineWindow)

	stale, err := r.machines.ListStaleBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("liveness: listing stale machines: %w", err)
	}

	count := 0
	for i := range stale {
		m := &stale[i]
		m.Status = string(status.MachineOffline)
		if err := r.machines.Update(ctx, m); err != nil {
			r.logger.Error("failed to mark machine offline",
				zap.String("machine_id", m.ID.String()),
				zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

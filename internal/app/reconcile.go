package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/lock"
)

// ReconcileLockName is the lock every reconcile run takes.
const ReconcileLockName = "reconcile"

// Reconcile brings the board in line with the workflow states and existing
// content in a single transaction. Stale entries are pruned before new
// ones are created or refreshed.
func (s *Service) Reconcile(ctx context.Context) (board.ReconcileStats, error) {
	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID)
	started := time.Now()

	var stats board.ReconcileStats
	err := s.store.WithinTx(ctx, func(repo board.Repository) error {
		plan, err := board.LoadPlan(ctx, repo)
		if err != nil {
			return err
		}
		stats = plan.Stats()
		return board.ApplyPlan(ctx, repo, plan)
	})
	if err != nil {
		logger.ErrorContext(ctx, "reconcile failed", "error", err)
		return board.ReconcileStats{}, fmt.Errorf("reconcile: %w", err)
	}

	logger.InfoContext(ctx, "reconcile finished",
		"pruned", stats.Pruned,
		"created", stats.Created,
		"refreshed", stats.Refreshed,
		"unchanged", stats.Unchanged,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return stats, nil
}

// Scheduler runs Reconcile under a lock so overlapping runs, from this
// process or another host, are skipped.
type Scheduler struct {
	service  *Service
	locker   lock.Locker
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger
}

func NewScheduler(service *Service, locker lock.Locker, interval, ttl time.Duration) *Scheduler {
	return &Scheduler{
		service:  service,
		locker:   locker,
		interval: interval,
		ttl:      ttl,
		logger:   service.logger.With("component", "scheduler"),
	}
}

// RunOnce reconciles if the lock is free. ran is false when another run
// holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (stats board.ReconcileStats, ran bool, err error) {
	lease, err := s.locker.TryLock(ctx, ReconcileLockName, s.ttl)
	if errors.Is(err, lock.ErrLocked) {
		s.logger.InfoContext(ctx, "reconcile skipped, lock held elsewhere")
		return board.ReconcileStats{}, false, nil
	}
	if err != nil {
		return board.ReconcileStats{}, false, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.WarnContext(ctx, "release reconcile lock", "error", releaseErr)
		}
	}()

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		s.keepAlive(runCtx, lease, abort)
	}()

	stats, err = s.service.Reconcile(runCtx)
	abort(nil)
	<-renewed
	if cause := context.Cause(runCtx); err != nil && errors.Is(cause, lock.ErrLeaseLost) {
		err = fmt.Errorf("reconcile aborted: %w", cause)
	}
	return stats, true, err
}

// keepAlive extends the lease every third of its ttl until ctx is done. A
// lost lease cancels the run so its transaction rolls back.
func (s *Scheduler) keepAlive(ctx context.Context, lease lock.Lease, abort context.CancelCauseFunc) {
	every := s.ttl / 3
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := lease.Extend(ctx, s.ttl)
		switch {
		case err == nil:
		case errors.Is(err, lock.ErrLeaseLost):
			s.logger.ErrorContext(ctx, "reconcile lock lost, aborting run")
			abort(err)
			return
		case ctx.Err() != nil:
			return
		default:
			s.logger.WarnContext(ctx, "extend reconcile lock", "error", err)
		}
	}
}

// Run reconciles once immediately and then every interval until ctx is
// done. Failed runs are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "scheduled reconcile failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

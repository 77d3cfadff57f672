package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copyforgehq/copyforge/internal/config"
	"github.com/copyforgehq/copyforge/internal/store"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// A processing job whose updated_at is older than the attempt timeout plus
// this grace cannot have a live worker: even a stalled attempt bumps
// updated_at with progress writes inside that window.
const recoveryGrace = time.Minute

// Dispatcher runs job processing in background goroutines with panic
// recovery, tracks them for drain-on-shutdown, and re-queues interrupted
// work at startup.
type Dispatcher struct {
	orch   *Orchestrator
	store  store.Store
	cfg    config.JobsConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(orch *Orchestrator, st store.Store, cfg config.JobsConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		orch:   orch,
		store:  st,
		cfg:    cfg,
		logger: logger,
	}
}

// Dispatch schedules the job for background processing and returns
// immediately. Processing uses a fresh context so that the caller's request
// lifetime does not bound the job.
func (d *Dispatcher) Dispatch(jobID uuid.UUID) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx := context.Background()

		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic processing job", "job_id", jobID, "panic", r)
				_ = d.orch.failJob(ctx, jobID, fmt.Errorf("panic: %v", r))
			}
		}()

		if err := d.orch.ProcessJob(ctx, jobID); err != nil {
			d.logger.Error("job processing failed", "job_id", jobID, "error", err)
		}
	}()
}

// Drain blocks until all in-flight jobs finish or ctx expires.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover restores work left behind by a previous process: pending jobs are
// re-dispatched and abandoned processing jobs are failed. Processing jobs
// younger than the staleness cutoff are left alone, since a draining old
// process may still be finishing them.
func (d *Dispatcher) Recover(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-(d.cfg.AttemptTimeout + recoveryGrace))
	stale, err := d.store.ListJobsByStatus(ctx, models.JobStatusProcessing, cutoff)
	if err != nil {
		return fmt.Errorf("listing stale processing jobs: %w", err)
	}
	for _, j := range stale {
		d.logger.Warn("failing abandoned job",
			"job_id", j.ID, "updated_at", j.UpdatedAt)
		if err := d.orch.failJob(ctx, j.ID, errors.New("processing interrupted by restart")); err != nil {
			d.logger.Error("failing abandoned job failed", "job_id", j.ID, "error", err)
		}
	}

	pending, err := d.store.ListJobsByStatus(ctx, models.JobStatusPending, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("listing pending jobs: %w", err)
	}
	for _, j := range pending {
		d.Dispatch(j.ID)
	}

	if len(stale) > 0 || len(pending) > 0 {
		d.logger.Info("recovered interrupted jobs",
			"redispatched", len(pending), "failed", len(stale))
	}
	return nil
}

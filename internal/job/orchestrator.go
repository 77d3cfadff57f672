package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/copyforgehq/copyforge/internal/cache"
	"github.com/copyforgehq/copyforge/internal/config"
	"github.com/copyforgehq/copyforge/internal/store"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// Cached job status and progress entries outlive the longest plausible
// poll interval, not the job row itself.
const statusTTL = 30 * time.Minute

const maxErrorMessageBytes = 2000

// Orchestrator drives one job through its attempt lifecycle: processing
// transition, per-attempt dispatch to the category processor, backoff
// retries, and terminal persistence with accounting.
type Orchestrator struct {
	store      store.Store
	cache      cache.Cache
	processors map[models.TaskType]Processor
	cfg        config.JobsConfig
	logger     *slog.Logger
}

func NewOrchestrator(st store.Store, ca cache.Cache, processors []Processor, cfg config.JobsConfig, logger *slog.Logger) *Orchestrator {
	byType := make(map[models.TaskType]Processor, len(processors))
	for _, p := range processors {
		byType[p.Category()] = p
	}
	return &Orchestrator{
		store:      st,
		cache:      ca,
		processors: byType,
		cfg:        cfg,
		logger:     logger,
	}
}

// ProcessJob runs a job to a terminal state. Triggers for unknown or
// non-pending jobs are dropped with a log line, so duplicate dispatches
// and replays are harmless.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.store.GetJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if job.Status != models.JobStatusPending {
		o.logger.Warn("ignoring trigger for non-pending job",
			"job_id", jobID, "status", job.Status)
		return nil
	}

	if err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing); err != nil {
		return fmt.Errorf("marking job %s processing: %w", jobID, err)
	}
	_ = o.cache.SetJobStatus(ctx, job.ID, models.JobStatusProcessing, statusTTL)

	proc, ok := o.processors[job.TaskType]
	if !ok {
		// Validation should make this unreachable. The job entered
		// processing above, so a plain fail transition is legal.
		return o.failJob(ctx, job.ID, fmt.Errorf("no processor for task type %q", job.TaskType))
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.cfg.MaxAttempts
	}

	var lastErr error
	for {
		result, procErr := proc.Process(ctx, &Run{
			Job:      job,
			Timeout:  o.cfg.AttemptTimeout,
			Progress: o.recordProgress,
		})
		if procErr == nil {
			return o.completeJob(ctx, job, result)
		}
		lastErr = procErr

		attempts, err := o.store.IncrementJobAttempts(ctx, job.ID)
		if err != nil {
			o.logger.Error("incrementing job attempts failed",
				"job_id", job.ID, "error", err)
			break
		}
		o.logger.Warn("job attempt failed",
			"job_id", job.ID,
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"error", procErr)
		if attempts >= maxAttempts {
			break
		}

		// Exponential backoff keyed on completed attempts: base, 2x, 4x.
		delay := o.cfg.RetryBaseDelay << (attempts - 1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			lastErr = fmt.Errorf("retry aborted: %w", ctx.Err())
			break
		}

		if err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing); err != nil {
			o.logger.Error("re-entering processing failed",
				"job_id", job.ID, "error", err)
			break
		}
	}
	return o.failJob(ctx, job.ID, lastErr)
}

func (o *Orchestrator) completeJob(ctx context.Context, job *models.Job, result *models.TaskResult) error {
	err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted,
		store.WithResult(result),
		store.WithAccounting(int64(result.TotalTokens), result.TotalCostUSD))
	if err != nil {
		return fmt.Errorf("marking job %s completed: %w", job.ID, err)
	}
	_ = o.cache.SetJobStatus(ctx, job.ID, models.JobStatusCompleted, statusTTL)

	// Accounting is forwarded after the terminal write. A crash between the
	// two under-counts usage rather than double-charging.
	if result.TotalTokens > 0 {
		if err := o.store.AddTokenUsage(ctx, job.LicenseID, int64(result.TotalTokens)); err != nil {
			o.logger.Error("recording token usage failed",
				"job_id", job.ID, "license_id", job.LicenseID, "error", err)
		}
	}
	for name, usage := range usageByProvider(result) {
		if err := o.store.AddCostUsage(ctx, job.LicenseID, name, usage.tokensIn, usage.tokensOut, usage.costUSD); err != nil {
			o.logger.Error("recording cost usage failed",
				"job_id", job.ID, "provider", name, "error", err)
		}
	}

	o.logger.Info("job completed",
		"job_id", job.ID,
		"items_succeeded", result.ItemsSucceeded,
		"items_failed", result.ItemsFailed,
		"total_tokens", result.TotalTokens)
	return nil
}

func (o *Orchestrator) failJob(ctx context.Context, jobID uuid.UUID, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = truncateString(cause.Error(), maxErrorMessageBytes)
	}
	if err := o.store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed,
		store.WithErrorMessage(msg)); err != nil {
		return fmt.Errorf("marking job %s failed: %w", jobID, err)
	}
	_ = o.cache.SetJobStatus(ctx, jobID, models.JobStatusFailed, statusTTL)
	o.logger.Warn("job failed", "job_id", jobID, "error", msg)
	return nil
}

// recordProgress persists a snapshot and mirrors it to the cache. Both
// writes are best effort; generation never stalls on bookkeeping.
func (o *Orchestrator) recordProgress(ctx context.Context, jobID uuid.UUID, progress *models.Progress) {
	if err := o.store.UpdateJobProgress(ctx, jobID, progress); err != nil {
		o.logger.Warn("persisting job progress failed", "job_id", jobID, "error", err)
	}
	if err := o.cache.SetJobProgress(ctx, jobID, progress, statusTTL); err != nil {
		o.logger.Warn("caching job progress failed", "job_id", jobID, "error", err)
	}
}

type providerUsage struct {
	tokensIn  int64
	tokensOut int64
	costUSD   float64
}

func usageByProvider(result *models.TaskResult) map[string]providerUsage {
	byProvider := make(map[string]providerUsage)
	for _, item := range result.Items {
		if item.Status != models.ItemStatusSuccess || item.Provider == "" {
			continue
		}
		u := byProvider[item.Provider]
		u.tokensIn += int64(item.TokensIn)
		u.tokensOut += int64(item.TokensOut)
		u.costUSD += item.CostUSD
		byProvider[item.Provider] = u
	}
	return byProvider
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

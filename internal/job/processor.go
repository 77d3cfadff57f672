// Package job implements the asynchronous generation pipeline: submission,
// dispatch, per-category processing, retry orchestration, and startup
// recovery.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/copyforgehq/copyforge/internal/provider"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// ErrAttemptTimeout aborts an attempt whose elapsed time exceeded the budget.
// The check runs between items, so an in-flight provider call is never cut.
var ErrAttemptTimeout = errors.New("attempt timed out between items")

// Router routes one generation request to the first available provider in
// the category's chain. *provider.Router satisfies it.
type Router interface {
	Route(ctx context.Context, category models.TaskType, prompt string, opts provider.GenerateOptions) (*provider.RouterResult, error)
}

// ProgressSink receives progress snapshots during an attempt. Writes are
// best effort; implementations must not fail the attempt.
type ProgressSink func(ctx context.Context, jobID uuid.UUID, progress *models.Progress)

// Run is one whole-job attempt. Every attempt starts from item zero with
// fresh progress.
type Run struct {
	Job      *models.Job
	Timeout  time.Duration
	Progress ProgressSink
}

// Processor generates all items of one task category.
type Processor interface {
	Category() models.TaskType
	Process(ctx context.Context, run *Run) (*models.TaskResult, error)
}

// batchItem is one unit of generation work prepared by a processor.
// Parse attaches the parsed content to the outcome of a successful item.
type batchItem struct {
	Label  string
	Prompt string
	Parse  func(outcome *models.ItemOutcome, content string)
}

// runItems drives a prepared batch through the router sequentially. Item
// failures are recorded and skipped, never fatal; only a timeout or a
// cancelled context aborts the attempt.
func runItems(ctx context.Context, router Router, run *Run, category models.TaskType, items []batchItem) (*models.TaskResult, error) {
	start := time.Now()
	tracker := newProgressTracker(category, len(items))
	opts := provider.GenerateOptions{
		Temperature: run.Job.TaskData.Options.Temperature,
		MaxTokens:   run.Job.TaskData.Options.MaxTokens,
	}

	result := &models.TaskResult{
		Type:  category,
		Items: make([]models.ItemOutcome, 0, len(items)),
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if run.Timeout > 0 && time.Since(start) >= run.Timeout {
			return nil, fmt.Errorf("%w after %d of %d items", ErrAttemptTimeout, i, len(items))
		}
		if run.Progress != nil {
			run.Progress(ctx, run.Job.ID, tracker.Snapshot(i, item.Label))
		}

		itemStart := time.Now()
		outcome := models.ItemOutcome{Index: i, Label: item.Label}

		routed, err := router.Route(ctx, category, item.Prompt, opts)
		outcome.DurationSeconds = time.Since(itemStart).Seconds()
		if err != nil {
			outcome.Status = models.ItemStatusFailed
			outcome.Error = err.Error()
			result.ItemsFailed++
		} else {
			outcome.Status = models.ItemStatusSuccess
			outcome.Provider = routed.Provider
			outcome.Model = routed.Model
			outcome.UsedFallback = routed.UsedFallback
			outcome.TokensIn = routed.TokensIn
			outcome.TokensOut = routed.TokensOut
			outcome.TotalTokens = routed.TotalTokens
			outcome.CostUSD = routed.CostUSD
			item.Parse(&outcome, routed.Content)

			result.ItemsSucceeded++
			result.TotalTokens += routed.TotalTokens
			result.TotalCostUSD += routed.CostUSD
		}

		tracker.ItemDone(outcome.DurationSeconds)
		result.Items = append(result.Items, outcome)
	}

	if run.Progress != nil {
		run.Progress(ctx, run.Job.ID, tracker.Snapshot(len(items), ""))
	}
	result.ProcessingTimeSeconds = time.Since(start).Seconds()
	return result, nil
}

package job

import (
	"math"

	"github.com/copyforgehq/copyforge/pkg/models"
)

// Flat per-item duration estimates in seconds, used for the submission-time
// wait estimate and as the ETA fallback before any item has completed.
var defaultItemSeconds = map[models.TaskType]float64{
	models.TaskTypeArticles:       15,
	models.TaskTypeProducts:       10,
	models.TaskTypeDesignSections: 20,
}

const submitOverheadSeconds = 5

// EstimateWaitSeconds predicts how long a freshly submitted job will take
// end to end, including queueing overhead.
func EstimateWaitSeconds(taskType models.TaskType, itemCount int) int {
	if itemCount < 0 {
		itemCount = 0
	}
	per, ok := defaultItemSeconds[taskType]
	if !ok {
		per = defaultItemSeconds[models.TaskTypeArticles]
	}
	return submitOverheadSeconds + int(per)*itemCount
}

// progressTracker computes percent and ETA figures for one attempt.
// An attempt processes items sequentially, so the tracker is not
// synchronized.
type progressTracker struct {
	taskType  models.TaskType
	total     int
	durations []float64
}

func newProgressTracker(taskType models.TaskType, total int) *progressTracker {
	return &progressTracker{taskType: taskType, total: total}
}

// ItemDone records the observed duration of a finished item. Recorded
// durations replace the flat default in subsequent ETA calculations.
func (p *progressTracker) ItemDone(seconds float64) {
	p.durations = append(p.durations, seconds)
}

// Snapshot returns the progress as of `completed` finished items,
// optionally labeled with the item being worked on next.
func (p *progressTracker) Snapshot(completed int, currentLabel string) *models.Progress {
	percent := 100
	if p.total > 0 {
		percent = int(math.Round(float64(completed) * 100 / float64(p.total)))
	}

	remaining := p.total - completed
	per := defaultItemSeconds[p.taskType]
	if len(p.durations) > 0 {
		var sum float64
		for _, d := range p.durations {
			sum += d
		}
		per = sum / float64(len(p.durations))
	}

	return &models.Progress{
		Percent:        percent,
		ItemsCompleted: completed,
		ItemsTotal:     p.total,
		CurrentItem:    currentLabel,
		ETASeconds:     int(math.Round(per * float64(remaining))),
	}
}

package job

import (
	"testing"

	"github.com/copyforgehq/copyforge/pkg/models"
)

// --- EstimateWaitSeconds tests ---

func TestEstimateWaitSeconds(t *testing.T) {
	tests := []struct {
		name      string
		taskType  models.TaskType
		itemCount int
		expected  int
	}{
		{
			name:      "two articles",
			taskType:  models.TaskTypeArticles,
			itemCount: 2,
			expected:  35,
		},
		{
			name:      "three products",
			taskType:  models.TaskTypeProducts,
			itemCount: 3,
			expected:  35,
		},
		{
			name:      "one design section",
			taskType:  models.TaskTypeDesignSections,
			itemCount: 1,
			expected:  25,
		},
		{
			name:      "zero items is just overhead",
			taskType:  models.TaskTypeArticles,
			itemCount: 0,
			expected:  5,
		},
		{
			name:      "negative count treated as zero",
			taskType:  models.TaskTypeProducts,
			itemCount: -3,
			expected:  5,
		},
		{
			name:      "unknown type falls back to article estimate",
			taskType:  models.TaskType("unknown"),
			itemCount: 2,
			expected:  35,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateWaitSeconds(tt.taskType, tt.itemCount)
			if got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

// --- progressTracker tests ---

func TestTrackerPercentRounds(t *testing.T) {
	tracker := newProgressTracker(models.TaskTypeArticles, 3)

	if p := tracker.Snapshot(1, "x").Percent; p != 33 {
		t.Errorf("1/3 should round to 33, got %d", p)
	}
	if p := tracker.Snapshot(2, "x").Percent; p != 67 {
		t.Errorf("2/3 should round to 67, got %d", p)
	}
	if p := tracker.Snapshot(3, "").Percent; p != 100 {
		t.Errorf("3/3 should be 100, got %d", p)
	}
}

func TestTrackerETAUsesFlatDefaultBeforeFirstCompletion(t *testing.T) {
	tracker := newProgressTracker(models.TaskTypeArticles, 4)

	snap := tracker.Snapshot(0, "first topic")
	if snap.ETASeconds != 60 {
		t.Errorf("4 articles at 15s each should estimate 60s, got %d", snap.ETASeconds)
	}
	if snap.Percent != 0 {
		t.Errorf("expected 0 percent, got %d", snap.Percent)
	}
	if snap.CurrentItem != "first topic" {
		t.Errorf("expected current item label, got %q", snap.CurrentItem)
	}
	if snap.ItemsTotal != 4 || snap.ItemsCompleted != 0 {
		t.Errorf("unexpected counts: %d/%d", snap.ItemsCompleted, snap.ItemsTotal)
	}
}

func TestTrackerETAUsesMeanOfRecordedDurations(t *testing.T) {
	tracker := newProgressTracker(models.TaskTypeProducts, 4)
	tracker.ItemDone(2)
	tracker.ItemDone(4)

	// Mean is 3s, two items remain.
	if eta := tracker.Snapshot(2, "x").ETASeconds; eta != 6 {
		t.Errorf("expected ETA 6, got %d", eta)
	}
}

func TestTrackerFinalSnapshot(t *testing.T) {
	tracker := newProgressTracker(models.TaskTypeDesignSections, 2)
	tracker.ItemDone(1)
	tracker.ItemDone(1)

	snap := tracker.Snapshot(2, "")
	if snap.Percent != 100 {
		t.Errorf("expected 100 percent, got %d", snap.Percent)
	}
	if snap.ETASeconds != 0 {
		t.Errorf("expected ETA 0 with nothing remaining, got %d", snap.ETASeconds)
	}
	if snap.CurrentItem != "" {
		t.Errorf("expected empty current item, got %q", snap.CurrentItem)
	}
}

func TestTrackerEmptyBatch(t *testing.T) {
	tracker := newProgressTracker(models.TaskTypeArticles, 0)

	snap := tracker.Snapshot(0, "")
	if snap.Percent != 100 {
		t.Errorf("empty batch should report 100 percent, got %d", snap.Percent)
	}
	if snap.ETASeconds != 0 {
		t.Errorf("expected ETA 0, got %d", snap.ETASeconds)
	}
}

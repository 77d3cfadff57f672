package job

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/copyforgehq/copyforge/pkg/models"
)

// fakeProcessor returns scripted outcomes, one per Process call.
type fakeProcessor struct {
	category models.TaskType
	results  []*models.TaskResult
	errs     []error
	calls    int
}

func (p *fakeProcessor) Category() models.TaskType { return p.category }

func (p *fakeProcessor) Process(_ context.Context, _ *Run) (*models.TaskResult, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.results) {
		return p.results[i], nil
	}
	return &models.TaskResult{Type: p.category}, nil
}

func storedJob(st *mockStore, status string) *models.Job {
	job := &models.Job{
		ID:          uuid.New(),
		LicenseID:   uuid.New(),
		TaskType:    models.TaskTypeArticles,
		Status:      status,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	st.jobs[job.ID] = job
	return job
}

func newOrchestrator(st *mockStore, ca *mockCache, procs ...Processor) *Orchestrator {
	return NewOrchestrator(st, ca, procs, testJobsConfig(), discardLogger())
}

func statusSequence(st *mockStore) []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]string, len(st.statusUpdates))
	for i, u := range st.statusUpdates {
		out[i] = u.Status
	}
	return out
}

// --- ProcessJob tests ---

func TestProcessJobCompletesOnFirstAttempt(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	result := &models.TaskResult{
		Type:           models.TaskTypeArticles,
		ItemsSucceeded: 1,
		TotalTokens:    500,
		TotalCostUSD:   0.01,
		Items: []models.ItemOutcome{
			{Status: models.ItemStatusSuccess, Provider: "openai", TokensIn: 200, TokensOut: 300, TotalTokens: 500, CostUSD: 0.01},
		},
	}
	proc := &fakeProcessor{category: models.TaskTypeArticles, results: []*models.TaskResult{result}}
	orch := newOrchestrator(st, ca, proc)
	job := storedJob(st, models.JobStatusPending)

	if err := orch.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{models.JobStatusProcessing, models.JobStatusCompleted}
	got := statusSequence(st)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
	if job.Attempts != 0 {
		t.Errorf("successful first attempt should not increment attempts, got %d", job.Attempts)
	}
	if status, _, _ := ca.GetJobStatus(context.Background(), job.ID); status != models.JobStatusCompleted {
		t.Errorf("cache not mirrored, got %q", status)
	}
}

func TestProcessJobRetriesThenSucceeds(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	proc := &fakeProcessor{
		category: models.TaskTypeArticles,
		errs:     []error{errors.New("attempt 1 broke"), ErrAttemptTimeout, nil},
		results:  []*models.TaskResult{nil, nil, {Type: models.TaskTypeArticles, ItemsSucceeded: 1}},
	}
	orch := newOrchestrator(st, ca, proc)
	job := storedJob(st, models.JobStatusPending)

	if err := orch.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if proc.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", proc.calls)
	}
	if job.Attempts != 2 {
		t.Errorf("two failed attempts should be recorded, got %d", job.Attempts)
	}
	got := statusSequence(st)
	want := []string{
		models.JobStatusProcessing,
		models.JobStatusProcessing,
		models.JobStatusProcessing,
		models.JobStatusCompleted,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestProcessJobFailsAfterMaxAttempts(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	proc := &fakeProcessor{
		category: models.TaskTypeArticles,
		errs: []error{
			errors.New("first failure"),
			errors.New("second failure"),
			errors.New("final failure"),
		},
	}
	orch := newOrchestrator(st, ca, proc)
	job := storedJob(st, models.JobStatusPending)

	if err := orch.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if proc.calls != 3 {
		t.Errorf("expected exactly max_attempts calls, got %d", proc.calls)
	}
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %q", job.Status)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage != "final failure" {
		t.Errorf("last error should be retained, got %v", job.ErrorMessage)
	}
	if status, _, _ := ca.GetJobStatus(context.Background(), job.ID); status != models.JobStatusFailed {
		t.Errorf("cache not mirrored, got %q", status)
	}
}

func TestProcessJobDropsNonPendingTrigger(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	proc := &fakeProcessor{category: models.TaskTypeArticles}
	orch := newOrchestrator(st, ca, proc)
	job := storedJob(st, models.JobStatusCompleted)

	if err := orch.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("duplicate trigger should be dropped silently, got %v", err)
	}
	if proc.calls != 0 {
		t.Errorf("processor must not run, got %d calls", proc.calls)
	}
	if len(statusSequence(st)) != 0 {
		t.Errorf("no status updates expected, got %v", statusSequence(st))
	}
}

func TestProcessJobUnknownJobID(t *testing.T) {
	st := newMockStore()
	orch := newOrchestrator(st, newMockCache(), &fakeProcessor{category: models.TaskTypeArticles})

	if err := orch.ProcessJob(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error for unknown job id")
	}
}

func TestProcessJobUnknownTaskType(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	orch := newOrchestrator(st, ca, &fakeProcessor{category: models.TaskTypeArticles})

	job := storedJob(st, models.JobStatusPending)
	job.TaskType = models.TaskType("bogus")

	if err := orch.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %q", job.Status)
	}
	if job.ErrorMessage == nil || !strings.Contains(*job.ErrorMessage, "no processor") {
		t.Errorf("unexpected error message %v", job.ErrorMessage)
	}
}

func TestProcessJobForwardsPerProviderAccounting(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	result := &models.TaskResult{
		Type:           models.TaskTypeProducts,
		ItemsSucceeded: 3,
		ItemsFailed:    1,
		TotalTokens:    900,
		TotalCostUSD:   0.875,
		Items: []models.ItemOutcome{
			{Status: models.ItemStatusSuccess, Provider: "openai", TokensIn: 100, TokensOut: 200, CostUSD: 0.25},
			{Status: models.ItemStatusSuccess, Provider: "gemini", TokensIn: 50, TokensOut: 150, CostUSD: 0.125},
			{Status: models.ItemStatusSuccess, Provider: "openai", TokensIn: 100, TokensOut: 300, CostUSD: 0.5},
			{Status: models.ItemStatusFailed, Error: "all providers failed"},
		},
	}
	proc := &fakeProcessor{category: models.TaskTypeProducts, results: []*models.TaskResult{result}}
	orch := newOrchestrator(st, ca, proc)

	job := storedJob(st, models.JobStatusPending)
	job.TaskType = models.TaskTypeProducts

	if err := orch.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.tokenUsages) != 1 || st.tokenUsages[0].Tokens != 900 {
		t.Fatalf("expected one 900-token usage record, got %+v", st.tokenUsages)
	}

	byProvider := make(map[string]costUsage, len(st.costUsages))
	for _, c := range st.costUsages {
		byProvider[c.Provider] = c
	}
	if len(byProvider) != 2 {
		t.Fatalf("expected 2 providers in the ledger, got %+v", st.costUsages)
	}
	oa := byProvider["openai"]
	if oa.TokensIn != 200 || oa.TokensOut != 500 || oa.CostUSD != 0.75 {
		t.Errorf("openai deltas wrong: %+v", oa)
	}
	ge := byProvider["gemini"]
	if ge.TokensIn != 50 || ge.TokensOut != 150 || ge.CostUSD != 0.125 {
		t.Errorf("gemini deltas wrong: %+v", ge)
	}
}

func TestProcessJobTruncatesLongErrorMessage(t *testing.T) {
	st := newMockStore()
	ca := newMockCache()
	longErr := errors.New(strings.Repeat("x", 5000))
	proc := &fakeProcessor{
		category: models.TaskTypeArticles,
		errs:     []error{longErr, longErr, longErr},
	}
	orch := newOrchestrator(st, ca, proc)
	job := storedJob(st, models.JobStatusPending)

	if err := orch.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ErrorMessage == nil || len(*job.ErrorMessage) != 2000 {
		t.Errorf("expected message truncated to 2000 bytes, got %d", len(*job.ErrorMessage))
	}
}

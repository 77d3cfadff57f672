package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/copyforgehq/copyforge/internal/admission"
	"github.com/copyforgehq/copyforge/internal/cache"
	"github.com/copyforgehq/copyforge/internal/store"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// ErrInvalidTask marks submissions rejected for a malformed task payload.
var ErrInvalidTask = errors.New("invalid task payload")

// Service is the job lifecycle API used by the HTTP handlers.
type Service struct {
	store       store.Store
	cache       cache.Cache
	admission   *admission.Service
	dispatcher  *Dispatcher
	maxAttempts int
	logger      *slog.Logger
}

func NewService(st store.Store, ca cache.Cache, adm *admission.Service, disp *Dispatcher, maxAttempts int, logger *slog.Logger) *Service {
	return &Service{
		store:       st,
		cache:       ca,
		admission:   adm,
		dispatcher:  disp,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Submit validates the payload, runs admission checks, persists the job,
// and dispatches it for background processing. The returned job is pending;
// callers poll for completion.
func (s *Service) Submit(ctx context.Context, lic *models.License, data models.TaskData) (*models.Job, error) {
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if err := s.admission.AdmitJob(ctx, lic); err != nil {
		return nil, err
	}

	job, err := models.NewJob(lic.ID, data, s.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	_ = s.cache.SetJobStatus(ctx, job.ID, models.JobStatusPending, statusTTL)

	s.dispatcher.Dispatch(job.ID)

	s.logger.Info("job submitted",
		"job_id", job.ID,
		"license_id", lic.ID,
		"task_type", job.TaskType,
		"items", data.ItemCount())
	return job, nil
}

// GetJob returns a license-scoped job. While the job is processing, live
// progress from the cache overlays the last persisted snapshot.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID, lic *models.License) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id, lic.ID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusProcessing {
		if progress, ok, err := s.cache.GetJobProgress(ctx, id); err == nil && ok {
			job.Progress = progress
		}
	}
	return job, nil
}

// ListJobs returns one page of the license's jobs, newest first, with the
// total count for pagination.
func (s *Service) ListJobs(ctx context.Context, lic *models.License, status string, page, limit int) ([]*models.Job, int, error) {
	return s.store.ListJobs(ctx, store.JobFilter{
		LicenseID: lic.ID,
		Status:    status,
		Page:      page,
		Limit:     limit,
	})
}

// Package admission gates job creation on license quota and per-license
// concurrency, and records every denial for audit.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/copyforgehq/copyforge/internal/config"
	"github.com/copyforgehq/copyforge/internal/store"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// Denial is returned when a request fails an admission check. It is an
// error so callers can pass it up unchanged and map Reason to an HTTP
// status at the edge.
type Denial struct {
	Reason string
	Detail string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("admission denied (%s): %s", d.Reason, d.Detail)
}

// Auditor records admission denials. The rate limit middleware reports its
// denials through the same sink.
type Auditor interface {
	RecordDenial(ctx context.Context, audit *models.AdmissionAudit)
}

// Service runs the admission checks for new jobs.
type Service struct {
	store  store.Store
	cfg    config.AdmissionConfig
	logger *slog.Logger
}

// NewService creates a new admission Service.
func NewService(st store.Store, cfg config.AdmissionConfig, logger *slog.Logger) *Service {
	return &Service{store: st, cfg: cfg, logger: logger}
}

// AdmitJob checks whether the license may create another job: the token
// balance must be at least QuotaMinTokens and the number of pending or
// processing jobs must be below MaxActiveJobs. A denial is audited and
// returned as *Denial; any other error means the checks could not run.
func (s *Service) AdmitJob(ctx context.Context, lic *models.License) error {
	remaining, err := s.store.GetRemainingTokens(ctx, lic.ID)
	if err != nil {
		return fmt.Errorf("checking token balance: %w", err)
	}
	if remaining < s.cfg.QuotaMinTokens {
		denial := &Denial{
			Reason: models.DenialReasonQuotaExceeded,
			Detail: fmt.Sprintf("%d tokens remaining, %d required", remaining, s.cfg.QuotaMinTokens),
		}
		s.RecordDenial(ctx, s.denialAudit(lic, denial))
		return denial
	}

	active, err := s.store.CountActiveJobs(ctx, lic.ID)
	if err != nil {
		return fmt.Errorf("counting active jobs: %w", err)
	}
	if active >= s.cfg.MaxActiveJobs {
		denial := &Denial{
			Reason: models.DenialReasonTooManyActiveJobs,
			Detail: fmt.Sprintf("%d active jobs, limit is %d", active, s.cfg.MaxActiveJobs),
		}
		s.RecordDenial(ctx, s.denialAudit(lic, denial))
		return denial
	}

	return nil
}

// RecordDenial writes an audit row. Best effort: a failed write is logged
// and never masks the denial that triggered it.
func (s *Service) RecordDenial(ctx context.Context, audit *models.AdmissionAudit) {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	if err := s.store.CreateAdmissionAudit(ctx, audit); err != nil {
		s.logger.Warn("failed to write admission audit",
			"reason", audit.Reason, "identifier", audit.Identifier, "error", err)
	}
}

func (s *Service) denialAudit(lic *models.License, denial *Denial) *models.AdmissionAudit {
	return &models.AdmissionAudit{
		ID:         uuid.New(),
		LicenseID:  &lic.ID,
		Identifier: lic.ID.String(),
		Endpoint:   "submit_job",
		Reason:     denial.Reason,
		Detail:     denial.Detail,
		CreatedAt:  time.Now().UTC(),
	}
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/copyforgehq/copyforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateLicense(ctx context.Context, lic *models.License) error
	GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	GetLicensesByPrefix(ctx context.Context, prefix string) ([]*models.License, error)
	ListLicenses(ctx context.Context) ([]*models.License, error)
	RevokeLicense(ctx context.Context, id uuid.UUID) error
	UpdateLicenseLastUsed(ctx context.Context, id uuid.UUID) error
	CreditLicense(ctx context.Context, id uuid.UUID, tokens int64) (*models.License, error)

	GetRemainingTokens(ctx context.Context, licenseID uuid.UUID) (int64, error)
	AddTokenUsage(ctx context.Context, licenseID uuid.UUID, tokens int64) error
	AddCostUsage(ctx context.Context, licenseID uuid.UUID, provider string, tokensIn, tokensOut int64, costUSD float64) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, licenseID uuid.UUID) (*models.Job, error)
	GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress *models.Progress) error
	IncrementJobAttempts(ctx context.Context, id uuid.UUID) (int, error)
	CountActiveJobs(ctx context.Context, licenseID uuid.UUID) (int, error)
	ListJobsByStatus(ctx context.Context, status string, olderThan time.Time) ([]*models.Job, error)

	CreateAdmissionAudit(ctx context.Context, audit *models.AdmissionAudit) error
}

type JobFilter struct {
	LicenseID uuid.UUID
	Status    string
	Page      int
	Limit     int
}

// JobUpdate collects the optional fields of an UpdateJobStatus call.
// Exported so fakes can apply the options and inspect what was set.
type JobUpdate struct {
	ErrorMessage *string
	Result       *models.TaskResult
	TokensUsed   *int64
	CostUSD      *float64
}

type JobUpdateOption func(*JobUpdate)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}

func WithResult(result *models.TaskResult) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Result = result
	}
}

func WithAccounting(tokens int64, costUSD float64) JobUpdateOption {
	return func(p *JobUpdate) {
		p.TokensUsed = &tokens
		p.CostUSD = &costUSD
	}
}

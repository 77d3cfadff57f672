package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/copyforgehq/copyforge/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Licenses ---

const licenseColumns = `id, name, key_hash, key_prefix, scopes, tokens_remaining, tokens_used, last_used_at, deleted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*models.License, error) {
	var l models.License
	err := row.Scan(&l.ID, &l.Name, &l.KeyHash, &l.KeyPrefix, &l.Scopes,
		&l.TokensRemaining, &l.TokensUsed, &l.LastUsedAt, &l.DeletedAt,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) CreateLicense(ctx context.Context, lic *models.License) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO licenses (id, name, key_hash, key_prefix, scopes, tokens_remaining, tokens_used, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lic.ID, lic.Name, lic.KeyHash, lic.KeyPrefix, lic.Scopes,
		lic.TokensRemaining, lic.TokensUsed, lic.CreatedAt, lic.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	lic, err := scanLicense(s.pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return lic, nil
}

// GetLicensesByPrefix returns all live licenses sharing a key prefix. The
// prefix is not unique; the caller bcrypt-compares the raw key against each
// candidate's hash.
func (s *PostgresStore) GetLicensesByPrefix(ctx context.Context, prefix string) ([]*models.License, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get licenses by prefix: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}

func (s *PostgresStore) ListLicenses(ctx context.Context) ([]*models.License, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}

func (s *PostgresStore) RevokeLicense(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE licenses SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateLicenseLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE licenses SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update license last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreditLicense(ctx context.Context, id uuid.UUID, tokens int64) (*models.License, error) {
	lic, err := scanLicense(s.pool.QueryRow(ctx,
		`UPDATE licenses SET tokens_remaining = tokens_remaining + $2, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+licenseColumns, id, tokens))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credit license: %w", err)
	}
	return lic, nil
}

// --- Usage accounting ---

func (s *PostgresStore) GetRemainingTokens(ctx context.Context, licenseID uuid.UUID) (int64, error) {
	var remaining int64
	err := s.pool.QueryRow(ctx,
		`SELECT tokens_remaining FROM licenses WHERE id = $1 AND deleted_at IS NULL`, licenseID,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get remaining tokens: %w", err)
	}
	return remaining, nil
}

// AddTokenUsage draws down a license's prepaid budget. The balance floors at
// zero; an overdraft from an in-flight job does not go negative.
func (s *PostgresStore) AddTokenUsage(ctx context.Context, licenseID uuid.UUID, tokens int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE licenses SET
		   tokens_remaining = GREATEST(tokens_remaining - $2, 0),
		   tokens_used = tokens_used + $2,
		   updated_at = NOW()
		 WHERE id = $1`, licenseID, tokens)
	if err != nil {
		return fmt.Errorf("add token usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddCostUsage(ctx context.Context, licenseID uuid.UUID, provider string, tokensIn, tokensOut int64, costUSD float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_ledger (id, license_id, provider, month, tokens_in, tokens_out, cost_usd, created_at, updated_at)
		 VALUES ($1, $2, $3, date_trunc('month', NOW())::date, $4, $5, $6, NOW(), NOW())
		 ON CONFLICT (license_id, provider, month) DO UPDATE SET
		   tokens_in = cost_ledger.tokens_in + EXCLUDED.tokens_in,
		   tokens_out = cost_ledger.tokens_out + EXCLUDED.tokens_out,
		   cost_usd = cost_ledger.cost_usd + EXCLUDED.cost_usd,
		   updated_at = NOW()`,
		uuid.New(), licenseID, provider, tokensIn, tokensOut, costUSD)
	if err != nil {
		return fmt.Errorf("add cost usage: %w", err)
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, license_id, task_type, task_data, status, attempts, max_attempts, progress, result, error_message, tokens_used, cost_usd, started_at, completed_at, created_at, updated_at`

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.LicenseID, &j.TaskType, &j.TaskData, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.Progress, &j.Result, &j.ErrorMessage,
		&j.TokensUsed, &j.CostUSD, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, license_id, task_type, task_data, status, attempts, max_attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.LicenseID, job.TaskType, job.TaskData, job.Status,
		job.Attempts, job.MaxAttempts, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, licenseID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND license_id = $2`, id, licenseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"license_id = $1"}
	args := []any{filter.LicenseID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	// Count query
	var total int
	countQuery := "SELECT COUNT(*) FROM jobs WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	// Normalize pagination
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	// Data query
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

var validTransitions = map[string][]string{
	models.JobStatusPending:    {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed},
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &JobUpdate{}
	for _, opt := range opts {
		opt(params)
	}

	// Fetch current status
	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	// Validate transition; terminal states have no outgoing edges
	allowed := validTransitions[currentStatus]
	valid := false
	for _, a := range allowed {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusProcessing {
		// Only the first entry into processing stamps started_at
		query += fmt.Sprintf(", started_at = COALESCE(started_at, $%d)", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Result != nil {
		query += fmt.Sprintf(", result = $%d", argIdx)
		args = append(args, params.Result)
		argIdx++
	}
	if params.TokensUsed != nil {
		query += fmt.Sprintf(", tokens_used = $%d", argIdx)
		args = append(args, *params.TokensUsed)
		argIdx++
	}
	if params.CostUSD != nil {
		query += fmt.Sprintf(", cost_usd = $%d", argIdx)
		args = append(args, *params.CostUSD)
		argIdx++
	}

	query += " WHERE id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress *models.Progress) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress = $2, updated_at = NOW() WHERE id = $1`, id, progress)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementJobAttempts bumps the attempt counter in a single statement and
// returns the new count.
func (s *PostgresStore) IncrementJobAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`UPDATE jobs SET attempts = attempts + 1, updated_at = NOW() WHERE id = $1 RETURNING attempts`, id,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment job attempts: %w", err)
	}
	return attempts, nil
}

func (s *PostgresStore) CountActiveJobs(ctx context.Context, licenseID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE license_id = $1 AND status IN ($2, $3)`,
		licenseID, models.JobStatusPending, models.JobStatusProcessing,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, status string, olderThan time.Time) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND updated_at < $2 ORDER BY created_at ASC`,
		status, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- Admission audits ---

func (s *PostgresStore) CreateAdmissionAudit(ctx context.Context, audit *models.AdmissionAudit) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO admission_audits (id, license_id, identifier, endpoint, reason, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		audit.ID, audit.LicenseID, audit.Identifier, audit.Endpoint,
		audit.Reason, audit.Detail, audit.CreatedAt)
	if err != nil {
		return fmt.Errorf("create admission audit: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

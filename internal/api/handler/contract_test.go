package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/copyforgehq/copyforge/internal/admission"
	"github.com/copyforgehq/copyforge/internal/api"
	"github.com/copyforgehq/copyforge/internal/api/handler"
	mw "github.com/copyforgehq/copyforge/internal/api/middleware"
	"github.com/copyforgehq/copyforge/internal/cache"
	"github.com/copyforgehq/copyforge/internal/config"
	"github.com/copyforgehq/copyforge/internal/job"
	"github.com/copyforgehq/copyforge/internal/provider"
	"github.com/copyforgehq/copyforge/internal/ratelimit"
	"github.com/copyforgehq/copyforge/internal/store"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

var (
	generateRawKey = "cf_gen_contract_key_1234567890"
	adminRawKey    = "cf_adm_contract_key_1234567890"
	brokeRawKey    = "cf_low_contract_key_1234567890"
)

func contractKeyHash(rawKey string) string {
	h, _ := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	return string(h)
}

func seedLicense(rawKey, name string, tokens int64, scopes ...string) *models.License {
	now := time.Now().UTC()
	return &models.License{
		ID:              uuid.New(),
		Name:            name,
		KeyHash:         contractKeyHash(rawKey),
		KeyPrefix:       rawKey[:8],
		Scopes:          scopes,
		TokensRemaining: tokens,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ─── mock store ──────────────────────────────────────────────────────────────

type mockStore struct {
	mu       sync.Mutex
	licenses []*models.License
	jobs     map[uuid.UUID]*models.Job
	audits   []*models.AdmissionAudit
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) CreateLicense(_ context.Context, lic *models.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenses = append(s.licenses, lic)
	return nil
}

func (s *mockStore) GetLicense(_ context.Context, id uuid.UUID) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.licenses {
		if lic.ID == id && lic.DeletedAt == nil {
			return lic, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) GetLicensesByPrefix(_ context.Context, prefix string) ([]*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.License
	for _, lic := range s.licenses {
		if lic.KeyPrefix == prefix && lic.DeletedAt == nil {
			out = append(out, lic)
		}
	}
	return out, nil
}

func (s *mockStore) ListLicenses(_ context.Context) ([]*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.License
	for _, lic := range s.licenses {
		if lic.DeletedAt == nil {
			out = append(out, lic)
		}
	}
	return out, nil
}

func (s *mockStore) RevokeLicense(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.licenses {
		if lic.ID == id && lic.DeletedAt == nil {
			now := time.Now().UTC()
			lic.DeletedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *mockStore) UpdateLicenseLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *mockStore) CreditLicense(_ context.Context, id uuid.UUID, tokens int64) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.licenses {
		if lic.ID == id && lic.DeletedAt == nil {
			lic.TokensRemaining += tokens
			return lic, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) GetRemainingTokens(_ context.Context, licenseID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.licenses {
		if lic.ID == licenseID {
			return lic.TokensRemaining, nil
		}
	}
	return 0, store.ErrNotFound
}

func (s *mockStore) AddTokenUsage(_ context.Context, licenseID uuid.UUID, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.licenses {
		if lic.ID == licenseID {
			lic.TokensRemaining -= tokens
			lic.TokensUsed += tokens
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *mockStore) AddCostUsage(_ context.Context, _ uuid.UUID, _ string, _, _ int64, _ float64) error {
	return nil
}

func (s *mockStore) CreateJob(_ context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID, licenseID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.LicenseID == licenseID {
		cp := *j
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) GetJobByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.Job
	for _, j := range s.jobs {
		if j.LicenseID != filter.LicenseID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		cp := *j
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].CreatedAt.After(all[k].CreatedAt) })
	total := len(all)
	start := (filter.Page - 1) * filter.Limit
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *mockStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	update := store.JobUpdate{}
	for _, opt := range opts {
		opt(&update)
	}
	j.Status = status
	j.UpdatedAt = time.Now().UTC()
	if update.ErrorMessage != nil {
		j.ErrorMessage = update.ErrorMessage
	}
	if update.Result != nil {
		j.Result = update.Result
	}
	if update.TokensUsed != nil {
		j.TokensUsed = *update.TokensUsed
	}
	if update.CostUSD != nil {
		j.CostUSD = *update.CostUSD
	}
	return nil
}

func (s *mockStore) UpdateJobProgress(_ context.Context, id uuid.UUID, progress *models.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Progress = progress
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *mockStore) IncrementJobAttempts(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	j.Attempts++
	return j.Attempts, nil
}

func (s *mockStore) CountActiveJobs(_ context.Context, licenseID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.LicenseID == licenseID &&
			(j.Status == models.JobStatusPending || j.Status == models.JobStatusProcessing) {
			n++
		}
	}
	return n, nil
}

func (s *mockStore) ListJobsByStatus(_ context.Context, status string, olderThan time.Time) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.Status == status && j.UpdatedAt.Before(olderThan) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *mockStore) CreateAdmissionAudit(_ context.Context, audit *models.AdmissionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, audit)
	return nil
}

var _ store.Store = (*mockStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type mockCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
	counters map[string]int64
}

func newMockCache() *mockCache {
	return &mockCache{
		statuses: make(map[uuid.UUID]string),
		counters: make(map[string]int64),
	}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) Close() error                                                     { return nil }

func (c *mockCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = status
	return nil
}

func (c *mockCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[jobID]
	return status, ok, nil
}

func (c *mockCache) SetJobProgress(_ context.Context, _ uuid.UUID, _ *models.Progress, _ time.Duration) error {
	return nil
}

func (c *mockCache) GetJobProgress(_ context.Context, _ uuid.UUID) (*models.Progress, bool, error) {
	return nil, false, nil
}

func (c *mockCache) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

var _ cache.Cache = (*mockCache)(nil)

// ─── provider fake ───────────────────────────────────────────────────────────

type routerFunc func(ctx context.Context, category models.TaskType, prompt string, opts provider.GenerateOptions) (*provider.RouterResult, error)

func (f routerFunc) Route(ctx context.Context, category models.TaskType, prompt string, opts provider.GenerateOptions) (*provider.RouterResult, error) {
	return f(ctx, category, prompt, opts)
}

func cannedArticleRouter() routerFunc {
	reply := "```json\n" +
		`{"title":"Brewing Basics","content":"Grind fresh and pour slowly.","meta_description":"A short guide."}` +
		"\n```"
	return func(_ context.Context, _ models.TaskType, _ string, _ provider.GenerateOptions) (*provider.RouterResult, error) {
		return &provider.RouterResult{
			Content:     reply,
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			TokensIn:    100,
			TokensOut:   200,
			TotalTokens: 300,
			CostUSD:     0.002,
		}, nil
	}
}

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server *httptest.Server
	store  *mockStore
	cache  *mockCache

	generateLicense *models.License
	adminLicense    *models.License
	brokeLicense    *models.License
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ms := newMockStore()
	mc := newMockCache()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gen := seedLicense(generateRawKey, "generate-license", 100_000, models.ScopeGenerate)
	adm := seedLicense(adminRawKey, "admin-license", 100_000, models.ScopeAdmin)
	broke := seedLicense(brokeRawKey, "broke-license", 50, models.ScopeGenerate)
	ms.licenses = append(ms.licenses, gen, adm, broke)

	rt := cannedArticleRouter()
	processors := []job.Processor{
		job.NewArticleProcessor(rt),
		job.NewProductProcessor(rt),
		job.NewSectionProcessor(rt),
	}

	jobsCfg := config.JobsConfig{
		MaxAttempts:    2,
		AttemptTimeout: time.Minute,
		RetryBaseDelay: time.Millisecond,
	}
	admissionSvc := admission.NewService(ms, config.AdmissionConfig{
		QuotaMinTokens: 100,
		MaxActiveJobs:  10,
	}, logger)

	orch := job.NewOrchestrator(ms, mc, processors, jobsCfg, logger)
	disp := job.NewDispatcher(orch, ms, jobsCfg, logger)
	jobSvc := job.NewService(ms, mc, admissionSvc, disp, jobsCfg.MaxAttempts, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = disp.Drain(ctx)
	})

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryCounter(), time.Minute)

	deps := api.Dependencies{
		Auth:            mw.NewAuth(ms),
		RateLimit:       mw.NewRateLimit(limiter, admissionSvc),
		SubmitPerWindow: 5, // low limit for rate-limit tests
		StatusPerWindow: 100,

		HealthHandler:    handler.NewHealthHandler(ms, mc),
		SubmitJobHandler: handler.NewSubmitJobHandler(jobSvc),
		GetJobHandler:    handler.NewGetJobHandler(jobSvc),
		ListJobsHandler:  handler.NewListJobsHandler(jobSvc),

		CreateLicenseHandler: handler.NewCreateLicenseHandler(ms),
		ListLicensesHandler:  handler.NewListLicensesHandler(ms),
		RevokeLicenseHandler: handler.NewRevokeLicenseHandler(ms),
		CreditLicenseHandler: handler.NewCreditLicenseHandler(ms),
	}

	router := api.NewRouter(deps)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{
		server:          srv,
		store:           ms,
		cache:           mc,
		generateLicense: gen,
		adminLicense:    adm,
		brokeLicense:    broke,
	}
}

func (ts *testServer) request(method, path, rawKey string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, ts.server.URL+path, &buf)
	if rawKey != "" {
		req.Header.Set("Authorization", "Bearer "+rawKey)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (ts *testServer) do(t *testing.T, method, path, rawKey string, body any) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(ts.request(method, path, rawKey, body))
	require.NoError(t, err)
	return resp
}

func parseBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func articleSubmission(topics ...string) map[string]any {
	specs := make([]map[string]any, len(topics))
	for i, topic := range topics {
		specs[i] = map[string]any{"topic": topic}
	}
	return map[string]any{"type": "articles", "articles": specs}
}

// pollUntilTerminal polls the status endpoint until the job leaves the queue.
func (ts *testServer) pollUntilTerminal(t *testing.T, rawKey, jobID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := ts.do(t, "GET", "/api/v1/jobs/"+jobID, rawKey, nil)
		body := parseBody(t, resp)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "poll failed: %v", body)

		data := body["data"].(map[string]any)
		status := data["status"].(string)
		if status == models.JobStatusCompleted || status == models.JobStatusFailed {
			return data
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal status in time")
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONTRACT TESTS
// ═══════════════════════════════════════════════════════════════════════════════

// ─── GET /api/v1/health ──────────────────────────────────────────────────────

func TestHealth_200_NoAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/health", "", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseBody(t, resp)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
}

// ─── POST /api/v1/jobs ──────────────────────────────────────────────────────

func TestSubmitJob_202_WithJobID(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/jobs", generateRawKey, articleSubmission("coffee brewing"))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := parseBody(t, resp)
	data := body["data"].(map[string]any)

	jobID, err := uuid.Parse(data["job_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, float64(20), data["estimated_wait_seconds"])

	// Wait out the async pipeline so the goroutine does not outlive the test.
	ts.pollUntilTerminal(t, generateRawKey, jobID.String())
}

func TestSubmitJob_CompletesEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/jobs", generateRawKey, articleSubmission("coffee", "tea"))
	body := parseBody(t, resp)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := body["data"].(map[string]any)["job_id"].(string)

	data := ts.pollUntilTerminal(t, generateRawKey, jobID)
	require.Equal(t, "completed", data["status"], "job failed: %v", data["error_message"])

	result := data["result"].(map[string]any)
	items := result["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "success", first["status"])
	assert.Equal(t, "openai", first["provider"])
	article := first["article"].(map[string]any)
	assert.Equal(t, "Brewing Basics", article["title"])

	assert.Equal(t, float64(600), data["tokens_used"])
	assert.NotZero(t, data["cost_usd"])

	// Completed usage drains the license balance.
	remaining, err := ts.store.GetRemainingTokens(context.Background(), ts.generateLicense.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000-600), remaining)
}

func TestSubmitJob_401_MissingKey(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/jobs", "", articleSubmission("coffee"))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := parseBody(t, resp)
	assert.Equal(t, false, body["success"])
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_LICENSE", errObj["code"])
}

func TestSubmitJob_403_WithoutGenerateScope(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/jobs", adminRawKey, articleSubmission("coffee"))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := parseBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "FORBIDDEN", errObj["code"])
}

func TestSubmitJob_400_EmptyBatch(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/jobs", generateRawKey, map[string]any{"type": "articles"})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := parseBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errObj["code"])
}

func TestSubmitJob_402_QuotaExceeded(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/jobs", brokeRawKey, articleSubmission("coffee"))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	body := parseBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "QUOTA_EXCEEDED", errObj["code"])

	// The denial leaves an audit trail.
	ts.store.mu.Lock()
	defer ts.store.mu.Unlock()
	require.NotEmpty(t, ts.store.audits)
	assert.Equal(t, models.DenialReasonQuotaExceeded, ts.store.audits[0].Reason)
}

// ─── GET /api/v1/jobs/{jobID} ───────────────────────────────────────────────

func TestGetJob_404_Unknown(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/jobs/"+uuid.New().String(), generateRawKey, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := parseBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "JOB_NOT_FOUND", errObj["code"])
}

func TestGetJob_404_ForeignLicense(t *testing.T) {
	ts := newTestServer(t)

	// Job owned by the broke license; the generate license must not see it.
	foreign, err := models.NewJob(ts.brokeLicense.ID, models.TaskData{
		Type:     models.TaskTypeArticles,
		Articles: []models.ArticleSpec{{Topic: "secret"}},
	}, 3)
	require.NoError(t, err)
	require.NoError(t, ts.store.CreateJob(context.Background(), foreign))

	resp := ts.do(t, "GET", "/api/v1/jobs/"+foreign.ID.String(), generateRawKey, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─── GET /api/v1/jobs ───────────────────────────────────────────────────────

func TestListJobs_200_ScopedAndPaginated(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		j, err := models.NewJob(ts.generateLicense.ID, models.TaskData{
			Type:     models.TaskTypeArticles,
			Articles: []models.ArticleSpec{{Topic: "t"}},
		}, 3)
		require.NoError(t, err)
		j.Status = models.JobStatusCompleted
		require.NoError(t, ts.store.CreateJob(context.Background(), j))
	}

	resp := ts.do(t, "GET", "/api/v1/jobs?limit=2", generateRawKey, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseBody(t, resp)
	data := body["data"].([]any)
	assert.Len(t, data, 2)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(3), meta["total"])
	assert.Equal(t, true, meta["has_next"])
}

// ─── admin endpoints ─────────────────────────────────────────────────────────

func TestAdminCreateLicense_NewKeyAuthenticates(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/admin/licenses", adminRawKey, map[string]any{
		"name":   "fresh customer",
		"tokens": 50_000,
	})
	body := parseBody(t, resp)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	newKey := body["data"].(map[string]any)["key"].(string)
	require.NotEmpty(t, newKey)

	// The freshly minted key must work for generation right away.
	resp = ts.do(t, "POST", "/api/v1/jobs", newKey, articleSubmission("first article"))
	body = parseBody(t, resp)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "new key rejected: %v", body)

	jobID := body["data"].(map[string]any)["job_id"].(string)
	ts.pollUntilTerminal(t, newKey, jobID)
}

func TestAdminEndpoints_403_WithoutAdminScope(t *testing.T) {
	ts := newTestServer(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/admin/licenses"},
		{"GET", "/api/v1/admin/licenses"},
		{"DELETE", "/api/v1/admin/licenses/" + uuid.New().String()},
		{"POST", "/api/v1/admin/licenses/" + uuid.New().String() + "/credit"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			resp := ts.do(t, ep.method, ep.path, generateRawKey, map[string]any{"name": "x"})
			defer resp.Body.Close()

			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			body := parseBody(t, resp)
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "FORBIDDEN", errObj["code"])
		})
	}
}

func TestAdminRevokeLicense_KeyStopsWorking(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "DELETE", "/api/v1/admin/licenses/"+ts.brokeLicense.ID.String(), adminRawKey, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, "GET", "/api/v1/jobs", brokeRawKey, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminCreditLicense_RaisesBalance(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/admin/licenses/"+ts.brokeLicense.ID.String()+"/credit",
		adminRawKey, map[string]any{"tokens": 10_000})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(10_050), data["tokens_remaining"])
}

// ─── rate limiting contract ─────────────────────────────────────────────────

func TestRateLimit_Headers_Present(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/jobs", generateRawKey, nil)
	defer resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
}

func TestRateLimit_429_OnSubmitBudget(t *testing.T) {
	ts := newTestServer(t)

	// Malformed submissions still count against the submit budget of 5.
	var last *http.Response
	for i := 0; i < 6; i++ {
		resp := ts.do(t, "POST", "/api/v1/jobs", generateRawKey, map[string]any{})
		if i < 5 {
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			resp.Body.Close()
		} else {
			last = resp
		}
	}
	defer last.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.Equal(t, "60", last.Header.Get("Retry-After"))
	body := parseBody(t, last)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errObj["code"])
}

// ─── response format contract ───────────────────────────────────────────────

func TestResponseFormat_SuccessEnvelope(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/health", "", nil)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body := parseBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body, "data")
}

func TestResponseFormat_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/jobs", "", nil)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body := parseBody(t, resp)
	assert.Equal(t, false, body["success"])
	errObj := body["error"].(map[string]any)
	assert.NotEmpty(t, errObj["code"])
	assert.NotEmpty(t, errObj["message"])
}

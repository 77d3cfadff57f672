package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/copyforgehq/copyforge/internal/api/middleware"
	"github.com/copyforgehq/copyforge/internal/api/response"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	// Per-window request budgets, applied per license (or client IP).
	SubmitPerWindow int
	StatusPerWindow int

	HealthHandler    http.HandlerFunc
	SubmitJobHandler http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	ListJobsHandler  http.HandlerFunc

	CreateLicenseHandler http.HandlerFunc
	ListLicensesHandler  http.HandlerFunc
	RevokeLicenseHandler http.HandlerFunc
	CreditLicenseHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit("submit_job", deps.SubmitPerWindow))
			r.Use(deps.Auth.RequireScope(models.ScopeGenerate))

			r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJobHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit("job_status", deps.StatusPerWindow))

			r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/admin/licenses", orNotImplemented(deps.CreateLicenseHandler))
			r.Get("/api/v1/admin/licenses", orNotImplemented(deps.ListLicensesHandler))
			r.Delete("/api/v1/admin/licenses/{licenseID}", orNotImplemented(deps.RevokeLicenseHandler))
			r.Post("/api/v1/admin/licenses/{licenseID}/credit", orNotImplemented(deps.CreditLicenseHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/copyforgehq/copyforge/internal/api/middleware"
	"github.com/copyforgehq/copyforge/internal/api/response"
	"github.com/copyforgehq/copyforge/internal/store"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// JobReader serves license-scoped job lookups.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID, lic *models.License) (*models.Job, error)
	ListJobs(ctx context.Context, lic *models.License, status string, page, limit int) ([]*models.Job, int, error)
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// A malformed ID gets the same 404 as an unknown one so callers cannot probe
// for foreign jobs.
func NewGetJobHandler(svc JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lic, ok := mw.GetLicense(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing license", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}

		found, err := svc.GetJob(r.Context(), jobID, lic)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, found)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lic, ok := mw.GetLicense(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing license", nil)
			return
		}

		status := r.URL.Query().Get("status")
		if status != "" && !validJobStatus(status) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of pending, processing, completed, failed", nil)
			return
		}

		page := queryInt(r, "page", 1)
		if page < 1 {
			page = 1
		}
		limit := queryInt(r, "limit", 20)
		if limit < 1 {
			limit = 1
		}
		if limit > 100 {
			limit = 100
		}

		jobs, total, err := svc.ListJobs(r.Context(), lic, status, page, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list jobs", nil)
			return
		}

		response.Collection(w, jobs, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: total > page*limit,
		})
	}
}

func validJobStatus(status string) bool {
	switch status {
	case models.JobStatusPending, models.JobStatusProcessing,
		models.JobStatusCompleted, models.JobStatusFailed:
		return true
	}
	return false
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

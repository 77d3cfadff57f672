package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/copyforgehq/copyforge/internal/admission"
	mw "github.com/copyforgehq/copyforge/internal/api/middleware"
	"github.com/copyforgehq/copyforge/internal/api/response"
	"github.com/copyforgehq/copyforge/internal/job"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// Submitter enqueues generation jobs for asynchronous processing.
type Submitter interface {
	Submit(ctx context.Context, lic *models.License, data models.TaskData) (*models.Job, error)
}

type submitJobRequest struct {
	Type     string               `json:"type"     validate:"required,oneof=articles products design_sections"`
	Articles []models.ArticleSpec `json:"articles" validate:"max=50"`
	Products []models.ProductSpec `json:"products" validate:"max=50"`
	Sections []models.SectionSpec `json:"sections" validate:"max=50"`
	Options  submitJobOptions     `json:"options"`
}

type submitJobOptions struct {
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens"  validate:"gte=0,lte=8192"`
	Language    string  `json:"language"    validate:"max=16"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// Field-level checks run against the request DTO here; cross-field payload
// rules live in models.TaskData.Validate and surface as job.ErrInvalidTask.
func NewSubmitJobHandler(svc Submitter) http.HandlerFunc {
	validate := validator.New()

	return func(w http.ResponseWriter, r *http.Request) {
		lic, ok := mw.GetLicense(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing license", nil)
			return
		}

		var req submitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if err := validate.Struct(req); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"Request validation failed", validationDetails(err))
			return
		}

		data := models.TaskData{
			Type:     models.TaskType(req.Type),
			Articles: req.Articles,
			Products: req.Products,
			Sections: req.Sections,
			Options: models.GenerationOptions{
				Temperature: req.Options.Temperature,
				MaxTokens:   req.Options.MaxTokens,
				Language:    req.Options.Language,
			},
		}

		created, err := svc.Submit(r.Context(), lic, data)
		if err != nil {
			var denial *admission.Denial
			switch {
			case errors.Is(err, job.ErrInvalidTask):
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
					"Invalid task payload", map[string]any{"reason": err.Error()})
			case errors.As(err, &denial):
				writeDenial(w, denial)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, submitJobResponse{
			JobID:                created.ID.String(),
			Status:               created.Status,
			EstimatedWaitSeconds: job.EstimateWaitSeconds(data.Type, data.ItemCount()),
		})
	}
}

// validationDetails flattens validator errors into a field -> reason map.
func validationDetails(err error) map[string]any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]any{"reason": err.Error()}
	}
	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return details
}

func writeDenial(w http.ResponseWriter, denial *admission.Denial) {
	switch denial.Reason {
	case models.DenialReasonQuotaExceeded:
		response.Error(w, http.StatusPaymentRequired, "QUOTA_EXCEEDED",
			"Insufficient token quota for this job", map[string]any{"detail": denial.Detail})
	case models.DenialReasonTooManyActiveJobs:
		response.Error(w, http.StatusTooManyRequests, "TOO_MANY_ACTIVE_JOBS",
			"Too many active jobs for this license", map[string]any{"detail": denial.Detail})
	default:
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "Request was not admitted", nil)
	}
}

type submitJobResponse struct {
	JobID                string `json:"job_id"`
	Status               string `json:"status"`
	EstimatedWaitSeconds int    `json:"estimated_wait_seconds"`
}

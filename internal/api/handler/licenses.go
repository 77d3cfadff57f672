package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/copyforgehq/copyforge/internal/api/response"
	"github.com/copyforgehq/copyforge/internal/store"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// LicenseStore is the slice of the store the admin endpoints need.
type LicenseStore interface {
	CreateLicense(ctx context.Context, lic *models.License) error
	ListLicenses(ctx context.Context) ([]*models.License, error)
	RevokeLicense(ctx context.Context, id uuid.UUID) error
	CreditLicense(ctx context.Context, id uuid.UUID, tokens int64) (*models.License, error)
}

const licenseKeyPrefixLen = 8

type createLicenseRequest struct {
	Name   string   `json:"name"   validate:"required,min=1,max=100"`
	Scopes []string `json:"scopes" validate:"omitempty,dive,oneof=generate admin"`
	Tokens int64    `json:"tokens" validate:"gte=0"`
}

// NewCreateLicenseHandler returns an http.HandlerFunc for
// POST /api/v1/admin/licenses.
func NewCreateLicenseHandler(st LicenseStore) http.HandlerFunc {
	validate := validator.New()

	return func(w http.ResponseWriter, r *http.Request) {
		var req createLicenseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if err := validate.Struct(req); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"Request validation failed", validationDetails(err))
			return
		}

		scopes := req.Scopes
		if len(scopes) == 0 {
			scopes = []string{models.ScopeGenerate}
		}

		rawKey, err := generateLicenseKey()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to generate license key", nil)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to generate license key", nil)
			return
		}

		now := time.Now().UTC()
		lic := &models.License{
			ID:              uuid.New(),
			Name:            req.Name,
			KeyHash:         string(hash),
			KeyPrefix:       rawKey[:licenseKeyPrefixLen],
			Scopes:          scopes,
			TokensRemaining: req.Tokens,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := st.CreateLicense(r.Context(), lic); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create license", nil)
			return
		}

		// The raw key is returned once here and never again.
		response.Created(w, createLicenseResponse{
			ID:              lic.ID.String(),
			Name:            lic.Name,
			Key:             rawKey,
			KeyPrefix:       lic.KeyPrefix,
			Scopes:          lic.Scopes,
			TokensRemaining: lic.TokensRemaining,
			CreatedAt:       lic.CreatedAt,
		})
	}
}

// NewListLicensesHandler returns an http.HandlerFunc for
// GET /api/v1/admin/licenses. Key hashes never serialize, so the models can
// go out as-is.
func NewListLicensesHandler(st LicenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		licenses, err := st.ListLicenses(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list licenses", nil)
			return
		}
		response.JSON(w, licenses)
	}
}

// NewRevokeLicenseHandler returns an http.HandlerFunc for
// DELETE /api/v1/admin/licenses/{licenseID}.
func NewRevokeLicenseHandler(st LicenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "licenseID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid license ID", nil)
			return
		}
		if err := st.RevokeLicense(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "LICENSE_NOT_FOUND", "License not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to revoke license", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type creditLicenseRequest struct {
	Tokens int64 `json:"tokens" validate:"required,gt=0"`
}

// NewCreditLicenseHandler returns an http.HandlerFunc for
// POST /api/v1/admin/licenses/{licenseID}/credit.
func NewCreditLicenseHandler(st LicenseStore) http.HandlerFunc {
	validate := validator.New()

	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "licenseID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid license ID", nil)
			return
		}

		var req creditLicenseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if err := validate.Struct(req); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"Request validation failed", validationDetails(err))
			return
		}

		lic, err := st.CreditLicense(r.Context(), id, req.Tokens)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "LICENSE_NOT_FOUND", "License not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to credit license", nil)
			return
		}

		response.JSON(w, lic)
	}
}

// generateLicenseKey returns a fresh raw key of the form cf_<32 hex chars>.
func generateLicenseKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading randomness: %w", err)
	}
	return "cf_" + hex.EncodeToString(buf), nil
}

type createLicenseResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Key             string    `json:"key"`
	KeyPrefix       string    `json:"key_prefix"`
	Scopes          []string  `json:"scopes"`
	TokensRemaining int64     `json:"tokens_remaining"`
	CreatedAt       time.Time `json:"created_at"`
}

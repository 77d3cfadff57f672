package middleware

import (
	"context"
	"net/http"

	"github.com/copyforgehq/copyforge/pkg/models"
)

type contextKey string

const licenseKey contextKey = "license"

// SetLicense stores the authenticated license in the context.
func SetLicense(ctx context.Context, lic *models.License) context.Context {
	return context.WithValue(ctx, licenseKey, lic)
}

// GetLicense returns the authenticated license set by Authenticate.
func GetLicense(r *http.Request) (*models.License, bool) {
	lic, ok := r.Context().Value(licenseKey).(*models.License)
	return lic, ok
}

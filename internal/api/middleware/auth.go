package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/copyforgehq/copyforge/internal/api/response"
	"github.com/copyforgehq/copyforge/internal/store"
)

const keyPrefixLen = 8

// Auth provides license authentication and scope-checking middleware.
type Auth struct {
	store store.Store
}

// NewAuth creates a new Auth middleware.
func NewAuth(s store.Store) *Auth {
	return &Auth{store: s}
}

// Authenticate validates the Bearer token against the stored license key
// hashes and sets the matched license in the request context. The key prefix
// is not unique, so every candidate sharing it is checked.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_LICENSE", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_LICENSE", "Invalid license key format", nil)
			return
		}

		prefix := rawKey[:keyPrefixLen]

		candidates, err := a.store.GetLicensesByPrefix(r.Context(), prefix)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate license key", nil)
			return
		}

		var matched bool
		for _, lic := range candidates {
			if bcrypt.CompareHashAndPassword([]byte(lic.KeyHash), []byte(rawKey)) == nil {
				r = r.WithContext(SetLicense(r.Context(), lic))
				matched = true

				// Update last_used_at async
				go a.store.UpdateLicenseLastUsed(context.Background(), lic.ID)
				break
			}
		}

		if !matched {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_LICENSE", "Invalid license key", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireScope returns middleware that checks whether the authenticated
// license carries the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lic, ok := GetLicense(r)
			if !ok || !lic.HasScope(scope) {
				response.Error(w, http.StatusForbidden,
					"FORBIDDEN", "Insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

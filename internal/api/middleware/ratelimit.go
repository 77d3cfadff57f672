package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/copyforgehq/copyforge/internal/admission"
	"github.com/copyforgehq/copyforge/internal/api/response"
	"github.com/copyforgehq/copyforge/internal/ratelimit"
	"github.com/copyforgehq/copyforge/pkg/models"
)

// RateLimit applies per-endpoint fixed-window limits. Callers are identified
// by license ID when authenticated, by client IP otherwise.
type RateLimit struct {
	limiter *ratelimit.Limiter
	auditor admission.Auditor
}

// NewRateLimit creates a new RateLimit middleware. The auditor may be nil
// when denials should not be recorded.
func NewRateLimit(limiter *ratelimit.Limiter, auditor admission.Auditor) *RateLimit {
	return &RateLimit{limiter: limiter, auditor: auditor}
}

// Limit wraps a route with a named window budget. A counter error fails
// open: the request proceeds without limit headers.
func (rl *RateLimit) Limit(endpoint string, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier, lic := callerIdentity(r)

			decision, err := rl.limiter.Allow(r.Context(), identifier, endpoint, limit)
			if err != nil {
				slog.Warn("rate limit check failed, allowing request",
					"endpoint", endpoint, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			resetAt := time.Now().Add(decision.RetryAfter).Unix()
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

			if !decision.Allowed {
				rl.recordDenial(r, lic, identifier, endpoint, decision)
				w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
				response.Error(w, http.StatusTooManyRequests,
					"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimit) recordDenial(r *http.Request, lic *models.License, identifier, endpoint string, decision ratelimit.Decision) {
	if rl.auditor == nil {
		return
	}
	audit := &models.AdmissionAudit{
		Identifier: identifier,
		Endpoint:   endpoint,
		Reason:     models.DenialReasonRateLimited,
		Detail:     fmt.Sprintf("%d requests in window, limit is %d", decision.Count, decision.Limit),
	}
	if lic != nil {
		audit.LicenseID = &lic.ID
	}
	rl.auditor.RecordDenial(r.Context(), audit)
}

func callerIdentity(r *http.Request) (string, *models.License) {
	if lic, ok := GetLicense(r); ok {
		return lic.ID.String(), lic
	}
	return clientIP(r), nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

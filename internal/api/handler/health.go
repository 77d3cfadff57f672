package handler

import (
	"context"
	"net/http"

	"github.com/copyforgehq/copyforge/internal/api/response"
)

// Pinger is anything whose connectivity the health endpoint reports on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// It reports per-component state and degrades to 503 when either backing
// service is unreachable.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		healthy := true

		if err := db.Ping(r.Context()); err != nil {
			components["database"] = "unreachable"
			healthy = false
		}
		if err := cache.Ping(r.Context()); err != nil {
			components["cache"] = "unreachable"
			healthy = false
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more backing services are unreachable", components)
			return
		}
		response.JSON(w, map[string]any{
			"status":     "ok",
			"components": components,
		})
	}
}

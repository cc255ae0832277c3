package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/pitlane/pkg/http"
)

// HealthChecker is a backing store that can report its own health
type HealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// HealthResponse reports overall and per-store status
type HealthResponse struct {
	Status string            `json:"status"`
	Stores map[string]string `json:"stores,omitempty"`
}

// HealthHandler handles GET /health
type HealthHandler struct {
	checkers []HealthChecker
	timeout  time.Duration
}

// NewHealthHandler creates a HealthHandler over the configured stores.
// With no checkers (memory stores only) it always reports healthy.
func NewHealthHandler(checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{checkers: checkers, timeout: 2 * time.Second}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Stores: make(map[string]string)}
	status := http.StatusOK

	for _, checker := range h.checkers {
		if err := checker.HealthCheck(ctx); err != nil {
			resp.Stores[checker.Name()] = "down"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Stores[checker.Name()] = "up"
	}

	pkghttp.WriteJSON(w, status, resp)
}

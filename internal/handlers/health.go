package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/stagelink/billing/internal/platform/httpx"
)

// HealthChecker probes a backing dependency for readiness.
type HealthChecker func(ctx context.Context) error

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	checker HealthChecker
	clock   func() time.Time
	started time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthChecker sets the dependency probe used by /readyz.
func WithHealthChecker(checker HealthChecker) HealthOption {
	return func(h *HealthHandlers) {
		h.checker = checker
	}
}

// WithHealthClock overrides the clock, used by tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	h.started = h.clock()
	return h
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.started).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

// Readyz reports whether the backing store is reachable.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checker != nil {
		if err := h.checker(ctx); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("not_ready", "backing store unreachable", http.StatusServiceUnavailable))
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

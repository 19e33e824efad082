package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a dependency whose reachability shows up in /health.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	openAIConfigured bool
	sessions         func() int
	checks           map[string]Pinger
}

func NewHealthHandler(openAIConfigured bool) *HealthHandler {
	return &HealthHandler{
		openAIConfigured: openAIConfigured,
		checks:           make(map[string]Pinger),
	}
}

// WithSessions reports the live voice session count.
func (h *HealthHandler) WithSessions(count func() int) *HealthHandler {
	h.sessions = count
	return h
}

// AddCheck registers a named dependency check.
func (h *HealthHandler) AddCheck(name string, p Pinger) {
	h.checks[name] = p
}

// Health handles GET /health. Degraded dependencies do not fail the check:
// the proxy keeps serving fallbacks without them.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			deps[name] = "down"
			status = "degraded"
			continue
		}
		deps[name] = "up"
	}

	body := map[string]interface{}{
		"status":            status,
		"openai_configured": h.openAIConfigured,
		"dependencies":      deps,
	}
	if h.sessions != nil {
		body["active_sessions"] = h.sessions()
	}
	writeJSON(w, http.StatusOK, body)
}

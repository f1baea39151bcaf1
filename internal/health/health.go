// Package health exposes the engine's liveness and readiness endpoints.
//
//   - /healthz — liveness; a process that can serve HTTP answers 200.
//   - /readyz  — readiness; reports the live session count and probes the
//     configured capability endpoints (the STT and TTS servers). Any failing
//     probe degrades readiness to 503 so a load balancer stops routing new
//     sessions while existing ones keep streaming.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// probeTimeout bounds a single capability probe during a /readyz request.
const probeTimeout = 5 * time.Second

// SessionCounter reports the number of live conversation sessions. The
// session registry satisfies it.
type SessionCounter interface {
	Count() int
}

// Probe checks one capability dependency. Run returns nil while the
// dependency can serve; it must respect context cancellation.
type Probe struct {
	Name string
	Run  func(ctx context.Context) error
}

// Endpoint returns a [Probe] that issues a GET against a capability server's
// base URL. Any response below 500 counts as serving: speech servers answer
// 200 or 404 on their root path depending on the build, and either proves
// the process is up.
func Endpoint(name, baseURL string) Probe {
	return Probe{
		Name: name,
		Run: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
			if err != nil {
				return fmt.Errorf("health: build probe request: %w", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health: %s unreachable: %w", name, err)
			}
			resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("health: %s returned status %d", name, resp.StatusCode)
			}
			return nil
		},
	}
}

// readiness is the /readyz response body.
type readiness struct {
	Status         string            `json:"status"`
	ActiveSessions int               `json:"active_sessions"`
	Probes         map[string]string `json:"probes,omitempty"`
}

// Handler serves /healthz and /readyz. Safe for concurrent use; the probe
// list is fixed at construction.
type Handler struct {
	sessions SessionCounter
	probes   []Probe
}

// NewHandler creates a [Handler] that reports the session count from
// sessions and evaluates the given probes on each /readyz request, in order.
func NewHandler(sessions SessionCounter, probes ...Probe) *Handler {
	p := make([]Probe, len(probes))
	copy(p, probes)
	return &Handler{sessions: sessions, probes: p}
}

// Healthz always answers 200. A process that reached this handler is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports "ready" with the live session count while every capability
// probe passes, and "degraded" with a 503 once any fails. Each probe runs
// under a [probeTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := readiness{
		Status: "ready",
		Probes: make(map[string]string, len(h.probes)),
	}
	if h.sessions != nil {
		res.ActiveSessions = h.sessions.Count()
	}

	status := http.StatusOK
	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Run(ctx)
		cancel()

		if err != nil {
			res.Probes[p.Name] = err.Error()
			res.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			res.Probes[p.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// Routes adds the /healthz and /readyz routes to mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

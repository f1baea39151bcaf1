package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fixedCounter int

func (c fixedCounter) Count() int { return int(c) }

func TestHealthzAlwaysReturns200(t *testing.T) {
	h := NewHandler(fixedCounter(0))

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestReadyzReportsSessionsAndProbes(t *testing.T) {
	h := NewHandler(fixedCounter(3),
		Probe{Name: "stt-endpoint", Run: func(context.Context) error { return nil }},
		Probe{Name: "tts-endpoint", Run: func(context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body readiness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ready" {
		t.Errorf("status = %q, want ready", body.Status)
	}
	if body.ActiveSessions != 3 {
		t.Errorf("active_sessions = %d, want 3", body.ActiveSessions)
	}
	if body.Probes["stt-endpoint"] != "ok" || body.Probes["tts-endpoint"] != "ok" {
		t.Errorf("probes = %v, want both ok", body.Probes)
	}
}

func TestReadyzDegradedOnProbeFailure(t *testing.T) {
	h := NewHandler(fixedCounter(1),
		Probe{Name: "stt-endpoint", Run: func(context.Context) error {
			return errors.New("connection refused")
		}},
		Probe{Name: "tts-endpoint", Run: func(context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body readiness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Probes["stt-endpoint"] != "connection refused" {
		t.Errorf("stt probe = %q, want the failure reason", body.Probes["stt-endpoint"])
	}
	if body.Probes["tts-endpoint"] != "ok" {
		t.Errorf("tts probe = %q, want ok", body.Probes["tts-endpoint"])
	}
}

func TestReadyzWithoutProbes(t *testing.T) {
	h := NewHandler(fixedCounter(0))

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body readiness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ready" {
		t.Errorf("status = %q, want ready", body.Status)
	}
}

func TestReadyzRespectsContextCancellation(t *testing.T) {
	h := NewHandler(fixedCounter(0),
		Probe{Name: "slow", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRoutes(t *testing.T) {
	h := NewHandler(fixedCounter(0),
		Probe{Name: "test", Run: func(context.Context) error { return nil }},
	)

	mux := http.NewServeMux()
	h.Routes(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestEndpointProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound) // no root route, but the server is up
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	if err := Endpoint("stt-endpoint", healthy.URL).Run(context.Background()); err != nil {
		t.Errorf("serving endpoint reported error: %v", err)
	}
	if err := Endpoint("stt-endpoint", broken.URL).Run(context.Background()); err == nil {
		t.Error("broken endpoint reported healthy")
	}
	if err := Endpoint("stt-endpoint", "http://127.0.0.1:1/nope").Run(context.Background()); err == nil {
		t.Error("unreachable endpoint reported healthy")
	}
}

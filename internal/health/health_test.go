package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz_AllProbesPass(t *testing.T) {
	h := New(
		Probe{Name: "archive", Check: func(_ context.Context) error { return nil }},
		Probe{Name: "sidecall", Check: func(_ context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if len(body.Probes) != 2 {
		t.Errorf("probes = %d, want 2", len(body.Probes))
	}
	for name, p := range body.Probes {
		if p.Status != "ok" {
			t.Errorf("probe %q status = %q, want ok", name, p.Status)
		}
	}
}

func TestReadyz_FailingProbeReturns503(t *testing.T) {
	h := New(
		Probe{Name: "archive", Check: func(_ context.Context) error { return errors.New("connection refused") }},
		Probe{Name: "sidecall", Check: func(_ context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if got := body.Probes["archive"]; got.Status != "fail" || got.Error != "connection refused" {
		t.Errorf("archive probe = %+v, want fail with error", got)
	}
	if got := body.Probes["sidecall"]; got.Status != "ok" {
		t.Errorf("sidecall probe = %+v, want ok", got)
	}
}

func TestReadyz_NoProbesIsReady(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(_ context.Context) error { return s.err }

func TestPingProbe_AdaptsPinger(t *testing.T) {
	p := PingProbe("archive", stubPinger{err: errors.New("down")})
	if p.Name != "archive" {
		t.Errorf("name = %q, want archive", p.Name)
	}
	if err := p.Check(context.Background()); err == nil || err.Error() != "down" {
		t.Errorf("check = %v, want down", err)
	}
}

func TestRegister_MountsRoutes(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

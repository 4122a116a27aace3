// Package health serves the liveness and readiness probes of the Telón
// server.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only when every registered probe passes; failures
//     come back as 503 with the failing probes named.
//
// Probes run concurrently with a shared deadline so one slow dependency
// cannot starve the rest of the report.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe is a named readiness check. Check returns nil when the dependency is
// usable and an error describing why it is not.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is anything with a Ping method, such as the Postgres archive.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe adapts a [Pinger] into a named [Probe].
func PingProbe(name string, p Pinger) Probe {
	return Probe{Name: name, Check: p.Ping}
}

// probeReport is the per-probe entry in the readiness response.
type probeReport struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// report is the JSON body of both endpoints.
type report struct {
	Status string                 `json:"status"`
	Probes map[string]probeReport `json:"probes,omitempty"`
}

// Handler evaluates probes and serves the two endpoints. Safe for concurrent
// use; the probe set is fixed at construction.
type Handler struct {
	probes []Probe
}

// New creates a [Handler] over the given probes.
func New(probes ...Probe) *Handler {
	return &Handler{probes: append([]Probe(nil), probes...)}
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe concurrently under a [probeTimeout] deadline and
// reports 200 only when all of them pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	var mu sync.Mutex
	probes := make(map[string]probeReport, len(h.probes))
	allOK := true

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range h.probes {
		g.Go(func() error {
			started := time.Now()
			err := p.Check(gctx)
			entry := probeReport{Status: "ok", Duration: time.Since(started).Round(time.Millisecond).String()}
			if err != nil {
				entry.Status = "fail"
				entry.Error = err.Error()
			}

			mu.Lock()
			probes[p.Name] = entry
			if err != nil {
				allOK = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res := report{Status: "ok", Probes: probes}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

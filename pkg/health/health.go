// Package health exposes Kubernetes-style liveness and readiness probes.
//
// Registered checks run periodically in the background. A check flips to
// unhealthy only after failing consecutively failureThreshold times, and
// back to healthy after succeeding successThreshold times, so a single slow
// dependency poll does not flap the probe.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports the health of one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// probe is one registered check plus its runtime state. poll is always
// called from a single goroutine; the mutex guards the fields the HTTP
// handlers read.
type probe struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	mu      sync.Mutex
	healthy bool
	lastErr error
	fails   int
	oks     int
}

func newProbe(name string, timeout time.Duration, fn CheckFunc) *probe {
	// Assume healthy until the first poll says otherwise.
	return &probe{name: name, timeout: timeout, fn: fn, healthy: true}
}

func (p *probe) poll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.fn(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= defaultFailureThreshold {
			p.healthy = false
		}
		return
	}
	p.fails = 0
	p.oks++
	if p.oks >= defaultSuccessThreshold {
		p.healthy = true
	}
}

// status returns the probe's health flag and last error.
func (p *probe) status() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy, p.lastErr
}

// Health tracks the liveness and readiness probes of a service.
type Health struct {
	ready atomic.Bool

	mu     sync.Mutex
	live   []*probe
	readyp []*probe
	cancel context.CancelFunc
}

// New returns a Health in the not-ready state. Call SetReady(true) once
// initialization completes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check against the process itself, like
// goroutine counts or GC pauses.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a check against a dependency the service needs
// before it can take traffic, like database or cache connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readyp = append(h.readyp, newProbe(name, timeout, check))
}

// Start polls every registered probe at the given interval, each in its own
// goroutine, until Stop is called or ctx is cancelled. Register all checks
// before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append(append([]*probe(nil), h.live...), h.readyp...)
	h.mu.Unlock()

	for _, p := range probes {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			p.poll(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.poll(ctx)
				}
			}
		}()
	}
}

// SetReady flips the manual readiness gate. Graceful shutdown sets it to
// false so load balancers stop routing before the listener closes.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// is passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.Lock()
	probes := append([]*probe(nil), h.readyp...)
	h.mu.Unlock()

	for _, p := range probes {
		if ok, _ := p.status(); !ok {
			return false
		}
	}
	return true
}

// Stop cancels the background polling goroutines. Safe to call twice.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 when all liveness probes pass, 503 with
// the failing checks otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	probes := append([]*probe(nil), h.live...)
	h.mu.Unlock()

	writeProbe(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 when the service is marked ready and all
// readiness probes pass, 503 with details otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	probes := append([]*probe(nil), h.readyp...)
	h.mu.Unlock()

	fails := failures(probes)
	if !h.ready.Load() {
		fails["_readiness"] = "service is not ready"
	}
	writeProbe(w, fails)
}

func failures(probes []*probe) map[string]string {
	fails := make(map[string]string)
	for _, p := range probes {
		ok, err := p.status()
		if ok {
			continue
		}
		if err != nil {
			fails[p.name] = err.Error()
		} else {
			fails[p.name] = "check is unhealthy"
		}
	}
	return fails
}

func writeProbe(w http.ResponseWriter, fails map[string]string) {
	resp := probeResponse{Status: "ok"}
	status := http.StatusOK
	if len(fails) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = fails
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

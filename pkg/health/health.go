// Package health serves Kubernetes-style liveness and readiness probes.
// Registered checks run on a shared background ticker; the HTTP endpoints
// report the most recent observation instead of probing inline, so a slow
// dependency cannot stall the kubelet.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// probe is one registered check plus its latest observation.
type probe struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	mu      sync.Mutex
	lastErr error
}

// observe runs the check once and records the outcome.
func (p *probe) observe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.fn(ctx)

	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

// failure returns the latest recorded error, nil while healthy.
func (p *probe) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Health tracks liveness and readiness probes for one service.
type Health struct {
	ready atomic.Bool

	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Health with no probes, in the not-ready state. Call
// SetReady(true) once startup completes.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe deciding whether the process should
// be restarted (deadlocks, leaks). Register before Start.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, &probe{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a probe deciding whether the service should
// receive traffic (database reachable, dependencies warm). Register
// before Start.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, &probe{name: name, timeout: timeout, fn: fn})
}

// Start launches the background prober: every probe is observed once
// immediately, then again each interval, until ctx is cancelled or Stop
// is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append(append([]*probe(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			for _, p := range probes {
				p.observe(ctx)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the background prober. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Flip to false during graceful
// shutdown so the load balancer drains this instance.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness
// probe passed its last observation.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	return len(h.failures(h.snapshot(&h.readiness))) == 0
}

// LiveEndpoint handles GET /livez: 200 while every liveness probe passes,
// 503 with the failing probe names otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.report(w, h.failures(h.snapshot(&h.liveness)))
}

// ReadyEndpoint handles GET /readyz: 200 only when the manual gate is
// open and every readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(h.snapshot(&h.readiness))
	if !h.ready.Load() {
		failures["service"] = "not ready"
	}
	h.report(w, failures)
}

func (h *Health) snapshot(set *[]*probe) []*probe {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*probe(nil), *set...)
}

func (h *Health) failures(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		if err := p.failure(); err != nil {
			failures[p.name] = err.Error()
		}
	}
	return failures
}

type probeReport struct {
	Status   string            `json:"status"`
	Failures map[string]string `json:"failures,omitempty"`
}

func (h *Health) report(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	rep := probeReport{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		rep = probeReport{Status: "unhealthy", Failures: failures}
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}

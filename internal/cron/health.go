package cron

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/stellarlinkco/aiteam/internal/llm"
)

const (
	// HealthJobName is the reserved job that probes the language-model backend.
	HealthJobName = "__internal_backend_health"
	// HealthVerb marks the health job's payload; it is never dispatched.
	HealthVerb = "__internal:backend:health"

	defaultProbeTimeout = 10 * time.Second
)

// HealthMonitor tracks backend reachability and logs transitions.
type HealthMonitor struct {
	pinger  llm.Pinger
	timeout time.Duration

	mu      sync.Mutex
	known   bool
	online  bool
	lastErr error
}

func NewHealthMonitor(p llm.Pinger, timeout time.Duration) *HealthMonitor {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &HealthMonitor{pinger: p, timeout: timeout}
}

// Check probes the backend once and reports whether it answered.
func (h *HealthMonitor) Check(ctx context.Context) (bool, error) {
	var err error
	if h.pinger == nil {
		err = llm.ErrNotConfigured
	} else {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err = h.pinger.Ping(probeCtx)
		cancel()
	}
	online := err == nil

	h.mu.Lock()
	changed := !h.known || h.online != online
	h.known = true
	h.online = online
	h.lastErr = err
	h.mu.Unlock()

	if changed {
		if online {
			log.Printf("[cron] backend ONLINE")
		} else {
			log.Printf("[cron] backend OFFLINE: %v", err)
		}
	}
	return online, err
}

// Status returns the last probe outcome; known is false before the first probe.
func (h *HealthMonitor) Status() (online, known bool, lastErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online, h.known, h.lastErr
}

// Job runs the probe as a cron handler. A failed probe is a successful job:
// transitions are already logged by Check.
func (h *HealthMonitor) Job(ctx context.Context) (string, error) {
	h.Check(ctx)
	return "", nil
}

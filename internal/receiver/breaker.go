package receiver

import (
	"sync"
	"time"
)

// circuitBreaker protects outbound Receiver->Store calls from hammering
// an unreachable Store. It opens after failureThreshold consecutive
// failures, then allows exactly one half-open probe per cooldown window.
type circuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration

	failures     int
	state        string // "closed", "open", "half-open"
	openedAt     time.Time
	probeStarted time.Time
}

func newCircuitBreaker(failureThreshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            "closed",
	}
}

// AllowRequest reports whether a call should be attempted now. In the
// half-open state it admits exactly one probe; subsequent callers are
// rejected until the probe resolves (success, failure, or a fresh
// cooldown elapses without resolution).
func (cb *circuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case "closed":
		return true
	case "open":
		if time.Since(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = "half-open"
		cb.probeStarted = time.Now()
		return true
	case "half-open":
		if time.Since(cb.probeStarted) >= cb.cooldown {
			// Previous probe never resolved; allow a fresh one.
			cb.probeStarted = time.Now()
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = "closed"
}

// RecordFailure increments the failure count and opens the circuit once
// the threshold is reached, or immediately reopens it on a failed probe.
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == "half-open" {
		cb.state = "open"
		cb.openedAt = time.Now()
		return
	}

	cb.failures++
	if cb.failures >= cb.failureThreshold {
		cb.state = "open"
		cb.openedAt = time.Now()
	}
}

// State returns the current breaker state for diagnostics and tests.
func (cb *circuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// isDegraded reports whether the breaker is not fully closed, used to
// decide whether a quota lookup failure with no cached data should
// fail open (breaker healthy, transient blip) or fail closed (breaker
// open, Store provably unreachable).
func (cb *circuitBreaker) isDegraded() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state != "closed"
}

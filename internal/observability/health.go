package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker tracks liveness and per-dependency readiness. A crank
// orchestrator is ready only when every registered dependency (postgres,
// nats, and so on) has been marked up; readiness drops the moment any of
// them is marked down, which pulls the instance out of rotation while its
// work locks expire.
type HealthChecker struct {
	startTime time.Time

	mu   sync.Mutex
	deps map[string]bool
}

func NewHealthChecker(deps ...string) *HealthChecker {
	h := &HealthChecker{
		startTime: time.Now(),
		deps:      make(map[string]bool, len(deps)),
	}
	for _, d := range deps {
		h.deps[d] = false
	}
	return h
}

// MarkUp records the dependency as available.
func (h *HealthChecker) MarkUp(dep string) {
	h.mu.Lock()
	h.deps[dep] = true
	h.mu.Unlock()
}

// MarkDown records the dependency as unavailable.
func (h *HealthChecker) MarkDown(dep string) {
	h.mu.Lock()
	h.deps[dep] = false
	h.mu.Unlock()
}

// IsReady reports whether every registered dependency is up.
func (h *HealthChecker) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, up := range h.deps {
		if !up {
			return false
		}
	}
	return true
}

func (h *HealthChecker) snapshot() (map[string]bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]bool, len(h.deps))
	ready := true
	for d, up := range h.deps {
		out[d] = up
		if !up {
			ready = false
		}
	}
	return out, ready
}

// LivenessHandler returns 200 whenever the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 once every dependency is up, 503 otherwise,
// listing per-dependency state either way.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	deps, ready := h.snapshot()

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       status,
		"dependencies": deps,
	})
}

// Package health provides the service health surface: named checks with an
// aggregate status and the HTTP probe handlers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker is a component that can report its own health.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Config holds health checker configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	CheckTimeout   time.Duration
}

// CheckStatus is the result of one named check.
type CheckStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Response is the full health response body.
type Response struct {
	Status    string                  `json:"status"`
	Service   string                  `json:"service"`
	Version   string                  `json:"version"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Checks    map[string]*CheckStatus `json:"checks,omitempty"`
}

// HealthChecker runs registered checks concurrently and caches the results.
type HealthChecker struct {
	config  Config
	started time.Time

	mu       sync.RWMutex
	checks   map[string]Checker
	statuses map[string]*CheckStatus
}

// NewChecker creates a health checker.
func NewChecker(config Config) *HealthChecker {
	if config.CheckTimeout == 0 {
		config.CheckTimeout = 5 * time.Second
	}
	return &HealthChecker{
		config:   config,
		started:  time.Now(),
		checks:   make(map[string]Checker),
		statuses: make(map[string]*CheckStatus),
	}
}

// AddCheck registers a named check.
func (h *HealthChecker) AddCheck(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = checker
	h.statuses[name] = &CheckStatus{Name: name, Status: "unknown"}
}

// RemoveCheck deregisters a named check.
func (h *HealthChecker) RemoveCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.checks, name)
	delete(h.statuses, name)
}

// Check runs every registered check and returns the aggregate status.
func (h *HealthChecker) Check(ctx context.Context) *Response {
	h.mu.RLock()
	checks := make(map[string]Checker, len(h.checks))
	for name, checker := range h.checks {
		checks[name] = checker
	}
	h.mu.RUnlock()

	response := &Response{
		Status:    "healthy",
		Service:   h.config.ServiceName,
		Version:   h.config.ServiceVersion,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    make(map[string]*CheckStatus),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, checker := range checks {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, h.config.CheckTimeout)
			defer cancel()

			status := &CheckStatus{Name: name, LastCheck: time.Now()}
			if err := checker.HealthCheck(checkCtx); err != nil {
				status.Status = "unhealthy"
				status.Error = err.Error()
			} else {
				status.Status = "healthy"
			}

			mu.Lock()
			response.Checks[name] = status
			if status.Status != "healthy" {
				response.Status = "unhealthy"
			}
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	h.mu.Lock()
	for name, status := range response.Checks {
		h.statuses[name] = status
	}
	h.mu.Unlock()

	return response
}

// GetStatus returns the cached status of a named check.
func (h *HealthChecker) GetStatus(name string) *CheckStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statuses[name]
}

// IsHealthy reports whether every check currently passes.
func (h *HealthChecker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Status == "healthy"
}

// HealthHandler serves the full health response.
func (h *HealthChecker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.Check(r.Context()))
}

// LivenessHandler serves the liveness probe: 200 whenever the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(&Response{
		Status:    "healthy",
		Service:   h.config.ServiceName,
		Version:   h.config.ServiceVersion,
		Timestamp: time.Now(),
	})
}

// ReadinessHandler serves the readiness probe: 200 only when every
// dependency check passes.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.Check(r.Context()))
}

func writeResponse(w http.ResponseWriter, response *Response) {
	w.Header().Set("Content-Type", "application/json")
	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

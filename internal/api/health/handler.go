package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"gateway/pkg/logger"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// Checker is any dependency that can be pinged
type Checker interface {
	Health(ctx context.Context) error
}

type component struct {
	name     string
	checker  Checker
	required bool
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	components  []component
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a new health check handler
func New(log *logger.Logger, serviceName, version string) *Handler {
	return &Handler{
		log:         log.With("component", "health"),
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// Require adds a dependency the service cannot run without
func (h *Handler) Require(name string, c Checker) *Handler {
	h.components = append(h.components, component{name: name, checker: c, required: true})
	return h
}

// Optional adds a dependency whose failure only degrades the service
func (h *Handler) Optional(name string, c Checker) *Handler {
	h.components = append(h.components, component{name: name, checker: c})
	return h
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	Required     bool   `json:"required"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK if the process is running
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness fails when any required dependency is down
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.check(ctx)
	code := http.StatusOK
	if status.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", failing(status.Checks))
	}
	writeJSON(w, code, status)
}

// HandleHealth reports every check. Optional failures return 200 with "degraded".
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := h.check(ctx)
	code := http.StatusOK
	if status.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *Handler) check(ctx context.Context) HealthStatus {
	checks := make(map[string]ComponentHealth, len(h.components))
	overall := statusHealthy

	for _, c := range h.components {
		result := h.ping(ctx, c)
		checks[c.name] = result
		if result.Status == statusHealthy {
			continue
		}
		if c.required {
			overall = statusUnhealthy
		} else if overall == statusHealthy {
			overall = statusDegraded
		}
	}

	return HealthStatus{
		Status:    overall,
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
}

func (h *Handler) ping(ctx context.Context, c component) ComponentHealth {
	start := time.Now()
	err := c.checker.Health(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("Health check failed", "dependency", c.name, "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       statusUnhealthy,
			Required:     c.required,
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}
	return ComponentHealth{
		Status:       statusHealthy,
		Required:     c.required,
		ResponseTime: elapsed.String(),
	}
}

func failing(checks map[string]ComponentHealth) []string {
	var names []string
	for name, c := range checks {
		if c.Status != statusHealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

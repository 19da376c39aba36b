package monitoring

import (
	"context"
	"sync"
	"time"
)

const componentTimeout = 5 * time.Second

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

type HealthStatus struct {
	Status     string                      `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     string                      `json:"uptime"`
	Version    string                      `json:"version"`
	Components map[string]*ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status      string    `json:"status"` // "healthy" or "unhealthy"
	LastChecked time.Time `json:"last_checked"`
	DurationMS  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}

type HealthChecker struct {
	checks    map[string]CheckFunc
	startTime time.Time
	version   string
	mutex     sync.RWMutex
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
		version:   version,
	}
}

func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.checks[name] = check
}

func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	components := make(map[string]*ComponentHealth, len(h.checks))
	unhealthy := 0

	for name, check := range h.checks {
		components[name] = h.runCheck(ctx, check)
		if components[name].Status != "healthy" {
			unhealthy++
		}
	}

	status := "healthy"
	switch {
	case unhealthy == 0:
	case unhealthy < len(h.checks):
		status = "degraded"
	default:
		status = "unhealthy"
	}

	return &HealthStatus{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Version:    h.version,
		Components: components,
	}
}

func (h *HealthChecker) runCheck(ctx context.Context, check CheckFunc) *ComponentHealth {
	checkCtx, cancel := context.WithTimeout(ctx, componentTimeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	duration := time.Since(start)

	health := &ComponentHealth{
		Status:      "healthy",
		LastChecked: time.Now().UTC(),
		DurationMS:  duration.Milliseconds(),
	}
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	}
	return health
}

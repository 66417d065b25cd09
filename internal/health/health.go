// Package health exposes liveness of the pipeline's infrastructure
// dependencies over HTTP, next to the Prometheus metrics endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents component health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusCritical Status = "critical"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// ComponentHealth is the result of one probe.
type ComponentHealth struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Monitor runs registered checks on demand.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check)}
}

// Register adds a named dependency check.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// CheckHealth probes every registered dependency with a short timeout.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]ComponentHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := make(map[string]ComponentHealth, len(m.checks))
	for name, check := range m.checks {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := check(probeCtx); err != nil {
			report[name] = ComponentHealth{Status: StatusCritical, Error: err.Error()}
		} else {
			report[name] = ComponentHealth{Status: StatusHealthy}
		}
		cancel()
	}
	return report
}

// Package health aggregates component health and publishes it over the
// standard gRPC health service.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth is the result of one component check.
type ComponentHealth struct {
	Status SystemStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// Report contains the full system health report.
type Report struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
	CheckedAt    time.Time                  `json:"checked_at"`
}

// Check inspects one component.
type Check func(ctx context.Context) ComponentHealth

// Monitor runs registered checks and caches the report for a short while.
type Monitor struct {
	clock    clockwork.Clock
	cacheTTL time.Duration

	mu         sync.Mutex
	checks     map[string]Check
	lastReport *Report
}

// NewMonitor creates a monitor. cacheTTL limits how often checks really run.
func NewMonitor(cacheTTL time.Duration, clock clockwork.Clock) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		clock:    clock,
		cacheTTL: cacheTTL,
		checks:   make(map[string]Check),
	}
}

// Register adds a named check.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
	m.lastReport = nil
}

// CheckHealth runs every check. The worst component status wins.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.lastReport != nil && now.Sub(m.lastReport.CheckedAt) < m.cacheTTL {
		return *m.lastReport
	}

	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	report := Report{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(names)),
		CheckedAt:    now,
	}
	for _, name := range names {
		h := m.checks[name](ctx)
		report.Components[name] = h
		report.SystemStatus = worst(report.SystemStatus, h.Status)
	}

	m.lastReport = &report
	return report
}

func worst(a, b SystemStatus) SystemStatus {
	rank := func(s SystemStatus) int {
		switch s {
		case StatusCritical:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

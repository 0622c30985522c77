// Package health keeps the last known state of each moving part of the agent
// or server so it can be shown by the status command and /healthz.
package health

import (
	"slices"
	"sync"
	"time"

	"github.com/fleetsync/inventory/internal/logging"
)

var log = logging.L("health")

type Status string

// Statuses in increasing order of severity.
const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

var severity = map[Status]int{Healthy: 0, Degraded: 1, Unhealthy: 2, Unknown: 3}

func (s Status) IsValid() bool {
	_, ok := severity[s]
	return ok
}

// Check is the latest report of one component. Agent components are the
// server connection, the task queue and one "collector:<name>" per snapshot
// kind; the server reports its database.
type Check struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Since     time.Time `json:"since"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Report is a consistent view of every component at one instant.
type Report struct {
	Status     Status           `json:"status"`
	Components map[string]Check `json:"components"`
}

// Failing returns the names of components that are not healthy, sorted.
func (r Report) Failing() []string {
	var out []string
	for name, c := range r.Components {
		if c.Status != Healthy {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check)}
}

// Update records the status of a component. Since only moves when the status
// changes, and only changes are logged. Unrecognized statuses count as
// Unhealthy.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		log.Warn("invalid health status, treating as unhealthy", "component", name, "status", string(status))
		status = Unhealthy
	}
	now := time.Now()

	m.mu.Lock()
	prev, seen := m.checks[name]
	next := Check{Status: status, Message: message, Since: now, UpdatedAt: now}
	changed := !seen || prev.Status != status
	if !changed {
		next.Since = prev.Since
	}
	m.checks[name] = next
	m.mu.Unlock()

	switch {
	case !changed:
	case status != Healthy:
		log.Warn("component health changed", "component", name, "status", string(status), "message", message)
	case seen:
		log.Info("component recovered", "component", name, "after", now.Sub(prev.Since).Round(time.Second).String())
	}
}

func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall is the most severe component status, or Unknown before anything
// has reported.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if severity[c.Status] > severity[worst] {
			worst = c.Status
		}
	}
	return worst
}

func (m *Monitor) Summary() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := Report{Status: m.overallLocked(), Components: make(map[string]Check, len(m.checks))}
	for name, c := range m.checks {
		r.Components[name] = c
	}
	return r
}

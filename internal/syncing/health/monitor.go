package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haunv/profilesync/internal/syncing/cache"
	"github.com/haunv/profilesync/internal/syncing/orchestrator"
)

// StatusProvider exposes the orchestrator's current state.
type StatusProvider interface {
	Status() orchestrator.Status
}

// Thresholds for status evaluation.
const (
	criticalFailures = 5
	degradedFailures = 1
	staleSyncAge     = 30 * time.Minute
	lowHitRate       = 0.2
	highUtilization  = 0.95
)

// Monitor aggregates health status from the sync subsystems.
type Monitor struct {
	orch       StatusProvider
	cache      *cache.Cache
	startedAt  time.Time
	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *Report
}

// NewMonitor creates a health monitor.
func NewMonitor(orch StatusProvider, c *cache.Cache) *Monitor {
	return &Monitor{orch: orch, cache: c, startedAt: time.Now()}
}

// CheckHealth builds a health report. Checks are rate limited to once per 10s;
// callers inside the window get the previous report.
func (m *Monitor) CheckHealth(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return m.lastReport
	}

	components := map[string]ComponentHealth{
		"sync":  m.checkSync(),
		"cache": m.checkCache(),
	}

	overall := StatusHealthy
	for _, c := range components {
		if c.Status == StatusCritical {
			overall = StatusCritical
			break
		}
		if c.Status == StatusDegraded {
			overall = StatusDegraded
		}
	}

	report := &Report{SystemStatus: overall, Components: components}
	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func (m *Monitor) checkSync() ComponentHealth {
	status := m.orch.Status()
	c := ComponentHealth{
		Component:       "sync",
		Status:          StatusHealthy,
		ConsecutiveFail: status.FailureCount,
	}
	if !status.LastSyncAt.IsZero() {
		c.LastSyncAgeSecs = time.Since(status.LastSyncAt).Seconds()
	}

	switch {
	case status.FailureCount >= criticalFailures:
		c.Status = StatusCritical
		c.Detail = status.LastError
	case status.FailureCount >= degradedFailures:
		c.Status = StatusDegraded
		c.Detail = status.LastError
	case status.Address != "" && !status.LastSyncAt.IsZero() && time.Since(status.LastSyncAt) > staleSyncAge:
		c.Status = StatusDegraded
		c.Detail = "last successful sync is stale"
	}
	return c
}

func (m *Monitor) checkCache() ComponentHealth {
	stats := m.cache.Stats()
	maxBytes, _ := m.cache.Capacity()

	c := ComponentHealth{
		Component: "cache",
		Status:    StatusHealthy,
		HitRate:   stats.HitRate,
	}
	if maxBytes > 0 {
		c.Utilization = float64(stats.TotalSize) / float64(maxBytes)
	}

	// A cold cache has no samples yet; only judge the hit rate once the
	// process has been up long enough to have one.
	warmedUp := time.Since(m.startedAt) > time.Minute

	switch {
	case c.Utilization > highUtilization:
		c.Status = StatusDegraded
		c.Detail = fmt.Sprintf("cache at %.0f%% of size bound", c.Utilization*100)
	case warmedUp && stats.HitRate > 0 && stats.HitRate < lowHitRate:
		c.Status = StatusDegraded
		c.Detail = "cache hit rate is low"
	}
	return c
}

// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth contains health metrics for one sync subsystem.
type ComponentHealth struct {
	Component       string       `json:"component"`
	Status          SystemStatus `json:"status"`
	ConsecutiveFail int64        `json:"consecutive_failures,omitempty"`
	LastSyncAgeSecs float64      `json:"last_sync_age_secs,omitempty"`
	HitRate         float64      `json:"hit_rate,omitempty"`
	Utilization     float64      `json:"utilization,omitempty"`
	Detail          string       `json:"detail,omitempty"`
}

// Report contains the full system health report.
type Report struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
}

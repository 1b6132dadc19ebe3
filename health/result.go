package health

import "time"

// CheckStatus is the outcome of a single target probe
type CheckStatus string

const (
	// StatusHealthy means the target answered as expected
	StatusHealthy CheckStatus = "healthy"
	// StatusUnhealthy means the target answered but not as expected, or timed out
	StatusUnhealthy CheckStatus = "unhealthy"
	// StatusError means the probe could not be carried out at all
	StatusError CheckStatus = "error"
)

// CheckResult is the latest observation for one target
type CheckResult struct {
	Target         string      `json:"target"`
	Kind           string      `json:"kind"`
	Status         CheckStatus `json:"status"`
	ResponseTimeMs int64       `json:"responseTimeMs"`
	StatusCode     int         `json:"statusCode,omitempty"`
	Error          string      `json:"error,omitempty"`
	ObservedAt     time.Time   `json:"observedAt"`
}

// IsHealthy reports whether the probe succeeded
func (r CheckResult) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// HasResponseTime reports whether the result carries a measured response time.
// Error results come from probes that never completed a round trip.
func (r CheckResult) HasResponseTime() bool {
	return r.Status != StatusError
}

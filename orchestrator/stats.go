package orchestrator

import (
	"time"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/health"
)

// Stats are running check counters. They only grow until Reset.
type Stats struct {
	Sweeps                int64     `json:"sweeps"`
	TotalChecks           int64     `json:"totalChecks"`
	SuccessfulChecks      int64     `json:"successfulChecks"`
	FailedChecks          int64     `json:"failedChecks"`
	AverageResponseTimeMs float64   `json:"averageResponseTimeMs"`
	LastSweep             time.Time `json:"lastSweep,omitempty"`
}

type statsAccumulator struct {
	sweeps     int64
	total      int64
	successful int64
	failed     int64
	timed      int64
	sumMs      int64
	lastSweep  time.Time
}

// recordSweep folds one sweep's results into the running statistics
func (o *Orchestrator) recordSweep(results []health.CheckResult, at time.Time) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()

	s := &o.stats
	s.sweeps++
	for _, r := range results {
		s.total++
		if r.IsHealthy() {
			s.successful++
		} else {
			s.failed++
		}
		if r.HasResponseTime() {
			s.timed++
			s.sumMs += r.ResponseTimeMs
		}
	}
	if at.After(s.lastSweep) {
		s.lastSweep = at
	}
}

// Stats returns the running statistics
func (o *Orchestrator) Stats() Stats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()

	s := o.stats
	out := Stats{
		Sweeps:           s.sweeps,
		TotalChecks:      s.total,
		SuccessfulChecks: s.successful,
		FailedChecks:     s.failed,
		LastSweep:        s.lastSweep,
	}
	if s.timed > 0 {
		out.AverageResponseTimeMs = float64(s.sumMs) / float64(s.timed)
	}
	return out
}

package agent

import (
	"fmt"
	"sort"
	"time"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/alert"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/health"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/natsclient"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/orchestrator"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/selfmonitor"
)

// RecentAlerts is how many alerts the status report carries
const RecentAlerts = 20

// Report is the agent status projection served to operators
type Report struct {
	ObservedAt time.Time             `json:"observedAt"`
	Health     health.Status         `json:"health"`
	State      orchestrator.State    `json:"state"`
	Gateway    natsclient.Status     `json:"gateway"`
	Stats      orchestrator.Stats    `json:"stats"`
	Results    []health.CheckResult  `json:"results"`
	Alerts     []alert.Alert         `json:"alerts"`
	Self       *selfmonitor.Snapshot `json:"self,omitempty"`
}

// Status returns the current status report
func (a *Agent) Status() Report {
	r := Report{
		ObservedAt: a.clock.Now(),
		Health:     a.Health(),
		State:      a.orch.State(),
		Gateway:    a.gateway.GetStatus(),
		Stats:      a.orch.Stats(),
		Results:    a.orch.Results(),
		Alerts:     a.recentAlerts(RecentAlerts),
	}
	if a.self != nil {
		if snap, ok := a.self.Latest(); ok {
			r.Self = &snap
		}
	}
	return r
}

// recentAlerts merges orchestrator and self-monitor alerts, oldest first
func (a *Agent) recentAlerts(n int) []alert.Alert {
	out := a.orch.Alerts(n)
	if a.self != nil {
		out = append(out, a.self.Alerts(n)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Health aggregates gateway, self-monitor and target health
func (a *Agent) Health() health.Status {
	subs := []health.Status{gatewayHealth(a.gateway.GetStatus())}
	if a.self != nil {
		subs = append(subs, a.self.Health())
	}
	subs = append(subs, a.orch.Health())

	return health.Aggregate(ComponentName, subs)
}

// gatewayHealth maps the connection state: failed is unhealthy, anything short
// of connected is degraded
func gatewayHealth(s natsclient.Status) health.Status {
	const name = "gateway"
	switch s.Status {
	case natsclient.StatusConnected:
		return health.NewHealthy(name, "Connected to broker")
	case natsclient.StatusFailed:
		return health.NewUnhealthy(name,
			fmt.Sprintf("Reconnect budget exhausted: %s", health.Sanitize(s.LastError)))
	case natsclient.StatusReconnecting:
		return health.NewDegraded(name,
			fmt.Sprintf("Reconnecting (attempt %d/%d)", s.Attempts, s.MaxReconnects))
	default:
		return health.NewDegraded(name, "Broker connection "+s.Status.String())
	}
}

// Package health holds the agent's view of target health and its own component health.
//
// Two shapes live here. CheckResult is the outcome of probing one target: healthy,
// unhealthy (reachable but wrong) or error (the probe itself failed). Store keeps the
// latest CheckResult per target; a new result for a target replaces the previous one.
//
// Status is a component-level report (gateway, self-monitor, targets) with the
// healthy/degraded/unhealthy levels, and Aggregate folds several of them into one:
//
//	overall := health.Aggregate("healthmon", []health.Status{
//		gatewayStatus,
//		selfStatus,
//		store.Summary("targets"),
//	})
//
// Error text that leaves the process goes through Sanitize first, which masks URLs,
// paths, IP addresses, ports and credential-looking key/value pairs.
package health

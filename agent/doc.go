// Package agent assembles the health monitor: the broker gateway, the self-monitor,
// the orchestrator and the Prometheus endpoint, started and stopped as one unit.
//
// Startup never fails because the broker is unreachable. The agent keeps probing
// and sampling while the gateway reconnects in the background; alerts raised in
// the meantime stay in the local histories and appear in Status.
//
//	a, err := agent.New(cfg, agent.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	return a.Run(ctx, 30*time.Second)
package agent

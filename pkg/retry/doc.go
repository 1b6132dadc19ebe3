// Package retry provides backoff retry logic for transient failures.
//
// # Overview
//
// Do runs a function until it succeeds, returns a NonRetryable error, the context is
// cancelled, or MaxAttempts is exhausted. Exhaustion is reported wrapping
// errors.ErrMaxRetriesExceeded together with the last failure.
//
// Two backoff shapes are supported:
//
//   - Exponential (default): InitialDelay, then ×Multiplier per attempt, capped at MaxDelay
//   - Linear: attempt n waits InitialDelay × n, the broker reconnect schedule
//
// # Usage Examples
//
// Broker reconnect loop (wait base×n before attempt n, give up after max):
//
//	cfg := retry.LinearConfig(maxReconnects, baseDelay)
//	cfg.Clock = clk
//	cfg.OnAttempt = func(n int) { logger.Info("reconnect attempt", "attempt", n) }
//	err := retry.Do(ctx, cfg, dial)
//
// Basic retry with defaults:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Connect(ctx)
//	})
//
// # Clock
//
// Backoff timers run on Config.Clock (k8s.io/utils/clock), so tests drive retries with
// a fake clock instead of sleeping.
package retry

// Package schedule converts millisecond intervals into coarse recurring schedules and
// runs them on a drift-corrected fixed-rate timer.
//
// An interval is reduced to the coarsest unit that still represents it exactly:
// 45s runs at second granularity ("every 45s"), 120s reduces to "every 2m", 7200s to
// "every 2h". Intervals that are not a whole number of seconds run at millisecond
// granularity.
package schedule

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
)

// Schedule is a recurring trigger firing every Every × Unit.
type Schedule struct {
	Every int
	Unit  time.Duration
}

var units = []time.Duration{time.Hour, time.Minute, time.Second, time.Millisecond}

// FromInterval reduces an interval to the coarsest unit that divides it evenly.
func FromInterval(interval time.Duration) (Schedule, error) {
	if interval < time.Millisecond {
		return Schedule{}, errors.WrapInvalid(
			fmt.Errorf("interval %v is below 1ms", interval),
			"schedule", "FromInterval", "convert interval")
	}

	// Sub-millisecond remainders are below the timer's resolution
	interval = interval.Truncate(time.Millisecond)

	for _, unit := range units {
		if interval%unit == 0 {
			return Schedule{Every: int(interval / unit), Unit: unit}, nil
		}
	}
	// unreachable: every whole-millisecond interval divides by time.Millisecond
	return Schedule{Every: int(interval / time.Millisecond), Unit: time.Millisecond}, nil
}

// FromMillis is FromInterval for configuration values expressed in milliseconds.
func FromMillis(ms int) (Schedule, error) {
	return FromInterval(time.Duration(ms) * time.Millisecond)
}

// Period returns the effective firing period.
func (s Schedule) Period() time.Duration {
	return time.Duration(s.Every) * s.Unit
}

// String renders the schedule as "every <n><unit>".
func (s Schedule) String() string {
	suffix := "ms"
	switch s.Unit {
	case time.Hour:
		suffix = "h"
	case time.Minute:
		suffix = "m"
	case time.Second:
		suffix = "s"
	}
	return fmt.Sprintf("every %d%s", s.Every, suffix)
}

// Run calls fn at a fixed rate until ctx is cancelled. The first call happens one
// period after Run starts. Deadlines are computed from the start anchor, so a slow fn
// does not accumulate drift; ticks missed while fn was running are skipped rather
// than replayed.
func Run(ctx context.Context, clk clock.Clock, s Schedule, fn func(time.Time)) {
	period := s.Period()
	if period <= 0 {
		return
	}

	anchor := clk.Now()
	next := anchor.Add(period)
	timer := clk.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fired := <-timer.C():
			fn(fired)

			now := clk.Now()
			next = nextDeadline(anchor, next, now, period)
			timer.Reset(next.Sub(now))
		}
	}
}

// nextDeadline returns the first anchor-aligned deadline strictly after now.
func nextDeadline(anchor, prev, now time.Time, period time.Duration) time.Time {
	next := prev.Add(period)
	if !next.After(now) {
		missed := now.Sub(anchor)/period + 1
		next = anchor.Add(missed * period)
	}
	return next
}

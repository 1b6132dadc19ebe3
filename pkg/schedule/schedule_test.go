package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFromInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		want     Schedule
		str      string
	}{
		{"45 seconds stays at second granularity", 45 * time.Second, Schedule{45, time.Second}, "every 45s"},
		{"120 seconds reduces to minutes", 120 * time.Second, Schedule{2, time.Minute}, "every 2m"},
		{"90 seconds stays in seconds", 90 * time.Second, Schedule{90, time.Second}, "every 90s"},
		{"two hours", 2 * time.Hour, Schedule{2, time.Hour}, "every 2h"},
		{"90 minutes", 90 * time.Minute, Schedule{90, time.Minute}, "every 90m"},
		{"sub-second", 1500 * time.Millisecond, Schedule{1500, time.Millisecond}, "every 1500ms"},
		{"sub-millisecond remainder truncated", 2*time.Second + 300*time.Microsecond, Schedule{2, time.Second}, "every 2s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromInterval(tt.interval)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.str, got.String())
			assert.Equal(t, tt.interval.Truncate(time.Millisecond), got.Period())
		})
	}
}

func TestFromInterval_RejectsTinyIntervals(t *testing.T) {
	_, err := FromInterval(0)
	assert.True(t, errors.IsInvalid(err))

	_, err = FromMillis(-5)
	assert.True(t, errors.IsInvalid(err))
}

func TestRun_FiresAtPeriod(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	var fires atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		Run(ctx, clk, Schedule{Every: 2, Unit: time.Second}, func(time.Time) { fires.Add(1) })
	}()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(1999 * time.Millisecond)
	assert.Equal(t, int32(0), fires.Load(), "no fire before the first period")

	clk.Step(time.Millisecond)
	require.Eventually(t, func() bool { return fires.Load() == 1 }, time.Second, time.Millisecond)

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(2 * time.Second)
	require.Eventually(t, func() bool { return fires.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	wg.Wait()
}

func TestNextDeadline_SkipsMissedTicks(t *testing.T) {
	anchor := time.Unix(0, 0)
	period := time.Second

	// fn returned on time
	next := nextDeadline(anchor, anchor.Add(period), anchor.Add(1100*time.Millisecond), period)
	assert.Equal(t, anchor.Add(2*period), next)

	// fn ran for 3.5 periods: ticks 2 and 3 are skipped, stays anchor-aligned
	next = nextDeadline(anchor, anchor.Add(period), anchor.Add(3500*time.Millisecond), period)
	assert.Equal(t, anchor.Add(4*period), next)
}

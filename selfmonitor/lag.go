package selfmonitor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// lagSampler measures how late a short timer fires. The most recent drift is
// the current delay.
type lagSampler struct {
	clock    clock.Clock
	interval time.Duration

	delay atomic.Uint64 // float64 bits, milliseconds

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newLagSampler(clk clock.Clock, interval time.Duration) *lagSampler {
	return &lagSampler{clock: clk, interval: interval}
}

func (l *lagSampler) start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

func (l *lagSampler) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (l *lagSampler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		expected := l.clock.Now().Add(l.interval)
		timer := l.clock.NewTimer(l.interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
			l.record(l.clock.Since(expected))
		}
	}
}

func (l *lagSampler) record(drift time.Duration) {
	if drift < 0 {
		drift = 0
	}
	ms := float64(drift) / float64(time.Millisecond)
	l.delay.Store(math.Float64bits(ms))
}

// current returns the latest measured delay in milliseconds
func (l *lagSampler) current() float64 {
	return math.Float64frombits(l.delay.Load())
}

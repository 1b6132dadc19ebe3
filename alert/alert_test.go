package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/message"
)

func TestHistory_TruncatesToBound(t *testing.T) {
	tests := []struct {
		name  string
		bound int
		added int
		want  int
	}{
		{name: "under bound", bound: 10, added: 3, want: 3},
		{name: "exactly bound", bound: 10, added: 10, want: 10},
		{name: "far over bound", bound: 10, added: 1000, want: 10},
		{name: "default bound", bound: 0, added: 250, want: DefaultHistorySize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory(tt.bound)
			base := time.Now()
			for i := 0; i < tt.added; i++ {
				h.Add(New(TypeHighCPU, SeverityWarning, "", fmt.Sprintf("alert %d", i), "test", base.Add(time.Duration(i)*time.Millisecond)))
				require.LessOrEqual(t, h.Len(), h.Cap())
			}
			assert.Equal(t, tt.want, h.Len())

			all := h.All()
			assert.Equal(t, fmt.Sprintf("alert %d", tt.added-1), all[len(all)-1].Message, "newest alert kept")
			assert.Equal(t, int64(tt.added-tt.want), h.Evicted())
		})
	}
}

func TestHistory_TimestampsNeverGoBackwards(t *testing.T) {
	h := NewHistory(5)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	h.Add(New(TypeServiceDown, SeverityCritical, "a", "late", "test", now))
	stored := h.Add(New(TypeServiceDown, SeverityCritical, "b", "early", "test", now.Add(-time.Minute)))
	assert.Equal(t, now, stored.ObservedAt)

	all := h.All()
	require.Len(t, all, 2)
	assert.Equal(t, now, all[1].ObservedAt)
	assert.Equal(t, stored.ID, all[1].ID)
}

func TestHistory_RecentAndReset(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 4; i++ {
		h.Emit(context.Background(), New(TypeHighMemory, SeverityWarning, "", fmt.Sprint(i), "test", time.Now()))
	}

	recent := h.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "2", recent[0].Message)
	assert.Equal(t, "3", recent[1].Message)

	h.Reset()
	assert.Zero(t, h.Len())
}

func TestMulti(t *testing.T) {
	a, b := NewHistory(5), NewHistory(5)
	sink := Multi(a, nil, b)

	sink.Emit(context.Background(), New(TypeServiceDegraded, SeverityWarning, "x", "m", "test", time.Now()))

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
}

type recordingPublisher struct {
	mu   sync.Mutex
	err  error
	keys []string
	envs []*message.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, exchange, routingKey string, env *message.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, exchange+"."+routingKey)
	p.envs = append(p.envs, env)
	return nil
}

func TestBrokerSink_Publishes(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewBrokerSink(pub, "health", "healthmon", nil)

	at := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	a := New(TypeServiceDown, SeverityCritical, "svc-a", "HTTP 500", "orchestrator", at)
	sink.Emit(context.Background(), a)

	require.Len(t, pub.envs, 1)
	assert.Equal(t, "health.alerts.service-down", pub.keys[0])

	env := pub.envs[0]
	assert.Equal(t, "critical", env.Severity)
	assert.Equal(t, "alert.service-down", env.Type)
	assert.Equal(t, at, env.Timestamp)

	var got Alert
	require.NoError(t, env.DecodeData(&got))
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "svc-a", got.Target)
}

func TestBrokerSink_CountsFailures(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("not connected")}
	sink := NewBrokerSink(pub, "health", "healthmon", nil)

	for i := 0; i < 3; i++ {
		sink.Emit(context.Background(), New(TypeHighCPU, SeverityWarning, "", "cpu", "self", time.Now()))
	}
	assert.Equal(t, int64(3), sink.Failures())
}

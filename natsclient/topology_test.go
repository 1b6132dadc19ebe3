package natsclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTopology(t *testing.T) {
	topo := DefaultTopology()
	require.NoError(t, topo.Validate())
	assert.Equal(t, []string{ExchangeHealth, ExchangeSystem}, topo.Exchanges)

	subjects := make(map[string]string)
	for _, q := range topo.Queues {
		subjects[q.Name] = q.Subject()
		assert.Equal(t, DefaultQueueTTL, q.TTL)
		assert.Equal(t, int64(DefaultQueueMaxLen), q.MaxLen)
	}
	assert.Equal(t, map[string]string{
		"HEALTH_METRICS":  "health.metrics.*",
		"HEALTH_ALERTS":   "health.alerts.*",
		"SYSTEM_STATUS":   "system.status.*",
		"SYSTEM_DATABASE": "system.database.*",
	}, subjects)
}

func TestTopology_Validate(t *testing.T) {
	tests := []struct {
		name    string
		topo    Topology
		wantErr string
	}{
		{
			name:    "undeclared exchange",
			topo:    Topology{Exchanges: []string{"health"}, Queues: []Queue{NewQueue("system", "status.*")}},
			wantErr: "undeclared exchange",
		},
		{
			name:    "invalid stream name",
			topo:    Topology{Exchanges: []string{"health"}, Queues: []Queue{{Name: "bad.name", Exchange: "health", Pattern: "x"}}},
			wantErr: "not a valid stream name",
		},
		{
			name: "empty is valid",
			topo: Topology{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.topo.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestQueue_StreamConfig(t *testing.T) {
	q := NewQueue(ExchangeHealth, "metrics.*")
	cfg := q.StreamConfig()
	assert.Equal(t, "HEALTH_METRICS", cfg.Name)
	assert.Equal(t, []string{"health.metrics.*"}, cfg.Subjects)
	assert.Equal(t, q.TTL, cfg.MaxAge)
	assert.Equal(t, q.MaxLen, cfg.MaxMsgs)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "health.alerts.service-down", Subject(ExchangeHealth, "alerts.service-down"))
}

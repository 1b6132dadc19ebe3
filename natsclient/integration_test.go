//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/message"
)

func TestIntegration_TopologyDeclared(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	nc, err := gonats.Connect(tc.URL)
	require.NoError(t, err)
	defer nc.Close()
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	for _, q := range DefaultTopology().Queues {
		stream, err := js.Stream(ctx, q.Name)
		require.NoError(t, err, "stream %s", q.Name)
		info, err := stream.Info(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{q.Subject()}, info.Config.Subjects)
		assert.Equal(t, time.Hour, info.Config.MaxAge)
		assert.Equal(t, int64(10000), info.Config.MaxMsgs)
	}

	// Redeclaring against existing streams succeeds
	require.NoError(t, tc.Client.DeclareTopology(ctx))
}

func TestIntegration_PublishLandsInQueue(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	env, err := message.New("alert.service-down", "health-monitor", map[string]string{"target": "api"})
	require.NoError(t, err)
	require.NoError(t, tc.Client.Publish(ctx, ExchangeHealth, "alerts.service-down", env))

	nc, err := gonats.Connect(tc.URL)
	require.NoError(t, err)
	defer nc.Close()
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	stream, err := js.Stream(ctx, "HEALTH_ALERTS")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, err := stream.Info(ctx)
		return err == nil && info.State.Msgs == 1
	}, 5*time.Second, 50*time.Millisecond)

	msg, err := stream.GetLastMsgForSubject(ctx, "health.alerts.service-down")
	require.NoError(t, err)
	got, err := message.Decode(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
}

func TestIntegration_RequestReply(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	tc.Responder(t, "system.database.query", func(req *message.Envelope) (any, error) {
		return map[string]string{"status": "healthy"}, nil
	})

	reply, err := tc.Client.Request(ctx, ExchangeSystem, "database.query", "database.query",
		map[string]string{"queryId": "health-check", "value": "SELECT 1"}, 5*time.Second)
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, reply.DecodeData(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestIntegration_RequestTimeoutWithoutResponder(t *testing.T) {
	tc := NewTestClient(t)

	start := time.Now()
	_, err := tc.Client.Request(context.Background(), ExchangeSystem, "database.query", "database.query", nil, time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestIntegration_ServerStopFailsGateway(t *testing.T) {
	tc := NewTestClient(t, WithClientOptions(WithReconnectBaseDelay(100*time.Millisecond)))
	ctx := context.Background()

	require.NoError(t, tc.Container().Stop(ctx, nil))

	require.Eventually(t, func() bool {
		return tc.Client.Status() == StatusFailed
	}, 30*time.Second, 100*time.Millisecond)

	env, _ := message.New("status.sweep", "health-monitor", nil)
	assert.ErrorIs(t, tc.Client.Publish(ctx, ExchangeSystem, "status.sweep", env), ErrNotConnected)
}

package natsclient

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/message"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type dbQuery struct {
	QueryID string `json:"queryId"`
	Value   string `json:"value"`
}

func newTestClient(t *testing.T, broker *fakeBroker, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{WithDialer(broker.dial)}, opts...)
	c, err := NewClient("nats://localhost:4222", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewClient_RejectsBadOptions(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithMaxReconnects(-1))
	assert.True(t, errors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithReconnectBaseDelay(0))
	assert.True(t, errors.IsInvalid(err))

	bad := Topology{Exchanges: []string{ExchangeHealth}, Queues: []Queue{NewQueue("audit", "events.*")}}
	_, err = NewClient("nats://localhost:4222", WithTopology(bad))
	assert.True(t, errors.IsInvalid(err))
}

func TestConnect_Success(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker, WithName("health-monitor"), WithToken("s3cret"))

	assert.Equal(t, StatusDisconnected, c.Status())
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StatusConnected, c.Status())
	assert.True(t, c.IsHealthy())

	_, cfg := broker.last()
	assert.Equal(t, "nats://localhost:4222", cfg.URL)
	assert.Equal(t, "health-monitor", cfg.Name)
	assert.Equal(t, "s3cret", cfg.Token)
	assert.NotNil(t, cfg.OnLost)

	// Second call is a no-op
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, broker.dialCount())
}

func TestConnect_DialFailure(t *testing.T) {
	broker := &fakeBroker{down: true}
	c := newTestClient(t, broker)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, c.Status())

	st := c.GetStatus()
	assert.Contains(t, st.LastError, "connection refused")
	assert.False(t, st.LastFailure.IsZero())
}

func TestDeclareTopology(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)

	err := c.DeclareTopology(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.DeclareTopology(context.Background()))
	// Declaring twice is harmless
	require.NoError(t, c.DeclareTopology(context.Background()))

	conn, _ := broker.last()
	streams := conn.declared()
	require.Len(t, streams, 8)

	byName := map[string]jetstream.StreamConfig{}
	for _, s := range streams[:4] {
		byName[s.Name] = s
	}
	require.Contains(t, byName, "HEALTH_ALERTS")
	alerts := byName["HEALTH_ALERTS"]
	assert.Equal(t, []string{"health.alerts.*"}, alerts.Subjects)
	assert.Equal(t, time.Hour, alerts.MaxAge)
	assert.Equal(t, int64(10000), alerts.MaxMsgs)
	assert.Equal(t, jetstream.DiscardOld, alerts.Discard)
	assert.Equal(t, jetstream.FileStorage, alerts.Storage)

	assert.Contains(t, byName, "HEALTH_METRICS")
	assert.Contains(t, byName, "SYSTEM_STATUS")
	assert.Contains(t, byName, "SYSTEM_DATABASE")
}

func TestDeclareTopology_Failure(t *testing.T) {
	broker := &fakeBroker{setup: func(c *fakeConn) { c.declareErr = stderrors.New("insufficient resources") }}
	c := newTestClient(t, broker)
	require.NoError(t, c.Connect(context.Background()))

	err := c.DeclareTopology(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Contains(t, err.Error(), "HEALTH_ALERTS")
	assert.Contains(t, err.Error(), "insufficient resources")
}

func TestPublish(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)

	env, err := message.New("alert.service-down", "health-monitor", map[string]string{"target": "api"})
	require.NoError(t, err)

	t.Run("not connected fails immediately", func(t *testing.T) {
		err := c.Publish(context.Background(), ExchangeHealth, "alerts.service-down", env)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.True(t, errors.IsTransient(err))
	})

	require.NoError(t, c.Connect(context.Background()))
	conn, _ := broker.last()

	t.Run("connected publishes to exchange subject", func(t *testing.T) {
		require.NoError(t, c.Publish(context.Background(), ExchangeHealth, "alerts.service-down", env))

		msgs := conn.publishedMsgs()
		require.Len(t, msgs, 1)
		assert.Equal(t, "health.alerts.service-down", msgs[0].Subject)
		assert.Equal(t, env.ID, msgs[0].Header.Get(HeaderMessageID))
		assert.Equal(t, "application/json", msgs[0].Header.Get(HeaderContentType))

		got, err := message.Decode(msgs[0].Data)
		require.NoError(t, err)
		assert.Equal(t, env.ID, got.ID)
		assert.Equal(t, "alert.service-down", got.Type)
	})

	t.Run("broker error is transient", func(t *testing.T) {
		conn.mu.Lock()
		conn.publishErr = nats.ErrConnectionClosed
		conn.mu.Unlock()

		err := c.Publish(context.Background(), ExchangeHealth, "metrics.sweep", env)
		require.Error(t, err)
		assert.True(t, errors.IsTransient(err))
	})
}

// respond answers every request with a foreign-id reply, a non-envelope, and
// finally the real reply
func respond(t *testing.T, status string) func(*fakeConn, *nats.Msg) {
	return func(conn *fakeConn, msg *nats.Msg) {
		if msg.Reply == "" {
			return
		}
		req, err := message.Decode(msg.Data)
		if !assert.NoError(t, err) {
			return
		}

		foreign := *req
		foreign.CorrelationID = "someone-else"
		stray, _ := message.NewReply(&foreign, "database-plugin", map[string]string{"status": "stale"}, nil)
		strayData, _ := stray.Marshal()
		conn.deliver(msg.Reply, strayData)

		conn.deliver(msg.Reply, []byte(`{"stream":"SYSTEM_DATABASE","seq":7}`))
		conn.deliver(msg.Reply, []byte(`not json`))

		reply, _ := message.NewReply(req, "database-plugin", map[string]string{"status": status}, nil)
		data, _ := reply.Marshal()
		conn.deliver(msg.Reply, data)
	}
}

func TestRequest_CorrelatedReply(t *testing.T) {
	broker := &fakeBroker{setup: func(c *fakeConn) { c.onPublish = respond(t, "healthy") }}
	c := newTestClient(t, broker, WithSource("health-monitor"))
	require.NoError(t, c.Connect(context.Background()))

	reply, err := c.Request(context.Background(), ExchangeSystem, "database.query", "database.query",
		dbQuery{QueryID: "health-check", Value: "SELECT 1"}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, reply)

	var body map[string]string
	require.NoError(t, reply.DecodeData(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "database.query.reply", reply.Type)

	conn, _ := broker.last()
	msgs := conn.publishedMsgs()
	require.Len(t, msgs, 1)
	assert.Equal(t, "system.database.query", msgs[0].Subject)
	assert.Equal(t, reply.CorrelationID, msgs[0].Header.Get(HeaderCorrelationID))

	req, err := message.Decode(msgs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "health-monitor", req.Source)
	assert.Equal(t, msgs[0].Reply, req.ReplyTo)
	assert.JSONEq(t, `{"queryId":"health-check","value":"SELECT 1"}`, string(req.Query))

	assert.Equal(t, 0, c.GetStatus().Pending)
	assert.Equal(t, 0, conn.subscriptions(), "reply inbox is unsubscribed")
}

func TestRequest_NotConnected(t *testing.T) {
	c := newTestClient(t, &fakeBroker{})
	_, err := c.Request(context.Background(), ExchangeSystem, "database.query", "database.query", nil, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, errors.IsTimeout(err))
}

func TestRequest_TimeoutOnFakeClock(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	broker := &fakeBroker{}
	c := newTestClient(t, broker, WithClock(clk))
	require.NoError(t, c.Connect(context.Background()))

	var done atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), ExchangeSystem, "database.query", "database.query", nil, time.Second)
		done.Store(true)
		errCh <- err
	}()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	assert.Equal(t, 1, c.GetStatus().Pending)

	clk.Step(999 * time.Millisecond)
	assert.False(t, done.Load(), "request must not time out early")

	clk.Step(time.Millisecond)
	var err error
	select {
	case err = <-errCh:
	case <-time.After(time.Second):
		t.Fatal("request did not time out")
	}
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Contains(t, err.Error(), "after 1s")
	assert.Equal(t, 0, c.GetStatus().Pending)

	// A late reply has nobody waiting and is dropped
	conn, _ := broker.last()
	msgs := conn.publishedMsgs()
	require.Len(t, msgs, 1)
	corrID := msgs[0].Header.Get(HeaderCorrelationID)
	req, err := message.Decode(msgs[0].Data)
	require.NoError(t, err)
	late, err := message.NewReply(req, "database-plugin", nil, nil)
	require.NoError(t, err)
	data, _ := late.Marshal()
	assert.NotPanics(t, func() { c.handleReply(corrID, &nats.Msg{Data: data}) })
}

func TestRequest_DefaultTimeout(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	c := newTestClient(t, &fakeBroker{}, WithClock(clk), WithRequestTimeout(250*time.Millisecond))
	require.NoError(t, c.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), ExchangeSystem, "database.query", "database.query", nil, 0)
		errCh <- err
	}()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(250 * time.Millisecond)

	select {
	case err := <-errCh:
		assert.True(t, errors.IsTimeout(err))
	case <-time.After(time.Second):
		t.Fatal("request did not use the default timeout")
	}
}

func TestRequest_ConcurrentRepliesDoNotCross(t *testing.T) {
	broker := &fakeBroker{setup: func(c *fakeConn) {
		c.onPublish = func(conn *fakeConn, msg *nats.Msg) {
			req, err := message.Decode(msg.Data)
			if err != nil {
				return
			}
			var q dbQuery
			_ = jsonUnmarshal(req.Query, &q)
			reply, _ := message.NewReply(req, "db", q, nil)
			data, _ := reply.Marshal()
			conn.deliver(msg.Reply, data)
		}
	}}
	c := newTestClient(t, broker)
	require.NoError(t, c.Connect(context.Background()))

	const n = 20
	type result struct {
		want string
		got  string
		err  error
	}
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			want := string(rune('a' + i))
			reply, err := c.Request(context.Background(), ExchangeSystem, "database.query", "database.query",
				dbQuery{QueryID: want}, time.Second)
			r := result{want: want, err: err}
			if err == nil {
				var q dbQuery
				r.err = reply.DecodeData(&q)
				r.got = q.QueryID
			}
			results <- r
		}(i)
	}

	for i := 0; i < n; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, r.want, r.got)
	}
	assert.Equal(t, 0, c.GetStatus().Pending)
}

func TestClose_FailsOutstandingRequests(t *testing.T) {
	c := newTestClient(t, &fakeBroker{})
	require.NoError(t, c.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), ExchangeSystem, "database.query", "database.query", nil, time.Minute)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return c.GetStatus().Pending == 1 }, time.Second, time.Millisecond)
	require.NoError(t, c.Close(context.Background()))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrGatewayClosed)
		assert.False(t, errors.IsTimeout(err))
	case <-time.After(time.Second):
		t.Fatal("request not failed by Close")
	}
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestClose_DrainsConnection(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Close(context.Background()))
	conn, _ := broker.last()
	assert.True(t, conn.drained)
	assert.True(t, conn.closed)

	// Closing again is harmless
	require.NoError(t, c.Close(context.Background()))
}

// stepReconnects advances the fake clock through attempts first..last, waiting
// for each dial
func stepReconnects(t *testing.T, clk *testingclock.FakeClock, broker *fakeBroker, base time.Duration, dialsBefore, first, last int) {
	t.Helper()
	for n := first; n <= last; n++ {
		require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond, "attempt %d never scheduled", n)
		clk.Step(base * time.Duration(n))
		want := dialsBefore + n - first + 1
		require.Eventually(t, func() bool { return broker.dialCount() == want }, time.Second, time.Millisecond,
			"attempt %d never dialed", n)
	}
}

func TestReconnect_BoundedThenFailedUntilManualConnect(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	broker := &fakeBroker{}
	c := newTestClient(t, broker, WithClock(clk), WithMaxReconnects(3), WithReconnectBaseDelay(time.Second))
	require.NoError(t, c.Connect(context.Background()))

	first, cfg := broker.last()
	broker.setDown(true)
	cfg.OnLost(stderrors.New("EOF"))

	assert.Equal(t, StatusReconnecting, c.Status())
	assert.True(t, first.closed)

	stepReconnects(t, clk, broker, time.Second, 1, 1, 3)

	require.Eventually(t, func() bool { return c.Status() == StatusFailed }, time.Second, time.Millisecond)
	st := c.GetStatus()
	assert.Equal(t, 3, st.Attempts)
	assert.Equal(t, 3, st.MaxReconnects)
	assert.Contains(t, st.LastError, "connection refused")

	// Failed is sticky: nothing else is scheduled
	assert.False(t, clk.HasWaiters())
	clk.Step(time.Hour)
	assert.Equal(t, 4, broker.dialCount())
	assert.Equal(t, StatusFailed, c.Status())

	// Publishing while failed is rejected
	env, _ := message.New("status.sweep", "health-monitor", nil)
	assert.ErrorIs(t, c.Publish(context.Background(), ExchangeSystem, "status.sweep", env), ErrNotConnected)

	broker.setDown(false)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, 0, c.GetStatus().Attempts)
}

func TestReconnect_RecoversAndRedeclaresTopology(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	broker := &fakeBroker{}
	c := newTestClient(t, broker, WithClock(clk), WithMaxReconnects(5), WithReconnectBaseDelay(time.Second))
	require.NoError(t, c.Connect(context.Background()))

	_, cfg := broker.last()
	broker.setDown(true)
	cfg.OnLost(nats.ErrConnectionClosed)

	stepReconnects(t, clk, broker, time.Second, 1, 1, 1)
	broker.setDown(false)
	stepReconnects(t, clk, broker, time.Second, 2, 2, 2)

	require.Eventually(t, func() bool { return c.Status() == StatusConnected }, time.Second, time.Millisecond)
	st := c.GetStatus()
	assert.Equal(t, 1, st.Reconnects)
	assert.Equal(t, 0, st.Attempts)

	conn, _ := broker.last()
	assert.Len(t, conn.declared(), 4)
	assert.Equal(t, 2, broker.connCount())
}

func TestConnect_LossBeforeAdoptionStartsReconnect(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	broker := &fakeBroker{}
	c := newTestClient(t, broker, WithClock(clk), WithMaxReconnects(3), WithReconnectBaseDelay(time.Second))
	broker.dropNextDials(1)

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusReconnecting, c.Status())

	dead, _ := broker.last()
	assert.True(t, dead.closed)

	env, _ := message.New("status.sweep", "health-monitor", nil)
	assert.ErrorIs(t, c.Publish(context.Background(), ExchangeSystem, "status.sweep", env), ErrNotConnected)

	stepReconnects(t, clk, broker, time.Second, 1, 1, 1)
	require.Eventually(t, func() bool { return c.Status() == StatusConnected }, time.Second, time.Millisecond)
	assert.NoError(t, c.Publish(context.Background(), ExchangeSystem, "status.sweep", env))
}

func TestReconnect_LossBeforeAdoptionCountsAsFailedAttempt(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	broker := &fakeBroker{}
	c := newTestClient(t, broker, WithClock(clk), WithMaxReconnects(3), WithReconnectBaseDelay(time.Second))
	require.NoError(t, c.Connect(context.Background()))

	_, cfg := broker.last()
	broker.dropNextDials(1)
	cfg.OnLost(stderrors.New("EOF"))

	stepReconnects(t, clk, broker, time.Second, 1, 1, 1)
	assert.Equal(t, StatusReconnecting, c.Status())
	dropped, _ := broker.last()
	require.Eventually(t, func() bool {
		dropped.mu.Lock()
		defer dropped.mu.Unlock()
		return dropped.closed
	}, time.Second, time.Millisecond)

	stepReconnects(t, clk, broker, time.Second, 2, 2, 2)
	require.Eventually(t, func() bool { return c.Status() == StatusConnected }, time.Second, time.Millisecond)
	st := c.GetStatus()
	assert.Equal(t, 1, st.Reconnects)
	assert.Equal(t, 0, st.Attempts)
	assert.Equal(t, 3, broker.dialCount())
}

func TestReconnect_ZeroBudgetFailsImmediately(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	broker := &fakeBroker{}
	c := newTestClient(t, broker, WithClock(clk), WithMaxReconnects(0))
	require.NoError(t, c.Connect(context.Background()))

	_, cfg := broker.last()
	cfg.OnLost(stderrors.New("EOF"))

	assert.Equal(t, StatusFailed, c.Status())
	assert.False(t, clk.HasWaiters())
	assert.Equal(t, 1, broker.dialCount())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StatusConnected, c.Status())
}

func TestReconnect_StaleLossIgnored(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	require.NoError(t, c.Connect(context.Background()))
	_, oldCfg := broker.last()

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	oldCfg.OnLost(stderrors.New("EOF"))
	assert.Equal(t, StatusConnected, c.Status())
}

func TestReconnect_ConnectRejectedWhileReconnecting(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	broker := &fakeBroker{}
	c := newTestClient(t, broker, WithClock(clk))
	require.NoError(t, c.Connect(context.Background()))

	_, cfg := broker.last()
	cfg.OnLost(stderrors.New("EOF"))

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectInFlight)
	assert.True(t, errors.IsTransient(err))

	// Close stops the loop
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestScheduleReconnect_FromDisconnected(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	broker := &fakeBroker{}
	c := newTestClient(t, broker, WithClock(clk), WithReconnectBaseDelay(500*time.Millisecond))

	c.ScheduleReconnect()
	assert.Equal(t, StatusReconnecting, c.Status())
	c.ScheduleReconnect()

	stepReconnects(t, clk, broker, 500*time.Millisecond, 0, 1, 1)
	require.Eventually(t, func() bool { return c.Status() == StatusConnected }, time.Second, time.Millisecond)
}

func TestConnectionStatus_String(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		StatusFailed:         "failed",
		ConnectionStatus(99): "unknown",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
		text, err := s.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, want, string(text))
	}
}

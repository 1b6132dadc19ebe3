package natsclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// fakeConn is an in-memory Conn. Messages published to a subscribed subject are
// delivered synchronously; onPublish sees every message first.
type fakeConn struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	drained    bool
	published  []*nats.Msg
	subs       map[string]nats.MsgHandler
	streams    []jetstream.StreamConfig
	declareErr error
	publishErr error
	onPublish  func(c *fakeConn, msg *nats.Msg)
}

type fakeSub struct {
	conn    *fakeConn
	subject string
}

func (s *fakeSub) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	delete(s.conn.subs, s.subject)
	return nil
}

func newFakeConn() *fakeConn {
	return &fakeConn{connected: true, subs: make(map[string]nats.MsgHandler)}
}

func (c *fakeConn) PublishMsg(msg *nats.Msg) error {
	c.mu.Lock()
	if c.publishErr != nil {
		err := c.publishErr
		c.mu.Unlock()
		return err
	}
	c.published = append(c.published, msg)
	hook := c.onPublish
	c.mu.Unlock()

	if hook != nil {
		hook(c, msg)
	}
	return nil
}

// deliver hands data to the subscriber of subject, if any
func (c *fakeConn) deliver(subject string, data []byte) {
	c.mu.Lock()
	h := c.subs[subject]
	c.mu.Unlock()
	if h != nil {
		h(&nats.Msg{Subject: subject, Data: data})
	}
}

func (c *fakeConn) Subscribe(subject string, handler nats.MsgHandler) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[subject] = handler
	return &fakeSub{conn: c, subject: subject}, nil
}

func (c *fakeConn) DeclareStream(_ context.Context, cfg jetstream.StreamConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareErr != nil {
		return c.declareErr
	}
	c.streams = append(c.streams, cfg)
	return nil
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

func (c *fakeConn) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drained = true
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) publishedMsgs() []*nats.Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*nats.Msg(nil), c.published...)
}

func (c *fakeConn) declared() []jetstream.StreamConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]jetstream.StreamConfig(nil), c.streams...)
}

func (c *fakeConn) subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

var errBrokerDown = errors.New("dial tcp 127.0.0.1:4222: connect: connection refused")

// fakeBroker is a Dialer that records every dial
type fakeBroker struct {
	mu      sync.Mutex
	down    bool
	dials   int
	conns   []*fakeConn
	configs []DialConfig
	setup   func(*fakeConn)

	// dropNext makes the next dials return a connection that already reported
	// its loss before the dial returned
	dropNext int
}

func (b *fakeBroker) dial(_ context.Context, cfg DialConfig) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.down {
		return nil, errBrokerDown
	}
	conn := newFakeConn()
	if b.setup != nil {
		b.setup(conn)
	}
	b.conns = append(b.conns, conn)
	b.configs = append(b.configs, cfg)
	if b.dropNext > 0 {
		b.dropNext--
		conn.connected = false
		if cfg.OnLost != nil {
			cfg.OnLost(errBrokerDown)
		}
	}
	return conn, nil
}

func (b *fakeBroker) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeBroker) dropNextDials(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropNext = n
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) last() (*fakeConn, DialConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.conns)
	return b.conns[n-1], b.configs[n-1]
}

func (b *fakeBroker) connCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

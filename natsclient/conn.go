package natsclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Conn is the slice of a broker connection the gateway uses. The production
// implementation wraps *nats.Conn and a JetStream context.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	Subscribe(subject string, handler nats.MsgHandler) (Subscription, error)
	DeclareStream(ctx context.Context, cfg jetstream.StreamConfig) error
	IsConnected() bool
	Drain() error
	Close()
}

// Subscription is an active subscription on a Conn
type Subscription interface {
	Unsubscribe() error
}

// DialConfig carries everything needed to open one connection
type DialConfig struct {
	URL      string
	Name     string
	Token    string
	Username string
	Password string
	Timeout  time.Duration
	TLS      *tls.Config

	// OnLost is called when the connection drops or closes. It may be called more
	// than once per connection.
	OnLost func(err error)
}

// Dialer opens a connection. The gateway owns reconnection, so a Dialer must
// not reconnect on its own.
type Dialer func(ctx context.Context, cfg DialConfig) (Conn, error)

// DialNATS is the production Dialer
func DialNATS(ctx context.Context, cfg DialConfig) (Conn, error) {
	opts := []nats.Option{
		nats.NoReconnect(),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if cfg.OnLost != nil {
				cfg.OnLost(err)
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if cfg.OnLost != nil {
				cfg.OnLost(nc.LastError())
			}
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.TLS != nil {
		opts = append(opts, nats.Secure(cfg.TLS))
	}

	type result struct {
		nc  *nats.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(cfg.URL, opts...)
		done <- result{nc, err}
	}()

	var nc *nats.Conn
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		nc = r.nc
	case <-ctx.Done():
		go func() {
			if r := <-done; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, ctx.Err()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init JetStream: %w", err)
	}
	return &natsConn{nc: nc, js: js}, nil
}

type natsConn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func (c *natsConn) PublishMsg(msg *nats.Msg) error {
	return c.nc.PublishMsg(msg)
}

func (c *natsConn) Subscribe(subject string, handler nats.MsgHandler) (Subscription, error) {
	sub, err := c.nc.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *natsConn) DeclareStream(ctx context.Context, cfg jetstream.StreamConfig) error {
	_, err := c.js.CreateOrUpdateStream(ctx, cfg)
	return err
}

func (c *natsConn) IsConnected() bool {
	return c.nc.IsConnected()
}

func (c *natsConn) Drain() error {
	return c.nc.Drain()
}

func (c *natsConn) Close() {
	c.nc.Close()
}

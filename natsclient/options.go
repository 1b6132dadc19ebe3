package natsclient

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/metric"
)

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger.With("component", "nats-gateway")
		}
		return nil
	}
}

// WithClock replaces the clock driving reconnect backoff and request timeouts
func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) error {
		if clk == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.clock = clk
		return nil
	}
}

// WithDialer replaces the function that opens connections
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) error {
		if d == nil {
			return fmt.Errorf("dialer cannot be nil")
		}
		c.dialer = d
		return nil
	}
}

// WithMaxReconnects sets the reconnect attempt budget after a connection loss
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("max reconnects cannot be negative: %d", n)
		}
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectBaseDelay sets the linear backoff step: attempt n waits base × n
func WithReconnectBaseDelay(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("reconnect base delay must be positive: %v", d)
		}
		c.baseDelay = d
		return nil
	}
}

// WithConnectTimeout bounds a single dial
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.dialCfg.Timeout = d
		return nil
	}
}

// WithDrainTimeout bounds connection draining in Close
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}

// WithRequestTimeout sets the timeout used when Request is given none
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.requestTimeout = d
		return nil
	}
}

// WithName sets the connection name reported to the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.dialCfg.Name = name
		return nil
	}
}

// WithSource sets the envelope source for requests
func WithSource(source string) ClientOption {
	return func(c *Client) error {
		c.source = source
		return nil
	}
}

// WithTLSConfig secures the connection; nil keeps plain TCP
func WithTLSConfig(tc *tls.Config) ClientOption {
	return func(c *Client) error {
		c.dialCfg.TLS = tc
		return nil
	}
}

// WithToken authenticates with a token
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.dialCfg.Token = token
		return nil
	}
}

// WithUserInfo authenticates with a username and password
func WithUserInfo(username, password string) ClientOption {
	return func(c *Client) error {
		c.dialCfg.Username = username
		c.dialCfg.Password = password
		return nil
	}
}

// WithTopology replaces the default topology
func WithTopology(t Topology) ClientOption {
	return func(c *Client) error {
		if err := t.Validate(); err != nil {
			return err
		}
		c.topology = t
		return nil
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// Package natsclient is the agent's messaging gateway: a NATS connection with
// explicit reconnect state, topology declaration, fire-and-forget publishing and
// correlated request/reply.
package natsclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/message"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/metric"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/pkg/retry"
)

// Header names set on outgoing messages
const (
	HeaderCorrelationID = "Correlation-Id"
	HeaderMessageID     = "Message-Id"
	HeaderContentType   = "Content-Type"
)

// Error values
var (
	ErrNotConnected    = stderrors.New("not connected to broker")
	ErrConnectInFlight = stderrors.New("connection attempt already in progress")
	ErrRequestTimeout  = errors.ErrRequestTimeout
	ErrGatewayClosed   = stderrors.New("gateway closed")
	errDeclareFailed   = stderrors.New("topology declaration failed")
)

// Client is the messaging gateway. All methods are safe for concurrent use.
type Client struct {
	url            string
	dialCfg        DialConfig
	dialer         Dialer
	clock          clock.Clock
	logger         *slog.Logger
	metrics        *metric.Metrics
	topology       Topology
	source         string
	maxReconnects  int
	baseDelay      time.Duration
	drainTimeout   time.Duration
	requestTimeout time.Duration

	mu          sync.RWMutex
	conn        Conn
	gen         uint64 // bumped for every dial and every deliberate close
	lostGen     uint64 // generation that dropped before it was adopted
	status      ConnectionStatus
	attempts    int
	reconnects  int
	lastErr     error
	lastFailure time.Time

	reconnectCancel context.CancelFunc
	reconnectDone   chan struct{}

	pending *pendingTable
}

// NewClient creates a gateway for url. It does not connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "validate url")
	}

	c := &Client{
		url:            url,
		dialer:         DialNATS,
		clock:          clock.RealClock{},
		logger:         slog.Default().With("component", "nats-gateway"),
		topology:       DefaultTopology(),
		source:         "health-monitor",
		maxReconnects:  10,
		baseDelay:      time.Second,
		drainTimeout:   10 * time.Second,
		requestTimeout: 5 * time.Second,
		status:         StatusDisconnected,
		pending:        newPendingTable(),
		dialCfg:        DialConfig{URL: url, Timeout: 5 * time.Second},
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	return c, nil
}

// URL returns the broker URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsHealthy reports whether the gateway is connected
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// GetStatus returns a snapshot of the gateway state
func (c *Client) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{
		Status:        c.status,
		Attempts:      c.attempts,
		MaxReconnects: c.maxReconnects,
		Reconnects:    c.reconnects,
		Pending:       c.pending.len(),
		LastFailure:   c.lastFailure,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// setStatusLocked updates the status; c.mu must be held
func (c *Client) setStatusLocked(s ConnectionStatus) {
	if c.status == s {
		return
	}
	c.logger.Debug("Connection state changed", "from", c.status.String(), "to", s.String())
	c.status = s
	c.metrics.RecordGatewayState(int(s))
}

func (c *Client) recordFailureLocked(err error) {
	c.lastErr = err
	c.lastFailure = c.clock.Now()
}

// dial opens a connection tagged with a fresh generation. Loss events of an
// older generation are ignored.
func (c *Client) dial(ctx context.Context) (Conn, uint64, error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	cfg := c.dialCfg
	c.mu.Unlock()

	cfg.OnLost = func(err error) { c.handleLost(gen, err) }

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	conn, err := c.dialer(ctx, cfg)
	if err != nil {
		return nil, 0, err
	}
	return conn, gen, nil
}

// Connect establishes the connection. It is a no-op when already connected.
// From the failed state it is the manual reconnect and resets the attempt counter.
// Topology is declared separately by DeclareTopology.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusConnected:
		c.mu.Unlock()
		return nil
	case StatusConnecting, StatusReconnecting:
		c.mu.Unlock()
		return errors.WrapTransient(ErrConnectInFlight, "Client", "Connect", "establish connection")
	case StatusFailed:
		c.logger.Info("Manual reconnect after exhausted reconnect budget", "url", c.url)
		c.attempts = 0
	}
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	c.logger.Info("Connecting to broker", "url", c.url)
	conn, gen, err := c.dial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.recordFailureLocked(err)
		c.setStatusLocked(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}
	if c.status != StatusConnecting || gen != c.gen {
		// Closed while dialing
		conn.Close()
		return errors.WrapTransient(ErrGatewayClosed, "Client", "Connect", "establish connection")
	}

	if c.lostGen == gen || !conn.IsConnected() {
		conn.Close()
		c.recordFailureLocked(errors.ErrConnectionLost)
		c.logger.Warn("Broker connection dropped during connect", "url", c.url)
		c.setStatusLocked(StatusDisconnected)
		c.startReconnectLocked()
		return errors.WrapTransient(errors.ErrConnectionLost, "Client", "Connect", "establish connection")
	}

	c.conn = conn
	c.attempts = 0
	c.setStatusLocked(StatusConnected)
	c.logger.Info("Connected to broker", "url", c.url)
	return nil
}

// DeclareTopology idempotently creates or updates every queue stream
func (c *Client) DeclareTopology(ctx context.Context) error {
	conn, ok := c.activeConn()
	if !ok {
		return errors.WrapTransient(ErrNotConnected, "Client", "DeclareTopology", "declare topology")
	}
	if err := c.declareOn(ctx, conn); err != nil {
		return errors.WrapTransient(err, "Client", "DeclareTopology", "declare topology")
	}
	return nil
}

func (c *Client) declareOn(ctx context.Context, conn Conn) error {
	var errs error
	for _, q := range c.topology.Queues {
		if err := conn.DeclareStream(ctx, q.StreamConfig()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("queue %s (%s): %w", q.Name, q.Subject(), err))
			continue
		}
		c.logger.Debug("Declared queue", "queue", q.Name, "subject", q.Subject(), "ttl", q.TTL, "max_len", q.MaxLen)
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", errDeclareFailed, errs)
	}
	return nil
}

// activeConn returns the live connection if the gateway is connected
func (c *Client) activeConn() (Conn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status != StatusConnected || c.conn == nil || !c.conn.IsConnected() {
		return nil, false
	}
	return c.conn, true
}

// handleLost reacts to a disconnect or close event of connection generation gen
func (c *Client) handleLost(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch c.status {
	case StatusConnected:
	case StatusConnecting, StatusReconnecting:
		// Dial has not returned yet; the adopter checks lostGen
		c.lostGen = gen
		c.mu.Unlock()
		return
	default:
		c.mu.Unlock()
		return
	}

	if err == nil {
		err = errors.ErrConnectionLost
	}
	c.logger.Warn("Broker connection lost", "error", err)
	c.recordFailureLocked(err)

	old := c.conn
	c.conn = nil
	c.gen++
	c.startReconnectLocked()
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// ScheduleReconnect starts the reconnect loop unless the gateway is connected or
// already reconnecting. It returns immediately.
func (c *Client) ScheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case StatusConnected, StatusReconnecting, StatusConnecting:
		return
	case StatusFailed:
		c.attempts = 0
	}
	c.startReconnectLocked()
}

// startReconnectLocked moves to reconnecting and runs the loop; c.mu must be held
func (c *Client) startReconnectLocked() {
	if c.reconnectCancel != nil {
		return
	}
	if c.maxReconnects == 0 {
		c.setStatusLocked(StatusFailed)
		c.logger.Error("Automatic reconnect disabled; gateway failed until manual reconnect", "url", c.url)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.reconnectCancel = cancel
	c.reconnectDone = done
	c.setStatusLocked(StatusReconnecting)

	go c.reconnectLoop(ctx, done)
}

// reconnectLoop retries with linear backoff (base × attempt) until connected,
// cancelled, or out of attempts, in which case the gateway is failed.
func (c *Client) reconnectLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	cfg := retry.LinearConfig(c.maxReconnects, c.baseDelay)
	cfg.Clock = c.clock
	cfg.OnAttempt = func(n int) {
		c.mu.Lock()
		c.attempts = n
		c.mu.Unlock()
		c.logger.Info("Reconnect attempt", "attempt", n, "max_attempts", c.maxReconnects)
	}

	err := retry.Do(ctx, cfg, func() error {
		conn, gen, err := c.dial(ctx)
		if err != nil {
			c.attemptFailed(err)
			return err
		}
		if err := c.declareOn(ctx, conn); err != nil {
			conn.Close()
			c.attemptFailed(err)
			return err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if ctx.Err() != nil || gen != c.gen {
			conn.Close()
			return retry.NonRetryable(ErrGatewayClosed)
		}
		if c.lostGen == gen || !conn.IsConnected() {
			conn.Close()
			c.attemptFailedLocked(errors.ErrConnectionLost)
			return errors.ErrConnectionLost
		}
		c.conn = conn
		c.attempts = 0
		c.reconnects++
		c.setStatusLocked(StatusConnected)
		c.metrics.RecordReconnectAttempt("success")
		c.logger.Info("Reconnected to broker", "url", c.url, "reconnects", c.reconnects)
		return nil
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectDone == done {
		c.reconnectCancel = nil
		c.reconnectDone = nil
	}
	if err == nil || ctx.Err() != nil || retry.IsNonRetryable(err) {
		return
	}

	c.recordFailureLocked(err)
	c.setStatusLocked(StatusFailed)
	c.logger.Error("Reconnect attempts exhausted; gateway failed until manual reconnect",
		"attempts", c.maxReconnects, "error", err)
}

func (c *Client) attemptFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attemptFailedLocked(err)
}

func (c *Client) attemptFailedLocked(err error) {
	c.recordFailureLocked(err)
	c.metrics.RecordReconnectAttempt("failure")
	c.logger.Warn("Reconnect attempt failed", "error", err)
}

// Publish sends env to <exchange>.<routingKey> without waiting for delivery.
// It fails immediately when not connected; nothing is queued.
func (c *Client) Publish(_ context.Context, exchange, routingKey string, env *message.Envelope) error {
	subject := Subject(exchange, routingKey)

	conn, ok := c.activeConn()
	if !ok {
		c.metrics.RecordPublish(exchange, ErrNotConnected)
		return errors.WrapTransient(ErrNotConnected, "Client", "Publish", "publish to "+subject)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "Publish", "marshal envelope")
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderContentType, "application/json")
	msg.Header.Set(HeaderMessageID, env.ID)

	err = conn.PublishMsg(msg)
	c.metrics.RecordPublish(exchange, err)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// Request sends query to <exchange>.<routingKey> and waits up to timeout for the
// reply carrying the same correlation id. A zero timeout uses the configured
// default. Failure to send is a transient error; no reply in time is a timeout
// error (errors.IsTimeout) wrapping ErrRequestTimeout.
func (c *Client) Request(ctx context.Context, exchange, routingKey, msgType string, query any, timeout time.Duration) (*message.Envelope, error) {
	subject := Subject(exchange, routingKey)
	if timeout <= 0 {
		timeout = c.requestTimeout
	}
	start := c.clock.Now()

	conn, ok := c.activeConn()
	if !ok {
		c.metrics.RecordRequest("error", 0)
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "Request", "request "+subject)
	}

	correlationID := uuid.NewString()
	inbox := nats.NewInbox()

	env, err := message.NewRequest(msgType, c.source, query, message.WithCorrelation(correlationID, inbox))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "Request", "marshal envelope")
	}

	handle, replies := c.pending.add(correlationID)
	defer c.pending.remove(correlationID, handle)

	sub, err := conn.Subscribe(inbox, func(msg *nats.Msg) {
		c.handleReply(correlationID, msg)
	})
	if err != nil {
		c.metrics.RecordRequest("error", c.clock.Since(start))
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err),
			"Client", "Request", "subscribe reply inbox")
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug("Reply inbox unsubscribe failed", "inbox", inbox, "error", err)
		}
	}()

	msg := nats.NewMsg(subject)
	msg.Reply = inbox
	msg.Data = data
	msg.Header.Set(HeaderContentType, "application/json")
	msg.Header.Set(HeaderMessageID, env.ID)
	msg.Header.Set(HeaderCorrelationID, correlationID)

	if err := conn.PublishMsg(msg); err != nil {
		c.metrics.RecordRequest("error", c.clock.Since(start))
		return nil, errors.WrapTransient(err, "Client", "Request", "publish to "+subject)
	}

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-replies:
		if r.err != nil {
			c.metrics.RecordRequest("error", c.clock.Since(start))
			return nil, errors.WrapTransient(r.err, "Client", "Request", "await reply from "+subject)
		}
		c.metrics.RecordRequest("success", c.clock.Since(start))
		return r.env, nil
	case <-timer.C():
		c.metrics.RecordRequest("timeout", c.clock.Since(start))
		return nil, errors.WrapTimeout(fmt.Errorf("%w after %v", ErrRequestTimeout, timeout),
			"Client", "Request", "await reply from "+subject)
	case <-ctx.Done():
		c.metrics.RecordRequest("error", c.clock.Since(start))
		return nil, errors.Wrap(ctx.Err(), "Client", "Request", "await reply from "+subject)
	}
}

// handleReply delivers a message arriving on a request's inbox. Anything that is
// not an envelope carrying correlationID is ignored; JetStream-delivered strays
// are acked so they are not redelivered.
func (c *Client) handleReply(correlationID string, msg *nats.Msg) {
	if strings.HasPrefix(msg.Reply, "$JS.ACK.") {
		_ = msg.Ack()
	}

	env, err := message.Decode(msg.Data)
	if err != nil {
		c.logger.Debug("Ignoring undecodable message on reply inbox", "subject", msg.Subject)
		return
	}
	if env.CorrelationID != correlationID {
		c.logger.Debug("Ignoring reply with foreign correlation id",
			"expected", correlationID, "got", env.CorrelationID)
		return
	}
	if !c.pending.resolve(correlationID, replyResult{env: env}) {
		c.logger.Debug("Discarding late or duplicate reply", "correlation_id", correlationID)
	}
}

// Close stops any reconnect loop, fails outstanding requests and drains the
// connection. The gateway can be connected again afterwards.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.reconnectCancel, c.reconnectDone
	if cancel != nil {
		cancel()
	}
	c.reconnectCancel = nil
	c.reconnectDone = nil
	conn := c.conn
	c.conn = nil
	c.gen++
	c.attempts = 0
	c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	var errs error
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			errs = multierr.Append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "wait for reconnect loop"))
		}
	}

	if n := c.pending.failAll(ErrGatewayClosed); n > 0 {
		c.logger.Debug("Failed outstanding requests on close", "count", n)
	}

	if conn != nil {
		errs = multierr.Append(errs, c.drain(ctx, conn))
		conn.Close()
	}
	return errs
}

func (c *Client) drain(ctx context.Context, conn Conn) error {
	drainDone := make(chan error, 1)
	go func() {
		drainDone <- conn.Drain()
	}()

	timer := c.clock.NewTimer(c.drainTimeout)
	defer timer.Stop()

	select {
	case err := <-drainDone:
		if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-timer.C():
		return errors.WrapTransient(fmt.Errorf("drain timeout after %v", c.drainTimeout),
			"Client", "Close", "drain connection")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
}

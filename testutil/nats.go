package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/message"
)

// PublishedMessage is one envelope handed to MockGateway.Publish
type PublishedMessage struct {
	Exchange   string
	RoutingKey string
	Envelope   *message.Envelope
}

// RequestCall records one MockGateway.Request invocation
type RequestCall struct {
	Exchange   string
	RoutingKey string
	Type       string
	Query      any
	Timeout    time.Duration
}

// RequestFunc answers a request
type RequestFunc func(ctx context.Context, call RequestCall) (*message.Envelope, error)

// MockGateway is an in-memory messaging gateway.
// Thread-safe for concurrent use from multiple goroutines.
type MockGateway struct {
	mu         sync.RWMutex
	published  []PublishedMessage
	requests   []RequestCall
	publishErr error

	// RequestFunc answers requests; nil fails every request with a timeout
	RequestFunc RequestFunc
}

// NewMockGateway creates an empty mock gateway
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// Publish records env, or fails with the injected error
func (g *MockGateway) Publish(_ context.Context, exchange, routingKey string, env *message.Envelope) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.publishErr != nil {
		return g.publishErr
	}
	g.published = append(g.published, PublishedMessage{Exchange: exchange, RoutingKey: routingKey, Envelope: env})
	return nil
}

// Request records the call and delegates to RequestFunc
func (g *MockGateway) Request(ctx context.Context, exchange, routingKey, msgType string, query any, timeout time.Duration) (*message.Envelope, error) {
	call := RequestCall{Exchange: exchange, RoutingKey: routingKey, Type: msgType, Query: query, Timeout: timeout}

	g.mu.Lock()
	g.requests = append(g.requests, call)
	fn := g.RequestFunc
	g.mu.Unlock()

	if fn == nil {
		return nil, errors.WrapTimeout(errors.ErrRequestTimeout, "MockGateway", "Request", "await reply")
	}
	return fn(ctx, call)
}

// SetPublishError makes every later Publish fail with err (nil restores success)
func (g *MockGateway) SetPublishError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.publishErr = err
}

// Published returns a copy of every published message
func (g *MockGateway) Published() []PublishedMessage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]PublishedMessage(nil), g.published...)
}

// PublishedWithPrefix returns messages whose routing key starts with prefix
func (g *MockGateway) PublishedWithPrefix(prefix string) []PublishedMessage {
	var out []PublishedMessage
	for _, m := range g.Published() {
		if strings.HasPrefix(m.RoutingKey, prefix) {
			out = append(out, m)
		}
	}
	return out
}

// Requests returns a copy of every recorded request
func (g *MockGateway) Requests() []RequestCall {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]RequestCall(nil), g.requests...)
}

// Reset clears recorded traffic
func (g *MockGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.published = nil
	g.requests = nil
}

// ReplyWith returns a RequestFunc answering every request with a success reply
// carrying data
func ReplyWith(data any) RequestFunc {
	return func(_ context.Context, call RequestCall) (*message.Envelope, error) {
		req, err := message.NewRequest(call.Type, "mock", call.Query, message.WithCorrelation("mock-correlation", "mock-inbox"))
		if err != nil {
			return nil, err
		}
		return message.NewReply(req, "mock-responder", data, nil)
	}
}

// FailWith returns a RequestFunc failing every request with err
func FailWith(err error) RequestFunc {
	return func(context.Context, RequestCall) (*message.Envelope, error) {
		return nil, err
	}
}

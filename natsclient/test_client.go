package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/message"
)

// TestClient runs a JetStream-enabled NATS server in a container and a gateway
// connected to it
type TestClient struct {
	container testcontainers.Container
	Client    *Client
	URL       string
	cleanup   func()
}

type testConfig struct {
	natsVersion  string
	timeout      time.Duration
	startTimeout time.Duration
	clientOpts   []ClientOption
}

// TestOption configures a TestClient
type TestOption func(*testConfig)

// WithNATSVersion selects the nats image tag
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) {
		cfg.natsVersion = version
	}
}

// WithStartTimeout bounds container startup
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.startTimeout = timeout
	}
}

// WithClientOptions passes options through to NewClient
func WithClientOptions(opts ...ClientOption) TestOption {
	return func(cfg *testConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewTestClient starts a container, connects a gateway and declares the
// default topology. The container is terminated when the test ends.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	tc, err := NewSharedTestClient(opts...)
	if err != nil {
		t.Fatalf("Failed to start NATS test client: %v", err)
	}
	t.Cleanup(tc.Terminate)
	return tc
}

// NewSharedTestClient is NewTestClient for TestMain, without testing.TB
func NewSharedTestClient(opts ...TestOption) (*TestClient, error) {
	cfg := &testConfig{
		natsVersion:  "2.11.7-alpine",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "nats:" + cfg.natsVersion,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222", "--js"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	clientOpts := append([]ClientOption{
		WithConnectTimeout(cfg.timeout),
		WithMaxReconnects(0),
	}, cfg.clientOpts...)
	client, err := NewClient(url, clientOpts...)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	if err := client.Connect(connectCtx); err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if err := client.DeclareTopology(connectCtx); err != nil {
		_ = client.Close(ctx)
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to declare topology: %w", err)
	}

	return &TestClient{
		container: container,
		Client:    client,
		URL:       url,
		cleanup: func() {
			_ = client.Close(context.Background())
			_ = container.Terminate(context.Background())
		},
	}, nil
}

// Terminate closes the gateway and removes the container
func (tc *TestClient) Terminate() {
	if tc.cleanup != nil {
		tc.cleanup()
		tc.cleanup = nil
	}
}

// Container exposes the underlying container, e.g. to stop the server
func (tc *TestClient) Container() testcontainers.Container {
	return tc.container
}

// Responder answers requests on subject using a separate raw connection, the
// way a plugin on the other side of the broker would
func (tc *TestClient) Responder(t testing.TB, subject string, answer func(req *message.Envelope) (any, error)) {
	t.Helper()

	nc, err := gonats.Connect(tc.URL)
	if err != nil {
		t.Fatalf("Failed to connect responder: %v", err)
	}
	t.Cleanup(nc.Close)

	_, err = nc.Subscribe(subject, func(msg *gonats.Msg) {
		req, err := message.Decode(msg.Data)
		if err != nil || req.ReplyTo == "" {
			return
		}
		data, answerErr := answer(req)
		reply, err := message.NewReply(req, "test-responder", data, answerErr)
		if err != nil {
			return
		}
		body, err := reply.Marshal()
		if err != nil {
			return
		}
		_ = nc.Publish(req.ReplyTo, body)
	})
	if err != nil {
		t.Fatalf("Failed to subscribe responder: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Failed to flush responder: %v", err)
	}
}

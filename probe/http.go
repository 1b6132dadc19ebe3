package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"k8s.io/utils/clock"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/config"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/health"
)

// UserAgent is sent with every HTTP probe
const UserAgent = "corebridge-health-monitor/1.0"

// maxDrain bounds how much of a response body is read before closing
const maxDrain = 64 << 10

// HTTP probes http targets. A response is healthy when its status is below 400,
// or equals the target's expectedStatus when one is set.
type HTTP struct {
	client *http.Client
	clock  clock.PassiveClock
}

// HTTPOption configures the HTTP checker
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the HTTP client. Redirect and TLS policy come from it.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// WithTLSConfig probes https targets with tc, on a transport cloned from the
// default one
func WithTLSConfig(tc *tls.Config) HTTPOption {
	return func(h *HTTP) {
		if tc == nil {
			return
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tc
		h.client = &http.Client{Transport: transport}
	}
}

// WithHTTPClock sets the clock measuring response time
func WithHTTPClock(clk clock.PassiveClock) HTTPOption {
	return func(h *HTTP) {
		if clk != nil {
			h.clock = clk
		}
	}
}

// NewHTTP creates an HTTP checker
func NewHTTP(opts ...HTTPOption) *HTTP {
	h := &HTTP{
		client: &http.Client{},
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check implements Checker
func (h *HTTP) Check(ctx context.Context, target config.Target) health.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeoutOf(target))
	defer cancel()

	method := target.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target.URL, nil)
	if err != nil {
		return ErrorResult(target, fmt.Errorf("build request: %w", err), h.clock.Now())
	}
	req.Header.Set("User-Agent", UserAgent)
	if a := target.Auth; a != nil {
		switch a.Type {
		case config.AuthBasic:
			req.SetBasicAuth(a.Username, a.Password)
		case config.AuthBearer:
			req.Header.Set("Authorization", "Bearer "+a.Token)
		}
	}

	start := h.clock.Now()
	resp, err := h.client.Do(req)
	elapsed := h.clock.Since(start)

	result := health.CheckResult{
		Target:         target.Name,
		Kind:           target.Kind,
		ResponseTimeMs: elapsed.Milliseconds(),
		ObservedAt:     h.clock.Now(),
	}
	if err != nil {
		result.Status = health.StatusUnhealthy
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	result.StatusCode = resp.StatusCode
	if statusAccepted(resp.StatusCode, target.ExpectedStatus) {
		result.Status = health.StatusHealthy
		return result
	}

	result.Status = health.StatusUnhealthy
	if target.ExpectedStatus != 0 {
		result.Error = fmt.Sprintf("HTTP %d, expected %d", resp.StatusCode, target.ExpectedStatus)
	} else {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return result
}

func statusAccepted(code, expected int) bool {
	if expected != 0 {
		return code == expected
	}
	return code < 400
}

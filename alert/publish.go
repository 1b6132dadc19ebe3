package alert

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/message"
)

// Publisher is the slice of the messaging gateway needed to deliver alerts
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, env *message.Envelope) error
}

// BrokerSink publishes alerts as envelopes on <exchange>.alerts.<type>.
// Delivery failures are counted and logged at most once per warnInterval.
type BrokerSink struct {
	pub      Publisher
	exchange string
	source   string
	logger   *slog.Logger
	limiter  *rate.Limiter
	failures atomic.Int64
}

const warnInterval = 30 * time.Second

// NewBrokerSink creates a sink publishing to exchange on behalf of source
func NewBrokerSink(pub Publisher, exchange, source string, logger *slog.Logger) *BrokerSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrokerSink{
		pub:      pub,
		exchange: exchange,
		source:   source,
		logger:   logger.With("component", "alert-publisher"),
		limiter:  rate.NewLimiter(rate.Every(warnInterval), 1),
	}
}

// Emit publishes a. A disconnected gateway is a soft failure.
func (s *BrokerSink) Emit(ctx context.Context, a Alert) {
	env, err := message.New("alert."+a.Type, s.source, a,
		message.WithTime(a.ObservedAt), message.WithSeverity(string(a.Severity)))
	if err != nil {
		s.fail(err, a)
		return
	}

	if err := s.pub.Publish(ctx, s.exchange, "alerts."+a.Type, env); err != nil {
		s.fail(err, a)
	}
}

// Failures returns the number of alerts that could not be published
func (s *BrokerSink) Failures() int64 {
	return s.failures.Load()
}

func (s *BrokerSink) fail(err error, a Alert) {
	total := s.failures.Add(1)
	if s.limiter.Allow() {
		s.logger.Warn("Failed to publish alert",
			"alert_type", a.Type,
			"target", a.Target,
			"failures_total", total,
			"error", err)
	}
}

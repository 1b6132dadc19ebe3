package natsclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Exchanges used by the agent. An exchange is a subject namespace: publishing to
// exchange "health" with routing key "alerts.service-down" sends to subject
// "health.alerts.service-down".
const (
	ExchangeHealth = "health"
	ExchangeSystem = "system"
)

// Queue bounds
const (
	DefaultQueueTTL    = time.Hour
	DefaultQueueMaxLen = 10000
)

// Queue is a durable, bounded JetStream stream capturing <Exchange>.<Pattern>
type Queue struct {
	Name     string
	Exchange string
	Pattern  string
	TTL      time.Duration
	MaxLen   int64
}

// Subject returns the subject filter the queue captures
func (q Queue) Subject() string {
	return Subject(q.Exchange, q.Pattern)
}

// StreamConfig returns the JetStream configuration for the queue
func (q Queue) StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        q.Name,
		Description: fmt.Sprintf("%s queue bound to %s", q.Name, q.Subject()),
		Subjects:    []string{q.Subject()},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		MaxAge:      q.TTL,
		MaxMsgs:     q.MaxLen,
	}
}

// Topology lists the exchanges and the queues bound to them
type Topology struct {
	Exchanges []string
	Queues    []Queue
}

// DefaultTopology returns the agent's standard topology:
// metrics.* and alerts.* on health, status.* and database.* on system.
func DefaultTopology() Topology {
	return Topology{
		Exchanges: []string{ExchangeHealth, ExchangeSystem},
		Queues: []Queue{
			NewQueue(ExchangeHealth, "metrics.*"),
			NewQueue(ExchangeHealth, "alerts.*"),
			NewQueue(ExchangeSystem, "status.*"),
			NewQueue(ExchangeSystem, "database.*"),
		},
	}
}

// NewQueue builds a queue with the default bounds. The stream name is derived
// from the exchange and the pattern's first token, e.g. HEALTH_ALERTS.
func NewQueue(exchange, pattern string) Queue {
	prefix, _, _ := strings.Cut(pattern, ".")
	name := strings.ToUpper(exchange + "_" + prefix)
	return Queue{
		Name:     name,
		Exchange: exchange,
		Pattern:  pattern,
		TTL:      DefaultQueueTTL,
		MaxLen:   DefaultQueueMaxLen,
	}
}

// Validate checks every queue is bound to a declared exchange
func (t Topology) Validate() error {
	known := make(map[string]bool, len(t.Exchanges))
	for _, ex := range t.Exchanges {
		known[ex] = true
	}
	for _, q := range t.Queues {
		if !known[q.Exchange] {
			return fmt.Errorf("queue %s bound to undeclared exchange %q", q.Name, q.Exchange)
		}
		if q.Name == "" || strings.ContainsAny(q.Name, ".*> ") {
			return fmt.Errorf("queue name %q is not a valid stream name", q.Name)
		}
	}
	return nil
}

// Subject joins an exchange and a routing key
func Subject(exchange, routingKey string) string {
	return exchange + "." + routingKey
}

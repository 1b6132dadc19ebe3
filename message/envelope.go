// Package message defines the broker envelope shared by events, requests and replies.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
)

// Reply status values written by responders
const (
	ReplySuccess = "success"
	ReplyError   = "error"
)

// Envelope is the JSON wrapper carried by every broker message.
//
// Events carry Data; requests carry Query and set CorrelationID and ReplyTo; replies
// echo the request's CorrelationID and carry Status plus Data or Error.
type Envelope struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	Query         json.RawMessage `json:"query,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	ReplyTo       string          `json:"replyTo,omitempty"`
	Severity      string          `json:"severity,omitempty"`
	Status        string          `json:"status,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Option is a functional option for configuring Envelope construction.
type Option func(*Envelope)

// WithTime sets a specific timestamp instead of time.Now().
func WithTime(ts time.Time) Option {
	return func(e *Envelope) {
		e.Timestamp = ts
	}
}

// WithSeverity tags the envelope with an alert severity.
func WithSeverity(severity string) Option {
	return func(e *Envelope) {
		e.Severity = severity
	}
}

// WithCorrelation sets the correlation id and reply destination of a request.
func WithCorrelation(correlationID, replyTo string) Option {
	return func(e *Envelope) {
		e.CorrelationID = correlationID
		e.ReplyTo = replyTo
	}
}

// New creates an event envelope with a fresh id. data is marshalled to JSON.
func New(msgType, source string, data any, opts ...Option) (*Envelope, error) {
	raw, err := marshalBody(data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "message", "New", fmt.Sprintf("marshal %s data", msgType))
	}

	env := &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Type:      msgType,
		Data:      raw,
	}
	for _, opt := range opts {
		opt(env)
	}
	return env, nil
}

// NewRequest creates a request envelope whose body travels in Query.
func NewRequest(msgType, source string, query any, opts ...Option) (*Envelope, error) {
	raw, err := marshalBody(query)
	if err != nil {
		return nil, errors.WrapInvalid(err, "message", "NewRequest", fmt.Sprintf("marshal %s query", msgType))
	}

	env := &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Type:      msgType,
		Query:     raw,
	}
	for _, opt := range opts {
		opt(env)
	}
	return env, nil
}

// NewReply answers req, echoing its correlation id. A nil replyErr produces a
// success reply carrying data.
func NewReply(req *Envelope, source string, data any, replyErr error) (*Envelope, error) {
	reply := &Envelope{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Source:        source,
		Type:          req.Type + ".reply",
		CorrelationID: req.CorrelationID,
		Status:        ReplySuccess,
	}

	if replyErr != nil {
		reply.Status = ReplyError
		reply.Error = replyErr.Error()
		return reply, nil
	}

	raw, err := marshalBody(data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "message", "NewReply", "marshal reply data")
	}
	reply.Data = raw
	return reply, nil
}

// Marshal encodes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an envelope from JSON.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(err, "message", "Decode", "unmarshal envelope")
	}
	return &env, nil
}

// DecodeData unmarshals the envelope's Data into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "DecodeData", "read empty data")
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.WrapInvalid(err, "Envelope", "DecodeData", "unmarshal data")
	}
	return nil
}

func marshalBody(v any) (json.RawMessage, error) {
	switch body := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return body, nil
	case []byte:
		return json.RawMessage(body), nil
	default:
		return json.Marshal(v)
	}
}

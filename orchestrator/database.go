package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/config"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/health"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/message"
	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/natsclient"
)

// KindDatabase is the result kind of the database check
const KindDatabase = "database"

// Database check routing
const (
	DatabaseRoutingKey  = "database.check"
	DatabaseMessageType = "database.check"
)

// databaseReplySchema is the contract for the data of a database check reply
const databaseReplySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "minLength": 1},
    "message": {"type": "string"},
    "responseTime": {"type": "number", "minimum": 0}
  }
}`

// DatabaseQuery is the request body of a database check
type DatabaseQuery struct {
	QueryID string `json:"queryId"`
	Value   any    `json:"value"`
}

type databaseReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

var healthyDatabaseStatuses = map[string]bool{
	"healthy": true,
	"ok":      true,
	"success": true,
}

// CheckDatabase asks the database plugin for its health over the broker. The
// reply's own status decides: healthy, ok or success is healthy, anything else
// unhealthy. No reply within the timeout is unhealthy; a gateway that cannot
// send at all, or a malformed reply, is an error result.
func (o *Orchestrator) CheckDatabase(ctx context.Context) health.CheckResult {
	db := o.cfg.Database
	if db == nil {
		return health.CheckResult{
			Target:     KindDatabase,
			Kind:       KindDatabase,
			Status:     health.StatusError,
			Error:      "database check not configured",
			ObservedAt: o.clock.Now(),
		}
	}

	start := o.clock.Now()
	reply, err := o.gateway.Request(ctx, natsclient.ExchangeSystem, DatabaseRoutingKey, DatabaseMessageType,
		DatabaseQuery{QueryID: db.QueryID, Value: db.Value}, db.Timeout)

	r := health.CheckResult{
		Target:         db.Name,
		Kind:           KindDatabase,
		ResponseTimeMs: o.clock.Since(start).Milliseconds(),
		ObservedAt:     o.clock.Now(),
	}

	switch {
	case err == nil:
		o.classifyReply(reply, &r)
	case errors.IsTimeout(err):
		r.Status = health.StatusUnhealthy
		r.Error = fmt.Sprintf("no reply within %v", db.Timeout)
	default:
		r.Status = health.StatusError
		r.Error = err.Error()
	}

	o.results.Put(r)
	o.metrics.RecordCheck(r.Target, r.Kind, string(r.Status), o.clock.Since(start))
	if !r.IsHealthy() {
		o.logger.Debug("Database check failed", "status", r.Status, "error", health.Sanitize(r.Error))
	}
	return r
}

// classifyReply validates reply and sets r's status from it
func (o *Orchestrator) classifyReply(reply *message.Envelope, r *health.CheckResult) {
	if reply.Status == message.ReplyError {
		r.Status = health.StatusUnhealthy
		r.Error = "database plugin replied with error: " + reply.Error
		return
	}
	if len(reply.Data) == 0 {
		r.Status = health.StatusError
		r.Error = "database reply carries no data"
		return
	}

	res, err := o.dbSchema.Validate(gojsonschema.NewBytesLoader(reply.Data))
	if err != nil {
		r.Status = health.StatusError
		r.Error = "malformed database reply: " + err.Error()
		return
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		r.Status = health.StatusError
		r.Error = "database reply violates contract: " + strings.Join(msgs, "; ")
		return
	}

	var body databaseReply
	if err := reply.DecodeData(&body); err != nil {
		r.Status = health.StatusError
		r.Error = err.Error()
		return
	}

	if healthyDatabaseStatuses[strings.ToLower(body.Status)] {
		r.Status = health.StatusHealthy
		return
	}
	r.Status = health.StatusUnhealthy
	r.Error = "database reported status " + body.Status
	if body.Message != "" {
		r.Error += ": " + body.Message
	}
}

// runDatabaseCheck is the database timer job: check, then alert on failure
func (o *Orchestrator) runDatabaseCheck(ctx context.Context) {
	r := o.CheckDatabase(ctx)
	if r.IsHealthy() {
		return
	}
	db := o.cfg.Database
	o.emit(ctx, o.classify(config.Target{Name: db.Name, Kind: KindDatabase, Critical: db.Critical}, r))
}

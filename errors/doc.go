// Package errors provides standardized error handling patterns for the health monitor.
//
// # Overview
//
// Errors are classified so that callers can decide between retrying, degrading and
// escalating without matching on error strings:
//
//   - Transient: broker unreachable, channel closed, dial failures (retry recommended)
//   - Timeout: a request was sent but no reply arrived within its budget
//   - Invalid: malformed input or configuration (do not retry)
//   - Fatal: unrecoverable states such as an exhausted reconnect budget
//
// Timeout is deliberately separate from Transient: "no answer within budget" is not
// the same failure as "cannot send at all", and callers such as the database check
// classify them differently.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// The classification-aware wrappers keep that format and attach a class:
//
//	errors.WrapTransient(err, "Client", "Publish", "publish envelope")
//	errors.WrapTimeout(err, "Client", "Request", "await reply")
//	errors.WrapInvalid(err, "Config", "Validate", "validate targets")
//	errors.WrapFatal(err, "Client", "reconnect", "exhaust reconnect budget")
//
// Classification survives errors.Is / errors.As chains:
//
//	if errors.IsTimeout(err) {
//	    // mark the database unhealthy, keep running
//	}
package errors

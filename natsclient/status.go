package natsclient

import "time"

// ConnectionStatus represents the state of the broker connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusFailed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON projections
func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status holds runtime status information for the gateway
type Status struct {
	Status        ConnectionStatus `json:"status"`
	Attempts      int              `json:"attempts"`
	MaxReconnects int              `json:"maxReconnects"`
	Reconnects    int              `json:"reconnects"`
	Pending       int              `json:"pendingRequests"`
	LastError     string           `json:"lastError,omitempty"`
	LastFailure   time.Time        `json:"lastFailure,omitempty"`
}

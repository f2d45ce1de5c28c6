// Package monitor defines the event payloads streamed to WebSocket watchers
// and shared helpers reused across hub and watcher logic.
package monitor

import (
	"strings"
	"time"
)

// Event types.
const (
	EventJoined  = "joined"
	EventLeft    = "left"
	EventMessage = "message"
)

// Event is the JSON document sent to watchers for every broker event.
type Event struct {
	Type       string    `json:"type"`
	ID         int32     `json:"id"`
	Nickname   string    `json:"nickname"`
	Payload    string    `json:"payload,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Recipients int       `json:"recipients,omitempty"`
	Time       time.Time `json:"time"`
}

// Stats is served on /stats.
type Stats struct {
	Sessions int    `json:"sessions"`
	Watchers int    `json:"watchers"`
	Relayed  uint64 `json:"relayed"`
	Dropped  uint64 `json:"dropped"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

package types

import "time"

// QueueMessage represents a WebSocket queue update message pushed to
// the UI panel whenever a record changes
type QueueMessage struct {
	RecordID  string     `json:"recordId"`
	Type      string     `json:"type"` // "created", "progress", "status", "complete", "error", "removed", "visibility"
	Status    string     `json:"status,omitempty"`
	Percent   float64    `json:"percent"`
	Message   string     `json:"message,omitempty"`
	Record    *JobRecord `json:"record,omitempty"`
	Visible   *bool      `json:"visible,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

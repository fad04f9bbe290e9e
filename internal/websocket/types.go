package websocket

import (
	"encoding/json"
	"time"
)

// EventType identifies a hub event.
type EventType string

const (
	// EventTypeFileProcessed reports one file leaving the walker.
	EventTypeFileProcessed EventType = "file_processed"
	// EventTypeSubstitutionBatch reports replacements made by one engine call.
	EventTypeSubstitutionBatch EventType = "substitution_batch"
	// EventTypeTableWritten reports a flushed translation table.
	EventTypeTableWritten EventType = "table_written"
	// EventTypeSystemStatus carries periodic runtime counters.
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection reports clients joining and leaving the hub.
	EventTypeConnection EventType = "connection"
)

// Event is one message pushed to connected clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// SubstitutionBatchEvent describes replacements made in one unit of text.
type SubstitutionBatchEvent struct {
	Source        string `json:"source"`
	Substitutions int    `json:"substitutions"`
}

// TableWrittenEvent describes a translation table written to disk.
type TableWrittenEvent struct {
	Path    string `json:"path"`
	Records int    `json:"records"`
}

// SystemStatusEvent is a periodic runtime snapshot.
type SystemStatusEvent struct {
	Status            string `json:"status"`
	Uptime            string `json:"uptime"`
	FilesProcessed    int    `json:"files_processed"`
	TotalReplacements int    `json:"total_replacements"`
	ConnectedClients  int    `json:"connected_clients"`
}

// ConnectionEvent reports a client joining or leaving.
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected" or "disconnected"
	ClientID string `json:"client_id"`
}

// ClientMessage is a message sent from a client to the hub.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscriptionRequest narrows which event types a client receives. A
// client without a subscription receives everything.
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Stats tracks hub counters.
type Stats struct {
	TotalConnections  int
	ActiveConnections int
	TotalBroadcasts   int
	DroppedEvents     int
}

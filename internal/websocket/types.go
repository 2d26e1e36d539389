package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDocumentUploaded is sent when a new document replaces the
	// current handle.
	EventTypeDocumentUploaded EventType = "document_uploaded"
	// EventTypePreviewCompleted is sent when a preview cycle finishes,
	// successfully or not.
	EventTypePreviewCompleted EventType = "preview_completed"
	// EventTypeExportCompleted is sent when an export finishes.
	EventTypeExportCompleted EventType = "export_completed"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// DocumentUploadedEvent announces a replaced document handle.
type DocumentUploadedEvent struct {
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
	FileKind string `json:"file_kind"`
	Size     int64  `json:"size"`
}

// PreviewCompletedEvent announces a finished preview cycle.
type PreviewCompletedEvent struct {
	TaskID            string  `json:"task_id"`
	TotalItems        int     `json:"total_items"`
	DesensitizedItems int     `json:"desensitized_items"`
	Empty             bool    `json:"empty,omitempty"`
	DurationMS        float64 `json:"duration_ms"`
	Error             string  `json:"error,omitempty"`
}

// ExportCompletedEvent announces a finished export.
type ExportCompletedEvent struct {
	TaskID   string `json:"task_id"`
	Filename string `json:"filename,omitempty"`
	Format   string `json:"format"`
	Error    string `json:"error,omitempty"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}

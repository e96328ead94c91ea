// package models defines the data model for the realtime update client
package models

import (
	"encoding/json"
	"time"
)

// Status is a state of the connection state machine.
type Status string

const (
	StatusDisconnected     Status = "disconnected"
	StatusRequestingTicket Status = "requesting_ticket"
	StatusConnecting       Status = "connecting"
	StatusConnected        Status = "connected"
	StatusReconnecting     Status = "reconnecting"
	StatusError            Status = "error"
	StatusRateLimited      Status = "rate_limited"
	StatusFailed           Status = "failed"
)

func (s Status) String() string { return string(s) }

// ConnectionState is the mutable record kept for one logical subscription.
//
// Ticket and TicketExpiresAt are both set or both zero.
type ConnectionState struct {
	Status            Status    `json:"status"`
	Ticket            string    `json:"ticket,omitempty"`
	TicketExpiresAt   time.Time `json:"ticketExpiresAt,omitzero"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastError         string    `json:"lastError,omitempty"`
}

// HasTicket reports whether a ticket and its expiry are held.
func (s ConnectionState) HasTicket() bool {
	return s.Ticket != "" && !s.TicketExpiresAt.IsZero()
}

// ClearTicket drops the ticket and its expiry together.
func (s *ConnectionState) ClearTicket() {
	s.Ticket = ""
	s.TicketExpiresAt = time.Time{}
}

// SetTicket stores a ticket and its expiry together.
func (s *ConnectionState) SetTicket(t Ticket) {
	s.Ticket = t.Value
	s.TicketExpiresAt = t.ExpiresAt
}

// Ticket is a single-use credential for opening one streaming connection.
type Ticket struct {
	Value            string    `json:"ticket"`
	ExpiresAt        time.Time `json:"expiresAt"`
	ExpiresInSeconds int       `json:"expiresIn"`
}

// EventType names an inbound stream event.
type EventType string

const (
	EventProcessing      EventType = "processing"
	EventCompleted       EventType = "completed"
	EventError           EventType = "error"
	EventBackendError    EventType = "backend_error"
	EventHeartbeat       EventType = "heartbeat"
	EventConnectionClose EventType = "connection_close"
)

// Event is an inbound stream event with its JSON payload decoded.
//
// Fields beyond Timestamp are optional and depend on Type; Raw keeps the full payload.
type Event struct {
	Type       EventType       `json:"type"`
	ID         string          `json:"id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	RequestID  string          `json:"requestId,omitempty"`
	ProjectID  string          `json:"projectId,omitempty"`
	Status     string          `json:"status,omitempty"`
	Message    string          `json:"message,omitempty"`
	Progress   float64         `json:"progress,omitempty"`
	TokensUsed int             `json:"tokensUsed,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// NotificationType is the severity of a [Notification].
type NotificationType string

const (
	NotificationError   NotificationType = "error"
	NotificationWarning NotificationType = "warning"
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
)

// ActionKind is what a notification's call to action asks the user to do.
type ActionKind string

const (
	ActionRetry   ActionKind = "retry"
	ActionRefresh ActionKind = "refresh"
)

// Action is an optional call to action attached to a [Notification].
type Action struct {
	Label string     `json:"label"`
	Kind  ActionKind `json:"kind"`
}

// Notification is an ephemeral, user-facing message.
type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Timestamp   time.Time        `json:"timestamp"`
	Dismissible bool             `json:"dismissible"`
	Action      *Action          `json:"action,omitempty"`
}

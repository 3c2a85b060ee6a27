package events

import (
	"time"

	"github.com/spec-kit/ticket-chat/internal/domain"
	"github.com/spec-kit/ticket-chat/pkg/util"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionStateChanged EventType = "session_state_changed"
	EventMessageReceived     EventType = "chat_message_received"
	EventHistoryLoaded       EventType = "chat_history_loaded"
	EventSessionError        EventType = "session_error"
)

// Event represents a session lifecycle event emitted by the controller.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	ChatID    string    `json:"chat_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// SessionStateChangedPayload payload.
type SessionStateChangedPayload struct {
	OldState domain.ConnectionState `json:"old_state"`
	NewState domain.ConnectionState `json:"new_state"`
	Reason   string                 `json:"reason,omitempty"`
}

// MessageReceivedPayload payload.
type MessageReceivedPayload struct {
	Message domain.ChatMessage `json:"message"`
}

// HistoryLoadedPayload payload.
type HistoryLoadedPayload struct {
	Count int `json:"count"`
}

// SessionErrorPayload payload.
type SessionErrorPayload struct {
	Kind    util.ErrorKind `json:"kind"`
	Message string         `json:"message"`
}

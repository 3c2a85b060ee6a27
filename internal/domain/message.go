package domain

import "time"

// ChatMessageType differentiates text messages from attachment-carrying ones.
type ChatMessageType string

const (
	MessageTypeText  ChatMessageType = "TEXT"
	MessageTypeImage ChatMessageType = "IMAGE"
	MessageTypeFile  ChatMessageType = "FILE"
)

// Sender identifies a message author; may be absent on the wire.
type Sender struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// ChatMessage is one entry in a ticket conversation. ID is server-assigned
// and is the dedup key; Timestamp is server-assigned and drives sort order.
type ChatMessage struct {
	ID                 string          `json:"id"`
	Sender             *Sender         `json:"sender,omitempty"`
	Content            string          `json:"content,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
	MessageType        ChatMessageType `json:"messageType"`
	AttachmentURL      string          `json:"attachmentUrl,omitempty"`
	AttachmentFilename string          `json:"attachmentFilename,omitempty"`
}

// Valid reports whether the message carries the fields required for
// storage. Messages without an id or timestamp are malformed.
func (m ChatMessage) Valid() bool {
	return m.ID != "" && !m.Timestamp.IsZero()
}

// SenderID returns the author id, or empty when the sender is absent.
func (m ChatMessage) SenderID() string {
	if m.Sender == nil {
		return ""
	}
	return m.Sender.ID
}

// SenderName returns a display name suitable for rendering.
func (m ChatMessage) SenderName() string {
	if m.Sender == nil || m.Sender.DisplayName == "" {
		return "unknown user"
	}
	return m.Sender.DisplayName
}

// HasAttachment reports whether the message carries a downloadable file.
func (m ChatMessage) HasAttachment() bool {
	return m.MessageType != MessageTypeText && m.AttachmentFilename != ""
}

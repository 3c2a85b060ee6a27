package util

import (
	"errors"
	"fmt"
)

// ErrorKind classifies chat client failures.
type ErrorKind string

const (
	KindChatUnavailable       ErrorKind = "CHAT_UNAVAILABLE"
	KindAuthenticationMissing ErrorKind = "AUTHENTICATION_MISSING"
	KindTransportError        ErrorKind = "TRANSPORT_ERROR"
	KindProtocolError         ErrorKind = "PROTOCOL_ERROR"
	KindParseError            ErrorKind = "PARSE_ERROR"
	KindHistoryLoadError      ErrorKind = "HISTORY_LOAD_FAILED"
	KindAttachmentRejected    ErrorKind = "ATTACHMENT_REJECTED"
	KindSendFailed            ErrorKind = "SEND_FAILED"
	KindDownloadFailed        ErrorKind = "DOWNLOAD_FAILED"
	KindValidationFailed      ErrorKind = "VALIDATION_FAILED"
)

// ChatError standardizes application errors.
type ChatError struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ChatError) Unwrap() error {
	return e.Err
}

// NewChatError constructs a ChatError.
func NewChatError(kind ErrorKind, message string, details map[string]any) *ChatError {
	return &ChatError{Kind: kind, Message: message, Details: details}
}

func NewChatUnavailable(ticketID string) error {
	return NewChatError(KindChatUnavailable, "no chat provisioned for this ticket", map[string]any{"ticket_id": ticketID})
}

func NewAuthenticationMissing() error {
	return NewChatError(KindAuthenticationMissing, "no bearer credential available", nil)
}

func NewTransportError(err error) error {
	return &ChatError{Kind: KindTransportError, Message: "transport connection failure", Err: err}
}

func NewProtocolError(message string) error {
	if message == "" {
		message = "unknown protocol failure"
	}
	return NewChatError(KindProtocolError, message, nil)
}

func NewParseError(err error) error {
	return &ChatError{Kind: KindParseError, Message: "could not decode delivered message", Err: err}
}

func NewHistoryLoadError(err error) error {
	return &ChatError{Kind: KindHistoryLoadError, Message: "failed to load chat history", Err: err}
}

// NewAttachmentRejected reports a local validation failure. The
// human-readable cause goes in message; a stable reason code is carried in
// Details under "reason".
func NewAttachmentRejected(message, reasonCode string) error {
	return NewChatError(KindAttachmentRejected, message, map[string]any{"reason": reasonCode})
}

func NewSendFailed(message string, err error) error {
	if message == "" {
		message = "failed to send message"
	}
	return &ChatError{Kind: KindSendFailed, Message: message, Err: err}
}

func NewDownloadFailed(status int, err error) error {
	return &ChatError{
		Kind:       KindDownloadFailed,
		Message:    "failed to download attachment",
		HTTPStatus: status,
		Err:        err,
	}
}

func NewValidationError(message string, details map[string]any) error {
	return NewChatError(KindValidationFailed, message, details)
}

// ToChatError converts generic errors to ChatError.
func ToChatError(err error) *ChatError {
	if err == nil {
		return nil
	}
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		return chatErr
	}
	return &ChatError{Kind: KindTransportError, Message: "unexpected failure", Err: err}
}

// KindOf returns the classification for err, or empty for nil/foreign errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		return chatErr.Kind
	}
	return ""
}

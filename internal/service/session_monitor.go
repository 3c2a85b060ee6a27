package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-chat/internal/events"
)

// SessionMonitor logs session lifecycle events for operators. The CLI
// registers it next to its own renderer; it is notification-only.
type SessionMonitor struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewSessionMonitor creates the monitor.
func NewSessionMonitor(dispatcher events.Dispatcher, logger *zap.Logger) *SessionMonitor {
	return &SessionMonitor{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to session events.
func (m *SessionMonitor) RegisterHandlers() {
	if m.dispatcher == nil {
		return
	}
	m.dispatcher.Subscribe(events.EventSessionStateChanged, m.handleStateChanged)
	m.dispatcher.Subscribe(events.EventMessageReceived, m.handleMessageReceived)
	m.dispatcher.Subscribe(events.EventHistoryLoaded, m.handleHistoryLoaded)
	m.dispatcher.Subscribe(events.EventSessionError, m.handleSessionError)
}

func (m *SessionMonitor) handleStateChanged(ctx context.Context, event events.Event) {
	m.logger.Info("SessionStateChanged", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
}

func (m *SessionMonitor) handleMessageReceived(ctx context.Context, event events.Event) {
	m.logger.Debug("MessageReceived", zap.String("ticket_id", event.TicketID), zap.String("chat_id", event.ChatID))
}

func (m *SessionMonitor) handleHistoryLoaded(ctx context.Context, event events.Event) {
	m.logger.Info("HistoryLoaded", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
}

func (m *SessionMonitor) handleSessionError(ctx context.Context, event events.Event) {
	m.logger.Warn("SessionError", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
}

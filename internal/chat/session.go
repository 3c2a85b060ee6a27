package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-chat/internal/domain"
	"github.com/spec-kit/ticket-chat/internal/events"
	"github.com/spec-kit/ticket-chat/internal/gateway"
	"github.com/spec-kit/ticket-chat/internal/identity"
	"github.com/spec-kit/ticket-chat/pkg/util"
)

// Subscription is the opaque handle for a live topic subscription.
type Subscription interface {
	Unsubscribe()
}

// Transport abstracts the live broker connection. Implementations own the
// reconnect schedule; the session only reflects the resulting transitions.
type Transport interface {
	Activate()
	Deactivate()
	Subscribe(destination, id string, handler func(body []byte)) (Subscription, error)
}

// TransportHooks carries the session's lifecycle handlers into a transport.
type TransportHooks struct {
	OnConnect        func()
	OnDisconnect     func(err error)
	OnTransportError func(err error)
	OnProtocolError  func(message string)
}

// TransportFactory builds a transport bound to the given hooks and
// credential. A fresh transport is built per Open.
type TransportFactory func(hooks TransportHooks, cred identity.Credential) Transport

// HistoryLoader fetches the persisted conversation page.
type HistoryLoader interface {
	History(ctx context.Context, cred identity.Credential, ticketID string) ([]domain.ChatMessage, error)
}

// Sender submits outbound messages over HTTP multipart.
type Sender interface {
	Send(ctx context.Context, cred identity.Credential, ticketID, content string, att *gateway.PendingAttachment) error
}

// sessionEvent drives the connection state reducer.
type sessionEvent string

const (
	evOpen           sessionEvent = "open_requested"
	evConnected      sessionEvent = "transport_connected"
	evDisconnected   sessionEvent = "transport_disconnected"
	evTransportError sessionEvent = "transport_error"
	evProtocolError  sessionEvent = "protocol_error"
	evClosed         sessionEvent = "closed"
)

// transition is the single reducer for session connection state. Every
// state mutation flows through here.
func transition(cur domain.ConnectionState, ev sessionEvent) domain.ConnectionState {
	switch ev {
	case evOpen:
		if cur == domain.StateIdle {
			return domain.StateConnecting
		}
		return cur
	case evConnected:
		if cur == domain.StateConnecting || cur == domain.StateDisconnected {
			return domain.StateConnected
		}
		return cur
	case evDisconnected:
		if cur == domain.StateConnected {
			return domain.StateDisconnected
		}
		return cur
	case evTransportError:
		// While Connecting the transport keeps retrying on its own; only an
		// established connection degrades to Disconnected.
		if cur == domain.StateConnected {
			return domain.StateDisconnected
		}
		return cur
	case evProtocolError:
		return domain.StateErrored
	case evClosed:
		return domain.StateIdle
	default:
		return cur
	}
}

// SessionDependencies bundles collaborators for the session controller.
type SessionDependencies struct {
	Factory     TransportFactory
	History     HistoryLoader
	Sender      Sender
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	TopicPrefix string
}

// SessionController owns the lifecycle of one ticket chat session: exactly
// one transport connection and one topic subscription at a time.
type SessionController struct {
	factory     TransportFactory
	history     HistoryLoader
	sender      Sender
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	topicPrefix string

	mu        sync.Mutex
	state     domain.ConnectionState
	ticketID  string
	chatID    string
	cred      identity.Credential
	transport Transport
	sub       Subscription
	epoch     int
	store     *MessageStore
}

// NewSessionController constructs a controller in the Idle state.
func NewSessionController(deps SessionDependencies) *SessionController {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := deps.TopicPrefix
	if prefix == "" {
		prefix = "/ticket/chat/"
	}
	return &SessionController{
		factory:     deps.Factory,
		history:     deps.History,
		sender:      deps.Sender,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		topicPrefix: prefix,
		state:       domain.StateIdle,
		store:       NewMessageStore(),
	}
}

// Open starts a session for the ticket's conversation. It is idempotent
// while a session for the same chatID is connecting or connected. A missing
// chatID surfaces ChatUnavailable and a missing credential
// AuthenticationMissing; neither attempts to connect.
func (s *SessionController) Open(ticketID, chatID string, cred identity.Credential) error {
	var replaced Transport
	s.mu.Lock()
	if s.state.Live() {
		if s.chatID == chatID {
			s.mu.Unlock()
			return nil
		}
		// Conversation changed under a live session: tear down first.
		replaced = s.teardownLocked()
		s.state = transition(s.state, evClosed)
	}
	if s.state == domain.StateErrored {
		// Errored is terminal for the old session; a fresh Open starts over.
		s.state = transition(s.state, evClosed)
	}

	if chatID == "" {
		s.mu.Unlock()
		if replaced != nil {
			replaced.Deactivate()
		}
		return util.NewChatUnavailable(ticketID)
	}
	if cred.Empty() {
		s.mu.Unlock()
		if replaced != nil {
			replaced.Deactivate()
		}
		return util.NewAuthenticationMissing()
	}

	s.ticketID = ticketID
	s.chatID = chatID
	s.cred = cred
	s.epoch++
	epoch := s.epoch

	hooks := TransportHooks{
		OnConnect:        func() { s.handleConnect(epoch) },
		OnDisconnect:     func(err error) { s.handleDisconnect(epoch, err) },
		OnTransportError: func(err error) { s.handleTransportError(epoch, err) },
		OnProtocolError:  func(msg string) { s.handleProtocolError(epoch, msg) },
	}
	t := s.factory(hooks, cred)
	s.transport = t

	old := s.state
	s.state = transition(s.state, evOpen)
	newState := s.state
	s.mu.Unlock()

	if replaced != nil {
		replaced.Deactivate()
	}
	s.publishStateChange(old, newState, "open")
	t.Activate()
	return nil
}

// Close tears the session down deterministically: subscription cancelled,
// transport deactivated, session-local state cleared. Safe to call
// repeatedly and from any state, including a session that never left Idle.
func (s *SessionController) Close() {
	s.mu.Lock()
	old := s.state
	t := s.teardownLocked()
	s.state = transition(s.state, evClosed)
	newState := s.state
	s.mu.Unlock()

	if t != nil {
		t.Deactivate()
	}
	if old != newState {
		s.publishStateChange(old, newState, "closed")
	}
}

// teardownLocked cancels the subscription, clears the message store and
// detaches the transport, bumping the epoch so in-flight callbacks and
// history results are discarded. Caller holds s.mu; the returned transport
// must be deactivated outside the lock.
func (s *SessionController) teardownLocked() Transport {
	s.epoch++
	s.store.Reset()
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	t := s.transport
	s.transport = nil
	return t
}

// State returns the current connection state.
func (s *SessionController) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info describes the bound conversation.
func (s *SessionController) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionInfo{TicketID: s.ticketID, ChatID: s.chatID, CurrentUserID: s.cred.UserID}
}

// Messages returns a snapshot of the session's message sequence.
func (s *SessionController) Messages() []domain.ChatMessage {
	return s.store.Snapshot()
}

// Store exposes the session's message store.
func (s *SessionController) Store() *MessageStore {
	return s.store
}

// Send submits a message for the session's ticket. Sends are refused
// unless the session is connected; the echo of a successful send arrives
// via the live subscription, never by optimistic insertion.
func (s *SessionController) Send(ctx context.Context, content string, att *gateway.PendingAttachment) error {
	s.mu.Lock()
	state := s.state
	ticketID := s.ticketID
	cred := s.cred
	s.mu.Unlock()

	if state != domain.StateConnected {
		return util.NewSendFailed("chat is not connected", nil)
	}
	return s.sender.Send(ctx, cred, ticketID, content, att)
}

// RetryHistory re-runs the history load, e.g. after a HistoryLoadError.
func (s *SessionController) RetryHistory() {
	s.mu.Lock()
	epoch := s.epoch
	live := s.state.Live()
	s.mu.Unlock()
	if live {
		go s.loadHistory(epoch)
	}
}

func (s *SessionController) handleConnect(epoch int) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}

	// At most one live subscription: cancel a leftover handle before
	// re-subscribing after a reconnect.
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}

	topic := s.topicPrefix + s.chatID
	subID := "sub-chat-" + s.chatID
	sub, err := s.transport.Subscribe(topic, subID, func(body []byte) { s.handleDelivery(epoch, body) })
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("topic subscription failed", zap.String("topic", topic), zap.Error(err))
		s.reportError(util.NewTransportError(err))
		return
	}
	s.sub = sub

	old := s.state
	s.state = transition(s.state, evConnected)
	newState := s.state
	s.mu.Unlock()

	if old != newState {
		s.publishStateChange(old, newState, "connected")
	}
	// History load starts from the connect hook, not eagerly, so it cannot
	// race subscription setup.
	go s.loadHistory(epoch)
}

func (s *SessionController) handleDisconnect(epoch int, err error) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.sub = nil
	old := s.state
	s.state = transition(s.state, evDisconnected)
	newState := s.state
	s.mu.Unlock()

	s.logger.Warn("chat disconnected, transport will reconnect", zap.Error(err))
	if old != newState {
		s.publishStateChange(old, newState, "disconnected")
	}
}

func (s *SessionController) handleTransportError(epoch int, err error) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	old := s.state
	s.state = transition(s.state, evTransportError)
	newState := s.state
	s.mu.Unlock()

	if old != newState {
		s.publishStateChange(old, newState, "transport_error")
	}
	s.reportError(util.NewTransportError(err))
}

func (s *SessionController) handleProtocolError(epoch int, message string) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	old := s.state
	t := s.teardownLocked()
	s.state = transition(s.state, evProtocolError)
	newState := s.state
	s.mu.Unlock()

	if t != nil {
		t.Deactivate()
	}
	if old != newState {
		s.publishStateChange(old, newState, "protocol_error")
	}
	s.reportError(util.NewProtocolError(message))
}

// handleDelivery decodes one live payload and merges it. A payload that
// cannot be decoded is dropped and reported; the session continues.
func (s *SessionController) handleDelivery(epoch int, body []byte) {
	s.mu.Lock()
	stale := epoch != s.epoch
	s.mu.Unlock()
	if stale {
		return
	}

	var msg domain.ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		s.logger.Warn("dropping undecodable message", zap.Error(err))
		s.reportError(util.NewParseError(err))
		return
	}
	if !msg.Valid() {
		s.logger.Warn("dropping malformed message", zap.String("id", msg.ID))
		s.reportError(util.NewParseError(errMissingFields))
		return
	}

	// Re-check the epoch under the lock: a Close racing the decode must not
	// land this message in a store that was just cleared.
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	merged := s.store.Merge(msg)
	s.mu.Unlock()

	if merged {
		s.publish(events.EventMessageReceived, events.MessageReceivedPayload{Message: msg})
	}
}

func (s *SessionController) loadHistory(epoch int) {
	s.mu.Lock()
	ticketID := s.ticketID
	cred := s.cred
	s.mu.Unlock()

	msgs, err := s.history.History(context.Background(), cred, ticketID)

	s.mu.Lock()
	stale := epoch != s.epoch
	s.mu.Unlock()
	if stale {
		// Session was torn down while the fetch was in flight; discard.
		return
	}

	if err != nil {
		s.logger.Error("history load failed", zap.String("ticket_id", ticketID), zap.Error(err))
		s.reportError(util.NewHistoryLoadError(err))
		return
	}

	s.store.LoadHistory(msgs)
	s.publish(events.EventHistoryLoaded, events.HistoryLoadedPayload{Count: len(msgs)})
}

func (s *SessionController) publishStateChange(old, newState domain.ConnectionState, reason string) {
	s.publish(events.EventSessionStateChanged, events.SessionStateChangedPayload{
		OldState: old,
		NewState: newState,
		Reason:   reason,
	})
}

func (s *SessionController) reportError(err error) {
	chatErr := util.ToChatError(err)
	s.publish(events.EventSessionError, events.SessionErrorPayload{
		Kind:    chatErr.Kind,
		Message: chatErr.Error(),
	})
}

func (s *SessionController) publish(eventType events.EventType, payload any) {
	if s.dispatcher == nil {
		return
	}
	s.mu.Lock()
	ticketID := s.ticketID
	chatID := s.chatID
	s.mu.Unlock()

	s.dispatcher.Publish(context.Background(), events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		ChatID:    chatID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

var errMissingFields = errors.New("message missing id or timestamp")

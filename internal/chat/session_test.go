package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/ticket-chat/internal/domain"
	"github.com/spec-kit/ticket-chat/internal/events"
	"github.com/spec-kit/ticket-chat/internal/gateway"
	"github.com/spec-kit/ticket-chat/internal/identity"
	"github.com/spec-kit/ticket-chat/pkg/util"
)

type fakeSubscription struct {
	id string
	ft *fakeTransport
}

func (s *fakeSubscription) Unsubscribe() {
	s.ft.mu.Lock()
	defer s.ft.mu.Unlock()
	delete(s.ft.active, s.id)
}

// fakeTransport records lifecycle calls and lets tests drive the hooks.
type fakeTransport struct {
	mu          sync.Mutex
	hooks       TransportHooks
	activated   int
	deactivated int
	active      map[string]struct{}
	handler     func(body []byte)
}

func (f *fakeTransport) Activate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated++
}

func (f *fakeTransport) Deactivate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated++
}

func (f *fakeTransport) Subscribe(destination, id string, handler func(body []byte)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		f.active = make(map[string]struct{})
	}
	f.active[id] = struct{}{}
	f.handler = handler
	return &fakeSubscription{id: id, ft: f}, nil
}

func (f *fakeTransport) connect() { f.hooks.OnConnect() }

// disconnect simulates a dropped connection; broker-side subscriptions die
// with it.
func (f *fakeTransport) disconnect(err error) {
	f.mu.Lock()
	f.active = nil
	f.mu.Unlock()
	f.hooks.OnDisconnect(err)
}

func (f *fakeTransport) protocolError(m string) {
	f.hooks.OnProtocolError(m)
}

func (f *fakeTransport) liveSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func (f *fakeTransport) deliver(body []byte) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	handler(body)
}

type fakeHistory struct {
	mu      sync.Mutex
	msgs    []domain.ChatMessage
	err     error
	release chan struct{}
	calls   int
}

func (f *fakeHistory) History(ctx context.Context, cred identity.Credential, ticketID string) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return f.msgs, f.err
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSender) Send(ctx context.Context, cred identity.Credential, ticketID, content string, att *gateway.PendingAttachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type sessionFixture struct {
	session    *SessionController
	transport  *fakeTransport
	history    *fakeHistory
	sender     *fakeSender
	dispatcher events.Dispatcher
	errs       chan events.SessionErrorPayload
	loaded     chan events.HistoryLoadedPayload
	received   chan events.MessageReceivedPayload
}

func newFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		transport:  &fakeTransport{},
		history:    &fakeHistory{},
		sender:     &fakeSender{},
		dispatcher: events.NewInMemoryDispatcher(),
		errs:       make(chan events.SessionErrorPayload, 16),
		loaded:     make(chan events.HistoryLoadedPayload, 16),
		received:   make(chan events.MessageReceivedPayload, 16),
	}
	f.dispatcher.Subscribe(events.EventSessionError, func(_ context.Context, e events.Event) {
		f.errs <- e.Payload.(events.SessionErrorPayload)
	})
	f.dispatcher.Subscribe(events.EventHistoryLoaded, func(_ context.Context, e events.Event) {
		f.loaded <- e.Payload.(events.HistoryLoadedPayload)
	})
	f.dispatcher.Subscribe(events.EventMessageReceived, func(_ context.Context, e events.Event) {
		f.received <- e.Payload.(events.MessageReceivedPayload)
	})

	f.session = NewSessionController(SessionDependencies{
		Factory: func(hooks TransportHooks, cred identity.Credential) Transport {
			f.transport.hooks = hooks
			return f.transport
		},
		History:    f.history,
		Sender:     f.sender,
		Dispatcher: f.dispatcher,
	})
	return f
}

func cred() identity.Credential {
	return identity.Credential{Token: "token", UserID: "user-1"}
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		panic("unreachable")
	}
}

func TestOpenWithoutChatIDSurfacesChatUnavailable(t *testing.T) {
	f := newFixture(t)

	err := f.session.Open("t-1", "", cred())
	if util.KindOf(err) != util.KindChatUnavailable {
		t.Fatalf("got %v, want ChatUnavailable", err)
	}
	if got := f.session.State(); got != domain.StateIdle {
		t.Fatalf("state = %s, want Idle", got)
	}
	if f.transport.activated != 0 {
		t.Fatal("transport must not be activated without a chat id")
	}
}

func TestOpenWithoutCredentialNeverConnects(t *testing.T) {
	f := newFixture(t)

	err := f.session.Open("t-1", "c-1", identity.Credential{})
	if util.KindOf(err) != util.KindAuthenticationMissing {
		t.Fatalf("got %v, want AuthenticationMissing", err)
	}
	if f.transport.activated != 0 {
		t.Fatal("transport must not be activated without a credential")
	}
}

func TestOpenIsIdempotentWhileLive(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("second open: %v", err)
	}
	if f.transport.activated != 1 {
		t.Fatalf("transport activated %d times, want 1", f.transport.activated)
	}

	f.transport.connect()
	waitFor(t, f.loaded)
	if got := f.transport.liveSubscriptions(); got != 1 {
		t.Fatalf("live subscriptions = %d, want 1", got)
	}
}

func TestCloseFromIdleIsSafe(t *testing.T) {
	f := newFixture(t)

	f.session.Close()
	f.session.Close()
	if got := f.session.State(); got != domain.StateIdle {
		t.Fatalf("state = %s, want Idle", got)
	}
	if f.transport.liveSubscriptions() != 0 {
		t.Fatal("no subscription may survive close")
	}
}

func TestConnectSubscribesAndLoadsHistory(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	f.history.msgs = []domain.ChatMessage{msgAt("1", base)}

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := f.session.State(); got != domain.StateConnecting {
		t.Fatalf("state = %s, want Connecting", got)
	}
	if f.history.calls != 0 {
		t.Fatal("history must not load before the connect hook fires")
	}

	f.transport.connect()
	if got := f.session.State(); got != domain.StateConnected {
		t.Fatalf("state = %s, want Connected", got)
	}
	waitFor(t, f.loaded)
	assertOrder(t, f.session.Store(), []string{"1"})
}

func TestReconnectCancelsPriorSubscription(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.transport.connect()
	waitFor(t, f.loaded)

	f.transport.disconnect(errMissingFields)
	if got := f.session.State(); got != domain.StateDisconnected {
		t.Fatalf("state = %s, want Disconnected", got)
	}

	f.transport.connect()
	waitFor(t, f.loaded)
	if got := f.session.State(); got != domain.StateConnected {
		t.Fatalf("state = %s, want Connected after reconnect", got)
	}
	if got := f.transport.liveSubscriptions(); got != 1 {
		t.Fatalf("live subscriptions = %d, want exactly 1", got)
	}
}

func TestDeliveryMergesIntoStore(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.transport.connect()
	waitFor(t, f.loaded)

	msg := msgAt("1", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	body, _ := json.Marshal(msg)
	f.transport.deliver(body)

	waitFor(t, f.received)
	assertOrder(t, f.session.Store(), []string{"1"})

	// duplicate delivery is absorbed silently
	f.transport.deliver(body)
	assertOrder(t, f.session.Store(), []string{"1"})
}

func TestUndecodablePayloadIsDroppedAndReported(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.transport.connect()
	waitFor(t, f.loaded)

	f.transport.deliver([]byte("{not json"))
	errPayload := waitFor(t, f.errs)
	if errPayload.Kind != util.KindParseError {
		t.Fatalf("kind = %s, want ParseError", errPayload.Kind)
	}
	if f.session.Store().Len() != 0 {
		t.Fatal("malformed payload must not be stored")
	}
	if got := f.session.State(); got != domain.StateConnected {
		t.Fatalf("state = %s, session must survive a parse error", got)
	}
}

func TestProtocolErrorIsFatal(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.transport.connect()
	waitFor(t, f.loaded)

	f.transport.protocolError("broker rejected subscription")
	errPayload := waitFor(t, f.errs)
	if errPayload.Kind != util.KindProtocolError {
		t.Fatalf("kind = %s, want ProtocolError", errPayload.Kind)
	}
	if got := f.session.State(); got != domain.StateErrored {
		t.Fatalf("state = %s, want Errored", got)
	}
	if f.transport.deactivated == 0 {
		t.Fatal("transport must be deactivated on protocol error")
	}
}

func TestHistoryErrorDoesNotBlockLiveDelivery(t *testing.T) {
	f := newFixture(t)
	f.history.err = util.NewHistoryLoadError(errMissingFields)

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.transport.connect()

	errPayload := waitFor(t, f.errs)
	if errPayload.Kind != util.KindHistoryLoadError {
		t.Fatalf("kind = %s, want HistoryLoadError", errPayload.Kind)
	}

	msg := msgAt("1", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	body, _ := json.Marshal(msg)
	f.transport.deliver(body)
	waitFor(t, f.received)
	assertOrder(t, f.session.Store(), []string{"1"})
}

func TestStaleHistoryResultIsDiscardedAfterClose(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	f.history.msgs = []domain.ChatMessage{msgAt("1", base)}
	f.history.release = make(chan struct{})

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.transport.connect()

	f.session.Close()
	close(f.history.release)

	// give the in-flight goroutine a moment to observe the stale epoch
	time.Sleep(50 * time.Millisecond)
	if f.session.Store().Len() != 0 {
		t.Fatal("history resolving after teardown must be discarded")
	}
	select {
	case p := <-f.loaded:
		t.Fatalf("unexpected history-loaded event after close: %+v", p)
	default:
	}
}

func TestSendRefusedUnlessConnected(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	err := f.session.Send(context.Background(), "hello", nil)
	if util.KindOf(err) != util.KindSendFailed {
		t.Fatalf("got %v, want SendFailed while connecting", err)
	}
	if f.sender.calls != 0 {
		t.Fatal("sender must not be reached before connect")
	}

	f.transport.connect()
	waitFor(t, f.loaded)
	if err := f.session.Send(context.Background(), "hello", nil); err != nil {
		t.Fatalf("send while connected: %v", err)
	}
	if f.sender.calls != 1 {
		t.Fatalf("sender calls = %d, want 1", f.sender.calls)
	}
}

func TestSwitchingConversationsClearsMessages(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.transport.connect()
	waitFor(t, f.loaded)

	body, _ := json.Marshal(msgAt("old-1", base))
	f.transport.deliver(body)
	waitFor(t, f.received)
	assertOrder(t, f.session.Store(), []string{"old-1"})

	// switch to another ticket's conversation under the live session
	f.history.msgs = []domain.ChatMessage{msgAt("b-1", base.Add(time.Hour))}
	if err := f.session.Open("t-2", "c-2", cred()); err != nil {
		t.Fatalf("re-open: %v", err)
	}
	if f.transport.deactivated == 0 {
		t.Fatal("replaced transport must be deactivated")
	}

	f.transport.connect()
	waitFor(t, f.loaded)
	assertOrder(t, f.session.Store(), []string{"b-1"})
	if got := f.transport.liveSubscriptions(); got != 1 {
		t.Fatalf("live subscriptions = %d, want 1", got)
	}
}

func TestReopenAfterProtocolErrorStartsFresh(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.transport.connect()
	waitFor(t, f.loaded)

	f.transport.protocolError("broker rejected subscription")
	waitFor(t, f.errs)
	if got := f.session.State(); got != domain.StateErrored {
		t.Fatalf("state = %s, want Errored", got)
	}

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("re-open after error: %v", err)
	}
	if got := f.session.State(); got != domain.StateConnecting {
		t.Fatalf("state = %s, want Connecting after re-open", got)
	}

	f.transport.connect()
	waitFor(t, f.loaded)
	if got := f.session.State(); got != domain.StateConnected {
		t.Fatalf("state = %s, want Connected", got)
	}
	if err := f.session.Send(context.Background(), "back again", nil); err != nil {
		t.Fatalf("send after recovery: %v", err)
	}
}

func TestDeliveryAfterCloseIsDiscarded(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := f.session.Open("t-1", "c-1", cred()); err != nil {
		t.Fatalf("open: %v", err)
	}
	f.transport.connect()
	waitFor(t, f.loaded)

	body, _ := json.Marshal(msgAt("1", base))
	f.transport.deliver(body)
	waitFor(t, f.received)

	f.session.Close()
	if got := f.session.Store().Len(); got != 0 {
		t.Fatalf("store has %d messages after close, want 0", got)
	}

	// the old handler firing after teardown must not resurrect anything
	late, _ := json.Marshal(msgAt("2", base.Add(time.Minute)))
	f.transport.deliver(late)
	if got := f.session.Store().Len(); got != 0 {
		t.Fatalf("store has %d messages, delivery after close must be dropped", got)
	}
	select {
	case p := <-f.received:
		t.Fatalf("unexpected message event after close: %+v", p.Message)
	default:
	}
}

func TestTransitionReducer(t *testing.T) {
	cases := []struct {
		name string
		cur  domain.ConnectionState
		ev   sessionEvent
		want domain.ConnectionState
	}{
		{"open from idle", domain.StateIdle, evOpen, domain.StateConnecting},
		{"open while connected", domain.StateConnected, evOpen, domain.StateConnected},
		{"connected from connecting", domain.StateConnecting, evConnected, domain.StateConnected},
		{"reconnected from disconnected", domain.StateDisconnected, evConnected, domain.StateConnected},
		{"drop from connected", domain.StateConnected, evDisconnected, domain.StateDisconnected},
		{"drop while connecting keeps retrying", domain.StateConnecting, evDisconnected, domain.StateConnecting},
		{"transport error while connecting", domain.StateConnecting, evTransportError, domain.StateConnecting},
		{"protocol error is terminal", domain.StateConnected, evProtocolError, domain.StateErrored},
		{"close resets", domain.StateErrored, evClosed, domain.StateIdle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := transition(tc.cur, tc.ev); got != tc.want {
				t.Fatalf("transition(%s, %s) = %s, want %s", tc.cur, tc.ev, got, tc.want)
			}
		})
	}
}

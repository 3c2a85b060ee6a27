package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-chat/internal/observability"
)

// MessageHandler receives the body and headers of one MESSAGE frame.
type MessageHandler func(body []byte, headers map[string]string)

// Hooks are the lifecycle callbacks surfaced to the session layer. All are
// optional and invoked from the transport's own goroutine.
type Hooks struct {
	OnConnect        func()
	OnDisconnect     func(err error)
	OnTransportError func(err error)
	OnProtocolError  func(message string)
}

// Options configures the transport client. ReconnectDelay is a fixed delay
// between attempts; the retry schedule is owned here, not by the session.
type Options struct {
	URL              string
	Token            string
	ReconnectDelay   time.Duration
	Heartbeat        time.Duration
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
	Metrics          *observability.Metrics
}

type subscription struct {
	id          string
	destination string
	handler     MessageHandler
}

// Client is a STOMP 1.2 client over a single WebSocket connection. While
// active it keeps redialing after connection loss; a server ERROR frame is
// fatal and deactivates the client.
type Client struct {
	opts  Options
	hooks Hooks

	mu        sync.Mutex
	conn      *websocket.Conn
	subs      map[string]*subscription
	active    bool
	connected bool
	stop      chan struct{}

	writeMu sync.Mutex
}

// Subscription is the opaque handle for one topic subscription.
type Subscription struct {
	id     string
	client *Client
}

// ID returns the subscription identifier sent to the broker.
func (s *Subscription) ID() string { return s.id }

// Unsubscribe cancels the subscription. Safe to call after disconnect; the
// UNSUBSCRIBE frame is only sent while a connection is up.
func (s *Subscription) Unsubscribe() {
	c := s.client
	c.mu.Lock()
	delete(c.subs, s.id)
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if connected && conn != nil {
		_ = c.writeFrame(conn, NewFrame(CmdUnsubscribe, "id", s.id))
	}
}

// NewClient builds a client; it does not connect until Activate.
func NewClient(opts Options, hooks Hooks) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		opts:  opts,
		hooks: hooks,
		subs:  make(map[string]*subscription),
	}
}

// Activate starts the connect/read loop. Calling while already active is a
// no-op.
func (c *Client) Activate() {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	go c.run(stop)
}

// Deactivate tears the connection down and stops reconnecting. Safe to call
// repeatedly and from any state; no disconnect callback fires for an
// intentional teardown.
func (c *Client) Deactivate() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.connected = false
	close(c.stop)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = c.writeFrame(conn, NewFrame(CmdDisconnect))
		_ = conn.Close()
	}
}

// Active reports whether the client is running (connected or retrying).
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Connected reports whether a broker handshake is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe registers a handler for a destination and sends the SUBSCRIBE
// frame. It fails when no connection is established.
func (c *Client) Subscribe(destination, id string, handler MessageHandler) (*Subscription, error) {
	if destination == "" {
		return nil, errors.New("destination required")
	}

	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return nil, errors.New("transport not connected")
	}
	conn := c.conn
	c.subs[id] = &subscription{id: id, destination: destination, handler: handler}
	c.mu.Unlock()

	frame := NewFrame(CmdSubscribe, "id", id, "destination", destination, "ack", "auto")
	if err := c.writeFrame(conn, frame); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, err
	}
	return &Subscription{id: id, client: c}, nil
}

func (c *Client) run(stop chan struct{}) {
	for {
		if stopped(stop) {
			return
		}

		conn, err := c.dial()
		if err != nil {
			c.opts.Metrics.RecordTransportEvent("dial_error")
			c.opts.Logger.Warn("transport dial failed", zap.Error(err))
			if c.hooks.OnTransportError != nil {
				c.hooks.OnTransportError(err)
			}
			if !c.sleep(stop) {
				return
			}
			continue
		}

		fatal := c.session(conn, stop)
		if fatal || stopped(stop) {
			return
		}
		c.opts.Metrics.RecordTransportEvent("reconnect")
		if !c.sleep(stop) {
			return
		}
	}
}

// session performs the STOMP handshake and runs the read loop for one
// connection. It returns true when the failure is fatal (ERROR frame).
func (c *Client) session(conn *websocket.Conn, stop chan struct{}) bool {
	if err := c.handshake(conn); err != nil {
		var protoErr *protocolError
		if errors.As(err, &protoErr) {
			c.fatal(conn, protoErr.message)
			return true
		}
		_ = conn.Close()
		if stopped(stop) {
			return false
		}
		c.opts.Logger.Warn("transport handshake failed", zap.Error(err))
		if c.hooks.OnTransportError != nil {
			c.hooks.OnTransportError(err)
		}
		return false
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.opts.Metrics.RecordTransportEvent("connected")

	connDone := make(chan struct{})
	defer close(connDone)
	if c.opts.Heartbeat > 0 {
		go c.heartbeatLoop(conn, connDone)
	}

	if c.hooks.OnConnect != nil {
		c.hooks.OnConnect()
	}

	for {
		if c.opts.Heartbeat > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2*c.opts.Heartbeat + time.Second))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropConnection(conn)
			if stopped(stop) {
				return false
			}
			c.opts.Metrics.RecordTransportEvent("disconnected")
			if c.hooks.OnDisconnect != nil {
				c.hooks.OnDisconnect(err)
			}
			return false
		}

		frame, err := ParseFrame(data)
		if err != nil {
			c.opts.Logger.Warn("discarding unparseable frame", zap.Error(err))
			continue
		}
		if frame == nil {
			continue // heartbeat
		}

		switch frame.Command {
		case CmdMessage:
			c.opts.Metrics.RecordTransportEvent("message_frame")
			c.dispatch(frame)
		case CmdError:
			msg := frame.Headers["message"]
			if msg == "" {
				msg = strings.TrimSpace(string(frame.Body))
			}
			c.fatal(conn, msg)
			return true
		case CmdReceipt:
			// receipts are not correlated; sends go over HTTP
		default:
			c.opts.Logger.Debug("ignoring frame", zap.String("command", frame.Command))
		}
	}
}

func (c *Client) dispatch(frame *Frame) {
	subID := frame.Headers["subscription"]
	c.mu.Lock()
	sub := c.subs[subID]
	c.mu.Unlock()
	if sub == nil {
		c.opts.Logger.Debug("message for unknown subscription", zap.String("subscription", subID))
		return
	}
	sub.handler(frame.Body, frame.Headers)
}

// fatal handles a broker ERROR frame: the client stops entirely and the
// protocol error hook fires.
func (c *Client) fatal(conn *websocket.Conn, message string) {
	c.opts.Metrics.RecordTransportEvent("protocol_error")
	c.opts.Logger.Error("broker error frame", zap.String("message", message))

	c.mu.Lock()
	wasActive := c.active
	c.active = false
	c.connected = false
	c.conn = nil
	if wasActive {
		close(c.stop)
	}
	c.mu.Unlock()

	_ = conn.Close()
	if c.hooks.OnProtocolError != nil {
		c.hooks.OnProtocolError(message)
	}
}

func (c *Client) dropConnection(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()
	_ = conn.Close()
}

type protocolError struct {
	message string
}

func (e *protocolError) Error() string {
	return "broker rejected connection: " + e.message
}

func (c *Client) handshake(conn *websocket.Conn) error {
	headers := []string{
		"accept-version", "1.2",
		"host", hostOf(c.opts.URL),
	}
	if c.opts.Heartbeat > 0 {
		hb := fmt.Sprintf("%d,%d", c.opts.Heartbeat.Milliseconds(), c.opts.Heartbeat.Milliseconds())
		headers = append(headers, "heart-beat", hb)
	}
	if c.opts.Token != "" {
		headers = append(headers, "Authorization", "Bearer "+c.opts.Token)
	}
	if err := c.writeFrame(conn, NewFrame(CmdConnect, headers...)); err != nil {
		return err
	}

	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		frame, err := ParseFrame(data)
		if err != nil {
			return err
		}
		if frame == nil {
			continue
		}
		switch frame.Command {
		case CmdConnected:
			_ = conn.SetReadDeadline(time.Time{})
			return nil
		case CmdError:
			msg := frame.Headers["message"]
			if msg == "" {
				msg = strings.TrimSpace(string(frame.Body))
			}
			return &protocolError{message: msg}
		default:
			return fmt.Errorf("unexpected frame %s during handshake", frame.Command)
		}
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, Heartbeat)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := dialer.Dial(c.opts.URL, header)
	if err != nil && resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (c *Client) writeFrame(conn *websocket.Conn, frame *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame.Marshal())
}

// sleep waits one reconnect delay; false means the client was deactivated.
func (c *Client) sleep(stop chan struct{}) bool {
	select {
	case <-stop:
		return false
	case <-time.After(c.opts.ReconnectDelay):
		return true
	}
}

func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}

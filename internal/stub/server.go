// Package stub emulates the chat collaborators (history, send, download,
// live topic) in memory. It backs local development via `chatctl stub` and
// the integration tests; it is not a production broker.
package stub

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-chat/internal/domain"
	"github.com/spec-kit/ticket-chat/internal/identity"
	"github.com/spec-kit/ticket-chat/internal/transport"
)

const topicPrefix = "/ticket/chat/"

type storedAttachment struct {
	name        string
	contentType string
	data        []byte
}

type stompConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *stompConn) writeFrame(f *transport.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, f.Marshal())
}

// Server is the in-memory collaborator emulator.
type Server struct {
	logger   *zap.Logger
	token    string
	upgrader websocket.Upgrader

	mu          sync.Mutex
	chats       map[string]string // ticketID -> chatID
	messages    map[string][]domain.ChatMessage
	attachments map[string]storedAttachment
	subscribers map[string]map[*stompConn]string // destination -> conn -> sub id
}

// NewServer creates an emulator accepting the given bearer token.
func NewServer(token string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:      logger,
		token:       token,
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		chats:       make(map[string]string),
		messages:    make(map[string][]domain.ChatMessage),
		attachments: make(map[string]storedAttachment),
		subscribers: make(map[string]map[*stompConn]string),
	}
}

// Provision binds a ticket to a chat identifier.
func (s *Server) Provision(ticketID, chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[ticketID] = chatID
}

// Seed preloads history for a ticket.
func (s *Server) Seed(ticketID string, msgs ...domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[ticketID] = append(s.messages[ticketID], msgs...)
}

// StoreAttachment registers downloadable bytes and returns the locator.
func (s *Server) StoreAttachment(name, contentType string, data []byte) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[id] = storedAttachment{name: name, contentType: contentType, data: data}
	return "/api/attachments/" + id
}

// Broadcast publishes a message on the ticket's topic without recording it
// in history; tests use it to simulate replay and malformed deliveries.
func (s *Server) Broadcast(chatID string, body []byte) {
	s.deliver(topicPrefix+chatID, body)
}

// Handler returns the emulator's HTTP surface.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/tickets/{ticketId}/chat/messages", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/tickets/{ticketId}/chat/messages", s.handlePost).Methods(http.MethodPost)
	r.HandleFunc("/api/attachments/{id}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)
	return r
}

// authorize returns 0 when the bearer token is acceptable, otherwise the
// HTTP status to reply with.
func (s *Server) authorize(r *http.Request) int {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return http.StatusUnauthorized
	}
	if s.token != "" && strings.TrimPrefix(header, "Bearer ") != s.token {
		return http.StatusForbidden
	}
	return 0
}

type historyPage struct {
	Content []domain.ChatMessage `json:"content"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if status := s.authorize(r); status != 0 {
		http.Error(w, "access denied", status)
		return
	}
	ticketID := mux.Vars(r)["ticketId"]

	s.mu.Lock()
	msgs := append([]domain.ChatMessage{}, s.messages[ticketID]...)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(historyPage{Content: msgs})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if status := s.authorize(r); status != 0 {
		http.Error(w, "access denied", status)
		return
	}
	ticketID := mux.Vars(r)["ticketId"]

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		http.Error(w, "malformed multipart body", http.StatusBadRequest)
		return
	}

	var payload struct {
		Content string `json:"content"`
	}
	part, _, err := r.FormFile("message")
	if err != nil {
		http.Error(w, "missing message part", http.StatusBadRequest)
		return
	}
	err = json.NewDecoder(part).Decode(&payload)
	_ = part.Close()
	if err != nil {
		http.Error(w, "malformed message part", http.StatusBadRequest)
		return
	}

	cred := identity.FromToken(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	senderID := cred.UserID
	if senderID == "" {
		senderID = "anonymous"
	}
	msg := domain.ChatMessage{
		ID:          uuid.NewString(),
		Sender:      &domain.Sender{ID: senderID, DisplayName: senderID},
		Content:     payload.Content,
		Timestamp:   time.Now().UTC(),
		MessageType: domain.MessageTypeText,
	}

	if file, header, err := r.FormFile("file"); err == nil {
		data, readErr := io.ReadAll(file)
		_ = file.Close()
		if readErr != nil {
			http.Error(w, "unreadable file part", http.StatusBadRequest)
			return
		}
		contentType := header.Header.Get("Content-Type")
		msg.AttachmentURL = s.StoreAttachment(header.Filename, contentType, data)
		msg.AttachmentFilename = header.Filename
		if strings.HasPrefix(contentType, "image/") {
			msg.MessageType = domain.MessageTypeImage
		} else {
			msg.MessageType = domain.MessageTypeFile
		}
	}

	s.mu.Lock()
	s.messages[ticketID] = append(s.messages[ticketID], msg)
	chatID := s.chats[ticketID]
	s.mu.Unlock()

	if chatID != "" {
		body, _ := json.Marshal(msg)
		s.deliver(topicPrefix+chatID, body)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(msg)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if status := s.authorize(r); status != 0 {
		http.Error(w, "access denied", status)
		return
	}
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	att, ok := s.attachments[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "attachment not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", att.contentType)
	_, _ = w.Write(att.data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sc := &stompConn{conn: conn}
	defer func() {
		s.removeConn(sc)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := transport.ParseFrame(data)
		if err != nil {
			s.logger.Warn("discarding bad frame", zap.Error(err))
			continue
		}
		if frame == nil {
			// heartbeat; echo so client read deadlines stay satisfied
			sc.writeMu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, transport.Heartbeat)
			sc.writeMu.Unlock()
			continue
		}

		switch frame.Command {
		case transport.CmdConnect:
			token := strings.TrimPrefix(frame.Headers["Authorization"], "Bearer ")
			if s.token != "" && token != s.token {
				_ = sc.writeFrame(transport.NewFrame(transport.CmdError, "message", "access denied"))
				return
			}
			_ = sc.writeFrame(transport.NewFrame(transport.CmdConnected,
				"version", "1.2",
				"heart-beat", frame.Headers["heart-beat"]))
		case transport.CmdSubscribe:
			s.addSubscriber(frame.Headers["destination"], sc, frame.Headers["id"])
		case transport.CmdUnsubscribe:
			s.removeSubscriber(sc, frame.Headers["id"])
		case transport.CmdDisconnect:
			return
		}
	}
}

func (s *Server) addSubscriber(destination string, sc *stompConn, subID string) {
	if destination == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribers[destination] == nil {
		s.subscribers[destination] = make(map[*stompConn]string)
	}
	s.subscribers[destination][sc] = subID
}

func (s *Server) removeSubscriber(sc *stompConn, subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for destination, conns := range s.subscribers {
		if conns[sc] == subID {
			delete(conns, sc)
			if len(conns) == 0 {
				delete(s.subscribers, destination)
			}
		}
	}
}

func (s *Server) removeConn(sc *stompConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for destination, conns := range s.subscribers {
		delete(conns, sc)
		if len(conns) == 0 {
			delete(s.subscribers, destination)
		}
	}
}

func (s *Server) deliver(destination string, body []byte) {
	s.mu.Lock()
	targets := make(map[*stompConn]string, len(s.subscribers[destination]))
	for sc, subID := range s.subscribers[destination] {
		targets[sc] = subID
	}
	s.mu.Unlock()

	for sc, subID := range targets {
		frame := transport.NewFrame(transport.CmdMessage,
			"subscription", subID,
			"message-id", uuid.NewString(),
			"destination", destination,
			"content-type", "application/json")
		frame.Body = body
		if err := sc.writeFrame(frame); err != nil {
			s.logger.Warn("delivery failed", zap.String("destination", destination), zap.Error(err))
		}
	}
}

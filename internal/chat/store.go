package chat

import (
	"sort"
	"sync"

	"github.com/spec-kit/ticket-chat/internal/domain"
)

// MessageStore holds the ordered, deduplicated message set for one session.
// It is owned by exactly one SessionController; the mutex exists because the
// transport read loop and the history-load goroutine both write to it.
type MessageStore struct {
	mu       sync.Mutex
	byID     map[string]struct{}
	messages []domain.ChatMessage
	seeded   bool
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{byID: make(map[string]struct{})}
}

// Merge inserts a live message, keeping ascending timestamp order. A
// duplicate id is a no-op (absorbs reconnect replay and races with history
// load); a message missing id or timestamp is rejected. Returns whether the
// message was inserted.
func (s *MessageStore) Merge(msg domain.ChatMessage) bool {
	if !msg.Valid() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[msg.ID]; exists {
		return false
	}
	s.byID[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	sortMessages(s.messages)
	return true
}

// LoadHistory seeds the store with the history page. Input order is not
// trusted. Live messages merged before history resolved are retained, so a
// delivery racing the history fetch is never lost.
func (s *MessageStore) LoadHistory(msgs []domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range msgs {
		if !msg.Valid() {
			continue
		}
		if _, exists := s.byID[msg.ID]; exists {
			continue
		}
		s.byID[msg.ID] = struct{}{}
		s.messages = append(s.messages, msg)
	}
	sortMessages(s.messages)
	s.seeded = true
}

// Seeded reports whether a history load has completed at least once.
func (s *MessageStore) Seeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeded
}

// Snapshot returns a copy of the current message sequence; callers never
// see the internal slice.
func (s *MessageStore) Snapshot() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Reset clears all stored state.
func (s *MessageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]struct{})
	s.messages = nil
	s.seeded = false
}

// Equal timestamps fall back to id comparison so ordering is deterministic.
func sortMessages(msgs []domain.ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

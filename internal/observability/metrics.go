package observability

import (
	"strconv"
	"sync"
)

// Metrics provides basic in-memory counters for the chat client.
type Metrics struct {
	mu        sync.Mutex
	transport map[string]int64
	requests  map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		transport: make(map[string]int64),
		requests:  make(map[string]int64),
	}
}

// RecordTransportEvent increments a transport lifecycle counter
// (connects, disconnects, frames, reconnect attempts).
func (m *Metrics) RecordTransportEvent(event string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transport[event]++
}

// RecordRequest increments counters for gateway HTTP calls.
func (m *Metrics) RecordRequest(operation string, status int) {
	if m == nil {
		return
	}
	key := operation + "|" + strconv.Itoa(status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[key]++
}

// TransportCount returns the counter for a transport event.
func (m *Metrics) TransportCount(event string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport[event]
}

// RequestCount returns the counter for an operation/status pair.
func (m *Metrics) RequestCount(operation string, status int) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[operation+"|"+strconv.Itoa(status)]
}

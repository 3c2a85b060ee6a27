package domain

// ConnectionState tracks the lifecycle of one chat session.
type ConnectionState string

const (
	StateIdle         ConnectionState = "IDLE"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateErrored      ConnectionState = "ERRORED"
)

// Live reports whether the session holds (or is establishing) a transport
// connection. Errored is terminal; the session must be recreated.
func (s ConnectionState) Live() bool {
	return s == StateConnecting || s == StateConnected || s == StateDisconnected
}

// SessionInfo describes the conversation a session is bound to. ChatID may
// be empty when the backend has not provisioned a chat for the ticket.
type SessionInfo struct {
	TicketID      string
	ChatID        string
	CurrentUserID string
}

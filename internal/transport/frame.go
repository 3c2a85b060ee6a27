package transport

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// STOMP 1.2 frame commands used by the chat transport.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
	CmdReceipt     = "RECEIPT"
)

// Frame is a single STOMP frame. A nil *Frame from ParseFrame denotes a
// heartbeat (bare EOL), which carries no command.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// NewFrame constructs a frame with the given command and header pairs.
func NewFrame(command string, headers ...string) *Frame {
	f := &Frame{Command: command, Headers: make(map[string]string, len(headers)/2)}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers[headers[i]] = headers[i+1]
	}
	return f
}

// Marshal serializes the frame to its wire form, NUL-terminated. Headers
// are emitted in sorted order so output is deterministic.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(escapeHeader(f.Command, k))
		buf.WriteByte(':')
		buf.WriteString(escapeHeader(f.Command, f.Headers[k]))
		buf.WriteByte('\n')
	}

	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Heartbeat is the wire form of a STOMP heartbeat.
var Heartbeat = []byte("\n")

// ParseFrame decodes one frame from a WebSocket message. Returns (nil, nil)
// for heartbeats.
func ParseFrame(data []byte) (*Frame, error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if len(bytes.TrimLeft(data, "\n\x00")) == 0 {
		return nil, nil
	}
	data = bytes.TrimLeft(data, "\n")

	head := data
	var body []byte
	if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		head = data[:idx]
		body = data[idx+2:]
	}
	if nul := bytes.IndexByte(body, 0); nul >= 0 {
		body = body[:nul]
	}

	lines := strings.Split(string(head), "\n")
	command := strings.TrimSpace(lines[0])
	if command == "" {
		return nil, fmt.Errorf("frame missing command")
	}

	frame := &Frame{Command: command, Headers: make(map[string]string), Body: body}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		sep := strings.IndexByte(line, ':')
		if sep < 0 {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		key := unescapeHeader(command, line[:sep])
		// Per STOMP, the first occurrence of a repeated header wins.
		if _, exists := frame.Headers[key]; !exists {
			frame.Headers[key] = unescapeHeader(command, line[sep+1:])
		}
	}
	return frame, nil
}

// CONNECT and CONNECTED frames are exempt from header escaping in STOMP 1.2.
func escapingExempt(command string) bool {
	return command == CmdConnect || command == CmdConnected
}

func escapeHeader(command, value string) string {
	if escapingExempt(command) {
		return value
	}
	r := strings.NewReplacer("\\", `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	return r.Replace(value)
}

func unescapeHeader(command, value string) string {
	if escapingExempt(command) || !strings.ContainsRune(value, '\\') {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] != '\\' || i+1 == len(value) {
			b.WriteByte(value[i])
			continue
		}
		i++
		switch value[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

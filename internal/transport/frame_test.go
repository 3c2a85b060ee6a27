package transport

import (
	"bytes"
	"testing"
)

func TestMarshalProducesNULTerminatedFrame(t *testing.T) {
	frame := NewFrame(CmdSubscribe,
		"id", "sub-chat-c1",
		"destination", "/ticket/chat/c1",
	)

	want := "SUBSCRIBE\ndestination:/ticket/chat/c1\nid:sub-chat-c1\n\n\x00"
	if got := string(frame.Marshal()); got != want {
		t.Fatalf("marshal = %q, want %q", got, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	frame := NewFrame(CmdMessage,
		"subscription", "sub-chat-c1",
		"message-id", "42",
		"destination", "/ticket/chat/c1",
	)
	frame.Body = []byte(`{"id":"m1"}`)

	parsed, err := ParseFrame(frame.Marshal())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Command != CmdMessage {
		t.Fatalf("command = %q", parsed.Command)
	}
	if parsed.Headers["subscription"] != "sub-chat-c1" || parsed.Headers["message-id"] != "42" {
		t.Fatalf("headers = %v", parsed.Headers)
	}
	if !bytes.Equal(parsed.Body, frame.Body) {
		t.Fatalf("body = %q", parsed.Body)
	}
}

func TestParseHeartbeatIsNilFrame(t *testing.T) {
	for _, raw := range []string{"\n", "\r\n", "\n\n", "\x00"} {
		frame, err := ParseFrame([]byte(raw))
		if err != nil {
			t.Fatalf("raw %q: %v", raw, err)
		}
		if frame != nil {
			t.Fatalf("raw %q parsed as %+v, want heartbeat", raw, frame)
		}
	}
}

func TestParseNormalizesCRLF(t *testing.T) {
	raw := "CONNECTED\r\nversion:1.2\r\nheart-beat:4000,4000\r\n\r\n\x00"
	frame, err := ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.Command != CmdConnected || frame.Headers["version"] != "1.2" {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestHeaderEscaping(t *testing.T) {
	frame := NewFrame(CmdMessage, "note", "a:b\nc\\d")

	wire := frame.Marshal()
	if !bytes.Contains(wire, []byte(`note:a\cb\nc\\d`)) {
		t.Fatalf("wire = %q, header value not escaped", wire)
	}

	parsed, err := ParseFrame(wire)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := parsed.Headers["note"]; got != "a:b\nc\\d" {
		t.Fatalf("unescaped value = %q", got)
	}
}

func TestConnectFramesExemptFromEscaping(t *testing.T) {
	// CONNECT headers pass through verbatim, so a literal backslash
	// survives both directions.
	frame := NewFrame(CmdConnect, "login", `dom\user`)
	wire := frame.Marshal()
	if !bytes.Contains(wire, []byte(`login:dom\user`)) {
		t.Fatalf("wire = %q, CONNECT headers must not be escaped", wire)
	}

	parsed, err := ParseFrame(wire)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := parsed.Headers["login"]; got != `dom\user` {
		t.Fatalf("login = %q", got)
	}
}

func TestFirstRepeatedHeaderWins(t *testing.T) {
	raw := "MESSAGE\ndestination:/ticket/chat/c1\ndestination:/other\n\nbody\x00"
	frame, err := ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := frame.Headers["destination"]; got != "/ticket/chat/c1" {
		t.Fatalf("destination = %q, first occurrence must win", got)
	}
}

func TestParseErrorFrameKeepsMessage(t *testing.T) {
	raw := "ERROR\nmessage:access denied\n\nsubscription rejected\x00"
	frame, err := ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.Command != CmdError {
		t.Fatalf("command = %q", frame.Command)
	}
	if frame.Headers["message"] != "access denied" || string(frame.Body) != "subscription rejected" {
		t.Fatalf("frame = %+v body=%q", frame.Headers, frame.Body)
	}
}

func TestParseRejectsMalformedHeaderLine(t *testing.T) {
	if _, err := ParseFrame([]byte("MESSAGE\nbroken header\n\n\x00")); err == nil {
		t.Fatal("expected malformed header error")
	}
}

func TestParseBodylessFrame(t *testing.T) {
	frame, err := ParseFrame([]byte("RECEIPT\nreceipt-id:77\n\n\x00"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if frame.Command != CmdReceipt || len(frame.Body) != 0 {
		t.Fatalf("frame = %+v body=%q", frame, frame.Body)
	}
}

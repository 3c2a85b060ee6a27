package gateway

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spec-kit/ticket-chat/pkg/util"
)

func rejectionReason(t *testing.T, err error) string {
	t.Helper()
	chatErr := util.ToChatError(err)
	if chatErr == nil || chatErr.Kind != util.KindAttachmentRejected {
		t.Fatalf("got %v, want AttachmentRejected", err)
	}
	reason, _ := chatErr.Details["reason"].(string)
	return reason
}

func TestValidateAttachment(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		size        int64
		wantReason  string
	}{
		{"png ok", "image/png", 1024, ""},
		{"jpeg ok", "image/jpeg", 1024, ""},
		{"jpg alias ok", "image/jpg", 1024, ""},
		{"pdf ok", "application/pdf", 1024, ""},
		{"exactly at the limit", "image/png", MaxAttachmentSize, ""},
		{"one byte over", "image/png", MaxAttachmentSize + 1, "too_large"},
		{"plain text", "text/plain", 10, "unsupported_type"},
		{"gif", "image/gif", 10, "unsupported_type"},
		{"empty type", "", 10, "unsupported_type"},
		// type is checked first, so an oversized exe reports the type
		{"oversized and unsupported", "application/x-msdownload", MaxAttachmentSize + 1, "unsupported_type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAttachment("file.bin", tc.contentType, tc.size)
			if tc.wantReason == "" {
				if err != nil {
					t.Fatalf("unexpected rejection: %v", err)
				}
				return
			}
			if got := rejectionReason(t, err); got != tc.wantReason {
				t.Fatalf("reason = %q, want %q", got, tc.wantReason)
			}
		})
	}
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

func TestStageAttachmentLoadsValidFile(t *testing.T) {
	data := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)
	path := writeFile(t, "diagram.png", data)

	att, err := StageAttachment(path)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if att.FileName != "diagram.png" {
		t.Fatalf("filename = %q", att.FileName)
	}
	if att.ContentType != "image/png" {
		t.Fatalf("content type = %q", att.ContentType)
	}
	if att.Size != int64(len(data)) || !bytes.Equal(att.Data, data) {
		t.Fatal("staged bytes do not match the file")
	}
}

func TestStageAttachmentRejectsUnsupportedType(t *testing.T) {
	path := writeFile(t, "notes.txt", []byte("plain text"))

	_, err := StageAttachment(path)
	if got := rejectionReason(t, err); got != "unsupported_type" {
		t.Fatalf("reason = %q, want unsupported_type", got)
	}
}

func TestStageAttachmentRejectsMissingFile(t *testing.T) {
	_, err := StageAttachment(filepath.Join(t.TempDir(), "absent.png"))
	if got := rejectionReason(t, err); got != "unreadable" {
		t.Fatalf("reason = %q, want unreadable", got)
	}
}

func TestStageFirstValidTakesFirstValidOnly(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "notes.txt")
	first := filepath.Join(dir, "a.png")
	second := filepath.Join(dir, "b.png")
	for _, p := range []string{bad, first, second} {
		if err := os.WriteFile(p, pngHeader, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	att, err := StageFirstValid([]string{bad, first, second})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if att.FileName != "a.png" {
		t.Fatalf("staged %q, want the first valid file a.png", att.FileName)
	}
}

func TestStageFirstValidReportsFirstRejection(t *testing.T) {
	dir := t.TempDir()
	tooBig := filepath.Join(dir, "big.pdf")
	if err := os.WriteFile(tooBig, bytes.Repeat([]byte{0}, MaxAttachmentSize+1), 0o600); err != nil {
		t.Fatal(err)
	}
	wrongType := writeFile(t, "notes.txt", []byte("x"))

	_, err := StageFirstValid([]string{tooBig, wrongType})
	if got := rejectionReason(t, err); got != "too_large" {
		t.Fatalf("reason = %q, want the first rejection too_large", got)
	}
}

func TestStageFirstValidEmptySelection(t *testing.T) {
	_, err := StageFirstValid(nil)
	if got := rejectionReason(t, err); got != "empty_selection" {
		t.Fatalf("reason = %q, want empty_selection", got)
	}
}

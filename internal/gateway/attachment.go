package gateway

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spec-kit/ticket-chat/pkg/util"
)

// MaxAttachmentSize bounds a staged attachment; exactly this size is
// accepted, one byte over is rejected.
const MaxAttachmentSize = 5 << 20

var allowedContentTypes = map[string]struct{}{
	"image/png":       {},
	"image/jpeg":      {},
	"image/jpg":       {},
	"application/pdf": {},
}

// PendingAttachment is the single staged outbound file. A send carries at
// most one attachment; staging a new one replaces the previous
// (last-write-wins, not additive).
type PendingAttachment struct {
	FileName    string
	ContentType string
	Size        int64
	Data        []byte
}

// ValidateAttachment checks content type and size, returning a specific
// rejection reason so the UI can show a human-readable cause.
func ValidateAttachment(filename, contentType string, size int64) error {
	if _, ok := allowedContentTypes[contentType]; !ok {
		display := contentType
		if display == "" {
			display = "unknown"
		}
		return util.NewAttachmentRejected(
			fmt.Sprintf("unsupported file type for %s (%s); allowed: PNG, JPG, PDF", filename, display),
			"unsupported_type",
		)
	}
	if size > MaxAttachmentSize {
		return util.NewAttachmentRejected(
			fmt.Sprintf("file too large: %s (max 5 MiB)", filename),
			"too_large",
		)
	}
	return nil
}

// StageAttachment loads and validates a file for sending. Nothing is kept
// on validation failure.
func StageAttachment(path string) (*PendingAttachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, util.NewAttachmentRejected(fmt.Sprintf("cannot read %s", path), "unreadable")
	}

	name := filepath.Base(path)
	contentType := detectContentType(path)
	if err := ValidateAttachment(name, contentType, info.Size()); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, util.NewAttachmentRejected(fmt.Sprintf("cannot read %s", path), "unreadable")
	}
	return &PendingAttachment{
		FileName:    name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

// StageFirstValid applies the single-attachment policy to a multi-file
// selection: the first valid file wins and the remainder is ignored. When
// no file is valid the first rejection is returned.
func StageFirstValid(paths []string) (*PendingAttachment, error) {
	var firstErr error
	for _, path := range paths {
		att, err := StageAttachment(path)
		if err == nil {
			return att, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = util.NewAttachmentRejected("no file selected", "empty_selection")
	}
	return nil, firstErr
}

func detectContentType(path string) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := f.Read(head)
	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(head[:n]))
	if err != nil {
		return ""
	}
	return mediaType
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-chat/internal/domain"
	"github.com/spec-kit/ticket-chat/internal/identity"
	"github.com/spec-kit/ticket-chat/internal/observability"
	"github.com/spec-kit/ticket-chat/pkg/util"
)

// Client talks to the REST collaborators: history pages, multipart sends
// and authenticated attachment downloads. It is decoupled from the live
// subscription entirely.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *zap.Logger
	metrics  *observability.Metrics
	pageSize int
}

// Options configures the gateway client.
type Options struct {
	BaseURL         string
	Timeout         time.Duration
	HistoryPageSize int
	Logger          *zap.Logger
	Metrics         *observability.Metrics
	HTTPClient      *http.Client
}

// NewClient constructs the gateway.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	pageSize := opts.HistoryPageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     httpClient,
		logger:   logger,
		metrics:  opts.Metrics,
		pageSize: pageSize,
	}
}

// historyPage mirrors the collaborator's paged response; only the content
// array is consumed.
type historyPage struct {
	Content []domain.ChatMessage `json:"content"`
}

// messagePayload is the JSON part of an outbound multipart send.
type messagePayload struct {
	Content string `json:"content"`
}

// History fetches the persisted message page for a ticket. The caller
// seeds its store from the result; ordering is not trusted here.
func (c *Client) History(ctx context.Context, cred identity.Credential, ticketID string) ([]domain.ChatMessage, error) {
	endpoint := fmt.Sprintf("%s/tickets/%s/chat/messages?page=0&size=%d", c.baseURL, url.PathEscape(ticketID), c.pageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, util.NewHistoryLoadError(err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, util.NewHistoryLoadError(err)
	}
	defer resp.Body.Close()
	c.metrics.RecordRequest("history", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return nil, util.NewHistoryLoadError(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var page historyPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, util.NewHistoryLoadError(err)
	}
	return page.Content, nil
}

// Send posts a message to the ticket's chat resource as multipart: a JSON
// "message" part plus an optional binary "file" part. An empty send (no
// trimmed text, no attachment) is rejected before any network call. The
// created message is not returned; it arrives back via the live topic.
func (c *Client) Send(ctx context.Context, cred identity.Credential, ticketID, content string, att *PendingAttachment) error {
	content = strings.TrimSpace(content)
	if content == "" && att == nil {
		return util.NewValidationError("nothing to send: provide text or an attachment", nil)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	jsonHeader := textproto.MIMEHeader{}
	jsonHeader.Set("Content-Disposition", `form-data; name="message"; filename="message.json"`)
	jsonHeader.Set("Content-Type", "application/json")
	jsonPart, err := writer.CreatePart(jsonHeader)
	if err != nil {
		return util.NewSendFailed("", err)
	}
	if err := json.NewEncoder(jsonPart).Encode(messagePayload{Content: content}); err != nil {
		return util.NewSendFailed("", err)
	}

	if att != nil {
		fileHeader := textproto.MIMEHeader{}
		fileHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, att.FileName))
		fileHeader.Set("Content-Type", att.ContentType)
		filePart, err := writer.CreatePart(fileHeader)
		if err != nil {
			return util.NewSendFailed("", err)
		}
		if _, err := filePart.Write(att.Data); err != nil {
			return util.NewSendFailed("", err)
		}
	}
	if err := writer.Close(); err != nil {
		return util.NewSendFailed("", err)
	}

	endpoint := fmt.Sprintf("%s/tickets/%s/chat/messages", c.baseURL, url.PathEscape(ticketID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return util.NewSendFailed("", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return util.NewSendFailed("", err)
	}
	defer resp.Body.Close()
	c.metrics.RecordRequest("send", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return util.NewSendFailed(
			fmt.Sprintf("send rejected with status %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(body))),
		)
	}
	return nil
}

// Download fetches an attachment via authenticated GET and materializes it
// as dir/filename, returning the final path. The payload lands in a
// temporary file first; the temporary file is removed on every failure
// path, so no partial download is left behind.
func (c *Client) Download(ctx context.Context, cred identity.Credential, attachmentURL, filename, dir string) (string, error) {
	endpoint, err := c.resolveURL(attachmentURL)
	if err != nil {
		return "", util.NewDownloadFailed(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", util.NewDownloadFailed(0, err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", util.NewDownloadFailed(0, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordRequest("download", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return "", util.NewDownloadFailed(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	tmp, err := os.CreateTemp(dir, ".chat-download-*")
	if err != nil {
		return "", util.NewDownloadFailed(resp.StatusCode, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", util.NewDownloadFailed(resp.StatusCode, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", util.NewDownloadFailed(resp.StatusCode, err)
	}

	target := filepath.Join(dir, filepath.Base(filename))
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", util.NewDownloadFailed(resp.StatusCode, err)
	}

	c.logger.Info("attachment downloaded", zap.String("file", target))
	return target, nil
}

// resolveURL turns the collaborator's relative attachment locator into an
// absolute URL on the API origin. Absolute locators pass through.
func (c *Client) resolveURL(attachmentURL string) (string, error) {
	ref, err := url.Parse(attachmentURL)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return attachmentURL, nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// Package upload delivers encoded recordings to an Rdio Scanner compatible
// call-upload endpoint over multipart HTTP.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/rdiovox/internal/encode"
)

const (
	uploadPath    = "/api/call-upload"
	uploadTimeout = 30 * time.Second
	probeTimeout  = 10 * time.Second
	userAgent     = "RDIO-VOX/1.0"

	// audioType is pinned: the archival server keys its handling off this
	// field, regardless of the payload's actual codec.
	audioType = "audio/mpeg"

	// maxBodyEcho bounds how much of an error response is kept for logs.
	maxBodyEcho = 4096
)

// ErrConfig reports a missing server URL or API key. It is returned before
// any network I/O happens.
var ErrConfig = errors.New("upload: server url and api key must be configured")

// ErrAuthRejected reports an HTTP 400 response, which the server uses for
// unknown or disabled API keys. Retrying without reconfiguration is useless.
var ErrAuthRejected = errors.New("upload: server rejected the api key")

// ServerError reports a non-200, non-400 response.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("upload: server returned %d: %s", e.StatusCode, e.Body)
}

// ConnectionError reports that the server could not be reached.
type ConnectionError struct{ Err error }

func (e *ConnectionError) Error() string { return fmt.Sprintf("upload: connection failed: %v", e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that the exchange exceeded its deadline.
type TimeoutError struct{ Err error }

func (e *TimeoutError) Error() string { return fmt.Sprintf("upload: timed out: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// TruncatedResponseError reports that the server cut the connection before
// the response completed.
type TruncatedResponseError struct{ Err error }

func (e *TruncatedResponseError) Error() string {
	return fmt.Sprintf("upload: server cut off connection: %v", e.Err)
}
func (e *TruncatedResponseError) Unwrap() error { return e.Err }

// CallMeta is the static call metadata attached to every upload.
type CallMeta struct {
	Frequency      string
	Source         string
	System         string
	SystemLabel    string
	Talkgroup      string
	TalkgroupGroup string
	TalkgroupLabel string
	TalkgroupTag   string
}

// Config describes the upload target.
type Config struct {
	// ServerURL is the base URL of the archival server, without the
	// call-upload path.
	ServerURL string

	// APIKey authenticates the upload.
	APIKey string

	// Meta is attached verbatim to every call.
	Meta CallMeta
}

// Option adjusts a [Client].
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client, primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client uploads artifacts. It never retries; each artifact gets exactly one
// exchange per Upload call. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a Client for cfg. Configuration completeness is checked per
// call, so a Client may be constructed before the server is configured.
func New(cfg Config, opts ...Option) *Client {
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: uploadTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload posts one artifact to the call-upload endpoint.
//
// A missing server URL or API key returns [ErrConfig] without touching the
// network. HTTP 200 is success; HTTP 400 returns [ErrAuthRejected]; other
// statuses return a [ServerError] carrying the response body. Transport
// failures are classified as [ConnectionError], [TimeoutError] or
// [TruncatedResponseError]. No failure is retried here.
func (c *Client) Upload(ctx context.Context, art *encode.Artifact) error {
	if c.cfg.ServerURL == "" || strings.TrimSpace(c.cfg.APIKey) == "" {
		return ErrConfig
	}

	body, contentType, err := c.buildForm(art.Name, art.Data, art.RecordedAt)
	if err != nil {
		return fmt.Errorf("upload: build form: %w", err)
	}

	slog.Info("uploading audio",
		"url", c.cfg.ServerURL+uploadPath,
		"file", art.Name,
		"bytes", len(art.Data),
		"session", art.SessionID,
	)

	status, respBody, err := c.post(ctx, body, contentType)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK:
		slog.Info("audio uploaded", "file", art.Name, "session", art.SessionID)
		return nil
	case http.StatusBadRequest:
		slog.Error("upload rejected", "file", art.Name, "body", respBody)
		return ErrAuthRejected
	default:
		return &ServerError{StatusCode: status, Body: respBody}
	}
}

// Probe posts a tiny synthetic upload to verify the server is reachable and
// accepting this key. The server answers HTTP 400 for a bad key; any other
// response means reachable, even an error status. Callers treat a failed
// probe as a warning, never as a reason to stop.
func (c *Client) Probe(ctx context.Context) error {
	if c.cfg.ServerURL == "" || strings.TrimSpace(c.cfg.APIKey) == "" {
		return ErrConfig
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	body, contentType, err := c.buildForm("test.wav", []byte("test audio data"), time.Now())
	if err != nil {
		return fmt.Errorf("upload: build form: %w", err)
	}

	status, _, err := c.post(ctx, body, contentType)
	if err != nil {
		return err
	}
	if status == http.StatusBadRequest {
		return ErrAuthRejected
	}
	slog.Debug("server probe ok", "status", status)
	return nil
}

// buildForm assembles the multipart body with the field set the server's
// call-upload endpoint expects.
func (c *Client) buildForm(name string, data []byte, recordedAt time.Time) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("audio", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"audioName", name},
		{"audioType", audioType},
		{"dateTime", recordedAt.Format(time.RFC3339)},
		{"frequencies", "[]"},
		{"frequency", c.cfg.Meta.Frequency},
		{"key", c.cfg.APIKey},
		{"patches", "[]"},
		{"source", c.cfg.Meta.Source},
		{"sources", "[]"},
		{"system", c.cfg.Meta.System},
		{"systemLabel", c.cfg.Meta.SystemLabel},
		{"talkgroup", c.cfg.Meta.Talkgroup},
		{"talkgroupGroup", c.cfg.Meta.TalkgroupGroup},
		{"talkgroupLabel", c.cfg.Meta.TalkgroupLabel},
		{"talkgroupTag", c.cfg.Meta.TalkgroupTag},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// post runs the exchange and reads the response body. Transport failures come
// back already classified.
func (c *Client) post(ctx context.Context, body *bytes.Buffer, contentType string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+uploadPath, body)
	if err != nil {
		return 0, "", fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyEcho))
	if err != nil {
		return 0, "", &TruncatedResponseError{Err: err}
	}
	return resp.StatusCode, strings.TrimSpace(string(respBody)), nil
}

// classify maps a transport error onto the package's error taxonomy.
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &TimeoutError{Err: err}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return &TruncatedResponseError{Err: err}
	default:
		return &ConnectionError{Err: err}
	}
}

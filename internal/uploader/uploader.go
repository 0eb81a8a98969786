// Package uploader posts payloads to the lab ingestion endpoint.
package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"

	"github.com/skobkin/lab-agent/internal/api"
	"github.com/skobkin/lab-agent/internal/version"
)

// RequestTimeout bounds a single upload, including connection setup.
const RequestTimeout = 30 * time.Second

// maxErrorBody caps the response body kept on an Error.
const maxErrorBody = 4096

// Result describes an accepted upload.
type Result struct {
	StatusCode   int
	Accelerators int
	RecordedAt   string
	Duration     time.Duration
}

// Error reports a rejected or failed upload. StatusCode is zero when no
// response was received.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		if e.Body == "" {
			return fmt.Sprintf("upload rejected with status %d", e.StatusCode)
		}
		return fmt.Sprintf("upload rejected with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client sends one POST per Upload call and never retries.
type Client struct {
	endpoint string
	http     *resty.Client
	logger   *slog.Logger
}

// New constructs a Client for endpoint authenticated with token.
func New(endpoint, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	httpClient := resty.New().
		SetTimeout(RequestTimeout).
		SetRetryCount(0).
		SetHeader(api.TokenHeader, token).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", version.UserAgent())

	return &Client{
		endpoint: endpoint,
		http:     httpClient,
		logger:   logger,
	}
}

// Upload serializes p and posts it. Any non-2xx status is returned as *Error.
func (c *Client) Upload(ctx context.Context, p api.Payload) (Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(p).
		Post(c.endpoint)
	if err != nil {
		return Result{}, &Error{Err: err}
	}

	if !resp.IsSuccess() {
		return Result{}, &Error{StatusCode: resp.StatusCode(), Body: truncateBody(resp.String(), maxErrorBody)}
	}

	result := Result{
		StatusCode:   resp.StatusCode(),
		Accelerators: len(p.Accelerators),
		RecordedAt:   p.Snapshot.RecordedAt,
		Duration:     resp.Time(),
	}

	c.logger.Info("posted snapshot",
		"gpus", result.Accelerators,
		"vram_total", humanize.IBytes(uint64(max(p.Snapshot.GPU.MemoryTotalBytes, 0))),
		"recorded_at", result.RecordedAt,
		"status", result.StatusCode,
		"took", result.Duration.Round(time.Millisecond),
	)
	return result, nil
}

// truncateBody cuts body to at most limit bytes without splitting a UTF-8
// sequence.
func truncateBody(body string, limit int) string {
	if len(body) <= limit {
		return body
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

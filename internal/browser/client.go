// Package browser is the HTTP client for the remote browser-action executor.
//
// The executor owns one browser page per session and accepts natural-language
// instructions. All endpoints are POST {base}/api/{op} with a JSON body.
package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Default timeouts per operation.
const (
	DefaultInitTimeout       = 180 * time.Second
	DefaultScreenshotTimeout = 60 * time.Second
	DefaultExecuteTimeout    = 90 * time.Second
	DefaultCloseTimeout      = 30 * time.Second
)

// Response is the executor's reply to every operation.
type Response struct {
	Success    bool   `json:"success"`
	Screenshot string `json:"screenshot,omitempty"`
	PageText   string `json:"page_text,omitempty"`
	PageURL    string `json:"pageUrl,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ScreenshotBytes decodes the base64 screenshot, accepting a data-URL prefix.
// It returns nil when no screenshot is present or it cannot be decoded.
func (r *Response) ScreenshotBytes() []byte {
	if r == nil || r.Screenshot == "" {
		return nil
	}
	s := r.Screenshot
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i > 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return data
}

// Config configures a Client.
type Config struct {
	BaseURL           string
	InitTimeout       time.Duration
	ScreenshotTimeout time.Duration
	ExecuteTimeout    time.Duration
	// RetryMax is the transport-level retry count for idempotent calls (screenshot, close).
	RetryMax int
	Logger   *slog.Logger
}

// Client talks to the browser executor.
type Client struct {
	baseURL string
	cfg     Config
	// retrying is used for idempotent calls; single never retries so an
	// instruction is not executed twice.
	retrying *retryablehttp.Client
	single   *retryablehttp.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	if cfg.ScreenshotTimeout <= 0 {
		cfg.ScreenshotTimeout = DefaultScreenshotTimeout
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = DefaultExecuteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	retrying := retryablehttp.NewClient()
	retrying.RetryMax = cfg.RetryMax
	retrying.RetryWaitMin = 500 * time.Millisecond
	retrying.RetryWaitMax = 5 * time.Second
	retrying.Logger = cfg.Logger
	retrying.ErrorHandler = retryablehttp.PassthroughErrorHandler

	single := retryablehttp.NewClient()
	single.RetryMax = 0
	single.Logger = cfg.Logger
	single.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		cfg:      cfg,
		retrying: retrying,
		single:   single,
	}
}

type initRequest struct {
	SessionID string `json:"sessionId"`
	ExamURL   string `json:"examUrl"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type executeRequest struct {
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
	Prompt    string `json:"prompt"`
}

// Init opens a browser page for the session and navigates to targetURL.
func (c *Client) Init(ctx context.Context, sessionID, targetURL string) (*Response, error) {
	return c.call(ctx, c.single, "init", c.cfg.InitTimeout, initRequest{SessionID: sessionID, ExamURL: targetURL})
}

// Screenshot captures the current page with its text and URL.
func (c *Client) Screenshot(ctx context.Context, sessionID string) (*Response, error) {
	return c.call(ctx, c.retrying, "screenshot", c.cfg.ScreenshotTimeout, sessionRequest{SessionID: sessionID})
}

// Execute performs one natural-language instruction.
func (c *Client) Execute(ctx context.Context, sessionID, instruction string) (*Response, error) {
	return c.call(ctx, c.single, "execute", c.cfg.ExecuteTimeout, executeRequest{
		SessionID: sessionID,
		Action:    "act",
		Prompt:    instruction,
	})
}

// Close releases the session's browser page.
func (c *Client) Close(ctx context.Context, sessionID string) error {
	resp, err := c.call(ctx, c.retrying, "close", DefaultCloseTimeout, sessionRequest{SessionID: sessionID})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("close session %s: %s", sessionID, resp.Error)
	}
	return nil
}

func (c *Client) call(ctx context.Context, hc *retryablehttp.Client, op string, timeout time.Duration, body any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/"+op, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	// With PassthroughErrorHandler a final 5xx comes back with both the
	// response and the retry policy's error; the body carries the real cause.
	resp, err := hc.Do(req)
	if resp == nil {
		return nil, fmt.Errorf("browser %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, rerr := io.ReadAll(resp.Body)
	if rerr != nil {
		return nil, fmt.Errorf("read %s response: %w", op, rerr)
	}
	if resp.StatusCode < 300 && err != nil {
		return nil, fmt.Errorf("browser %s: %w", op, err)
	}
	if resp.StatusCode >= 300 {
		var body Response
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			return nil, fmt.Errorf("browser %s: HTTP %d: %s", op, resp.StatusCode, body.Error)
		}
		return nil, fmt.Errorf("browser %s: HTTP %d: %s", op, resp.StatusCode, truncate(string(data), 200))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

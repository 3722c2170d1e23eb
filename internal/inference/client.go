// Package inference talks to the external inference endpoint: one JSON POST
// per event, one parse of the response into a tagged Result.
package inference

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"context"

	"relaybot/internal/domain"
)

const (
	defaultEndpoint  = "http://127.0.0.1:8765/event"
	defaultMode      = "qa"
	defaultTimeoutMS = 30000

	// Grace added on top of the server-side timeout_ms budget so the HTTP
	// deadline fires after the server's own, not before.
	timeoutGrace = 5 * time.Second
)

// Client issues requests to the inference endpoint. No auth, no retries;
// every failure folds into an error Result.
type Client struct {
	endpoint  string
	mode      string
	timeoutMS int
	httpc     *http.Client
	logger    *slog.Logger
}

type Config struct {
	Endpoint  string
	Mode      string // "qa" | "qa_blocks"
	TimeoutMS int
	Logger    *slog.Logger

	// HTTPClient overrides the pooled default. Used by tests.
	HTTPClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Mode == "" {
		cfg.Mode = defaultMode
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = defaultTimeoutMS
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// The endpoint lives on a trusted local network and does not speak TLS.
	if strings.HasPrefix(cfg.Endpoint, "https://") {
		cfg.Endpoint = "http://" + strings.TrimPrefix(cfg.Endpoint, "https://")
		cfg.Logger.Warn("inference endpoint downgraded to plain http", "endpoint", cfg.Endpoint)
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = pooledHTTPClient(time.Duration(cfg.TimeoutMS)*time.Millisecond + timeoutGrace)
	}

	return &Client{
		endpoint:  cfg.Endpoint,
		mode:      cfg.Mode,
		timeoutMS: cfg.TimeoutMS,
		httpc:     httpc,
		logger:    cfg.Logger,
	}
}

// pooledHTTPClient returns an HTTP client with connection pooling, matching
// how the upstream providers are called elsewhere.
func pooledHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Endpoint returns the (possibly downgraded) endpoint URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Request is one prompt payload. Constructed fresh per event, sent once.
type Request struct {
	Text       string
	Context    string
	Sync       bool // false when an attachment rides along
	Attachment *domain.Attachment
}

type wireAttachment struct {
	Filename   string `json:"filename"`
	MIME       string `json:"mime"`
	DataBase64 string `json:"data_base64"`
}

type wireRequest struct {
	Mode        string           `json:"mode"`
	Text        string           `json:"text"`
	Context     string           `json:"context,omitempty"`
	Sync        bool             `json:"sync"`
	TimeoutMS   int              `json:"timeout_ms"`
	Attachments []wireAttachment `json:"attachments,omitempty"`
}

// Do POSTs the request and parses the response. Transport errors, non-2xx
// statuses and malformed JSON all come back as an error-kind Result rather
// than a Go error; the caller always has something to dispatch.
func (c *Client) Do(ctx context.Context, req Request) Result {
	wire := wireRequest{
		Mode:      c.mode,
		Text:      req.Text,
		Context:   req.Context,
		Sync:      req.Sync,
		TimeoutMS: c.timeoutMS,
	}
	if req.Attachment != nil {
		mime := req.Attachment.MIME
		if mime == "" {
			mime = "application/octet-stream"
		}
		wire.Attachments = []wireAttachment{{
			Filename:   req.Attachment.Filename,
			MIME:       mime,
			DataBase64: base64.StdEncoding.EncodeToString(req.Attachment.Data),
		}}
		c.logger.Info("including attachment",
			"filename", req.Attachment.Filename,
			"bytes", len(req.Attachment.Data),
			"mime", mime,
		)
	}

	body, err := marshalRequest(wire)
	if err != nil {
		return ErrorResult(fmt.Sprintf("encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return ErrorResult(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		c.logger.Error("inference request failed", "endpoint", c.endpoint, "err", err)
		return ErrorResult(fmt.Sprintf("inference request: %v", err))
	}
	defer resp.Body.Close()

	c.logger.Info("inference call", "endpoint", c.endpoint, "status", resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read response: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorResult(fmt.Sprintf("inference endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	return ParseResponse(raw)
}

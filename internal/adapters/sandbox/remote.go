// Package sandbox provides the sandboxed-code-executor adapters: an HTTP
// client for the external executor and an in-process expression evaluator
// for trusted deployments and tests.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/avencia/graphrun/internal/logging"
	"github.com/avencia/graphrun/pkg/ports"
)

// Client calls the external sandbox executor over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a sandbox client for the executor at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 5 * time.Minute},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run submits one execution and decodes the executor's response. The
// executor reports code failures through ReturnCode/Stderr, not through the
// transport error.
func (c *Client) Run(ctx context.Context, req ports.SandboxRequest) (ports.SandboxResult, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return ports.SandboxResult{}, fmt.Errorf("failed to encode sandbox request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return ports.SandboxResult{}, fmt.Errorf("failed to build sandbox request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("sandbox run", "entrypoint", req.Entrypoint, "libraries", len(req.Libraries))

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return ports.SandboxResult{}, fmt.Errorf("sandbox call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.SandboxResult{}, fmt.Errorf("failed to read sandbox response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ports.SandboxResult{}, fmt.Errorf("sandbox returned status %d: %s", resp.StatusCode, raw)
	}

	var out ports.SandboxResult
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return ports.SandboxResult{}, fmt.Errorf("failed to decode sandbox response: %w", err)
	}
	return out, nil
}

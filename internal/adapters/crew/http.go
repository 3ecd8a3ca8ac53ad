// Package crew provides the HTTP client for the external crew runtime.
//
// A kickoff streams newline-delimited JSON events back: agent_step and
// task_done events feed the caller's hooks, wait_for_user suspends the
// stream until the hook returns the user's reply (POSTed back under the
// run id), and a final result event carries the crew's output.
package crew

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/avencia/graphrun/internal/logging"
	"github.com/avencia/graphrun/pkg/ports"
)

// Client implements ports.CrewExecutor against the crew runtime's HTTP API.
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

// NewClient creates a crew client for the runtime at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		// Crews run for as long as their agents need; the stream itself is
		// bounded by ctx, not by a client timeout.
		httpc:  &http.Client{Timeout: 0},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type kickoffBody struct {
	RunID string `json:"run_id"`
	ports.CrewRequest
}

// event is one NDJSON line of the kickoff stream.
type event struct {
	Type    string            `json:"type"`
	Payload map[string]any    `json:"payload,omitempty"`
	Prompt  string            `json:"prompt,omitempty"`
	Result  *ports.CrewResult `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Kickoff starts the crew and consumes its event stream until the result
// event. Hook callbacks run inline: a slow WaitForUser suspends the crew,
// which is exactly the wait-for-user contract.
func (c *Client) Kickoff(ctx context.Context, req ports.CrewRequest, hooks ports.CrewHooks) (ports.CrewResult, error) {
	runID := uuid.NewString()

	body, err := sonic.Marshal(kickoffBody{RunID: runID, CrewRequest: req})
	if err != nil {
		return ports.CrewResult{}, fmt.Errorf("failed to encode kickoff request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/kickoff", bytes.NewReader(body))
	if err != nil {
		return ports.CrewResult{}, fmt.Errorf("failed to build kickoff request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	c.logger.Debug("crew kickoff", "crew_id", req.CrewID, "run_id", runID)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return ports.CrewResult{}, fmt.Errorf("crew kickoff failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ports.CrewResult{}, fmt.Errorf("crew runtime returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := sonic.Unmarshal(line, &ev); err != nil {
			c.logger.Warn("discarding malformed crew event", "run_id", runID, "err", err)
			continue
		}

		switch ev.Type {
		case "agent_step":
			if hooks.OnAgentStep != nil {
				hooks.OnAgentStep(ctx, ev.Payload)
			}
		case "task_done":
			if hooks.OnTaskDone != nil {
				hooks.OnTaskDone(ctx, ev.Payload)
			}
		case "wait_for_user":
			if hooks.WaitForUser == nil {
				return ports.CrewResult{}, fmt.Errorf("crew requested user input but no waiter is configured")
			}
			text, err := hooks.WaitForUser(ctx, ev.Prompt)
			if err != nil {
				return ports.CrewResult{}, err
			}
			if err := c.resume(ctx, runID, text); err != nil {
				return ports.CrewResult{}, err
			}
		case "error":
			return ports.CrewResult{}, fmt.Errorf("crew execution failed: %s", ev.Error)
		case "result":
			if ev.Result == nil {
				return ports.CrewResult{}, fmt.Errorf("crew result event without a result")
			}
			return *ev.Result, nil
		default:
			c.logger.Debug("ignoring unknown crew event", "run_id", runID, "type", ev.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return ports.CrewResult{}, fmt.Errorf("crew stream broken: %w", err)
	}
	return ports.CrewResult{}, fmt.Errorf("crew stream ended without a result")
}

// resume delivers the user's reply to a suspended run.
func (c *Client) resume(ctx context.Context, runID, text string) error {
	body, err := sonic.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode resume request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs/"+runID+"/resume", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build resume request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpc := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to resume crew run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("crew runtime rejected resume with status %d", resp.StatusCode)
	}
	return nil
}

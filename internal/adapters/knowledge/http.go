// Package knowledge provides the HTTP client for the knowledge-base search
// service used to augment user replies.
package knowledge

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
)

// Client implements ports.KnowledgeSearcher.
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

// NewClient creates a knowledge client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	CollectionID      string  `json:"collection_id"`
	Query             string  `json:"query"`
	Limit             int     `json:"limit"`
	DistanceThreshold float64 `json:"distance_threshold"`
}

type searchResponse struct {
	Results []string `json:"results"`
}

// Search returns up to limit snippets from the collection ranked by
// similarity to the query.
func (c *Client) Search(ctx context.Context, collectionID, query string, limit int, distanceThreshold float64) ([]string, error) {
	body, err := sonic.Marshal(searchRequest{
		CollectionID:      collectionID,
		Query:             query,
		Limit:             limit,
		DistanceThreshold: distanceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge service returned status %d: %s", resp.StatusCode, raw)
	}

	var out searchResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	c.logger.Debug("knowledge search", "collection", collectionID, "hits", len(out.Results))
	return out.Results, nil
}

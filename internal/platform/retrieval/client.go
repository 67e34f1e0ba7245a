// Package retrieval is the HTTP client for the external retrieval service.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/retrieval"
	"github.com/phrazzld/quill/internal/telemetry"
)

// maxErrorBody bounds how much of an error response is kept for the message.
const maxErrorBody = 512

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

type searchResponse struct {
	Chunks []retrieval.Chunk `json:"chunks"`
}

// Client implements retrieval.Searcher over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ retrieval.Searcher = (*Client)(nil)

// NewClient creates a client for the service at baseURL. timeout bounds each request.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("retrieval base URL cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = timeout
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
		logger:     logger.With(slog.String("component", "retrieval_client")),
	}, nil
}

// Search posts {query, topK} to /search. Network failures, 429 and 5xx
// responses wrap generation.ErrTransientFailure.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]retrieval.Chunk, error) {
	body, err := json.Marshal(searchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	telemetry.ObserveExternalCall("retrieval_search", start)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieval search: %v", generation.ErrTransientFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("retrieval search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %s", generation.ErrTransientFailure, msg)
		}
		return nil, fmt.Errorf("%s", msg)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	c.logger.DebugContext(ctx, "retrieval search completed",
		slog.Int("chunks", len(out.Chunks)),
		slog.Duration("elapsed", time.Since(start)))
	return out.Chunks, nil
}

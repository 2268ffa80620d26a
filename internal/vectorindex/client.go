package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// upsertBatchLimit is the largest vector count accepted per upsert call.
const upsertBatchLimit = 100

// Vector is one embedded document as stored in the index.
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Client talks to a Pinecone-compatible data plane over REST.
type Client struct {
	host       string
	apiKey     string
	namespace  string
	httpClient *http.Client
}

func NewClient(host, apiKey, namespace string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		host:       normalizeHost(host),
		apiKey:     apiKey,
		namespace:  namespace,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func normalizeHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host != "" && !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return host
}

// Upsert writes vectors into the configured namespace, splitting large inputs.
func (c *Client) Upsert(ctx context.Context, vectors []Vector) error {
	for start := 0; start < len(vectors); start += upsertBatchLimit {
		end := start + upsertBatchLimit
		if end > len(vectors) {
			end = len(vectors)
		}
		body := map[string]any{
			"vectors":   vectors[start:end],
			"namespace": c.namespace,
		}
		if err := c.post(ctx, "/vectors/upsert", body); err != nil {
			return fmt.Errorf("upsert vectors failed: %w", err)
		}
	}
	return nil
}

// DeleteByFilter removes every vector whose metadata matches filter.
func (c *Client) DeleteByFilter(ctx context.Context, filter map[string]any) error {
	if len(filter) == 0 {
		return fmt.Errorf("refusing to delete with an empty filter")
	}
	body := map[string]any{
		"filter":    filter,
		"namespace": c.namespace,
	}
	if err := c.post(ctx, "/vectors/delete", body); err != nil {
		return fmt.Errorf("delete vectors failed: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	if c.host == "" {
		return fmt.Errorf("vector index host is not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("X-Pinecone-API-Version", "2024-07")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("response status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

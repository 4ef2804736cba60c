package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GraphClient queries the knowledge graph search endpoint.
type GraphClient struct {
	url  string
	http *http.Client
}

func NewGraphClient(searchURL string, httpClient *http.Client) *GraphClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &GraphClient{url: searchURL, http: httpClient}
}

type searchRequest struct {
	Query      string   `json:"query"`
	Limit      int      `json:"limit"`
	NodeLabels []string `json:"node_labels,omitempty"`
	EdgeTypes  []string `json:"edge_types,omitempty"`
}

// Search returns the raw search results for query.
func (c *GraphClient) Search(ctx context.Context, query string, limit int, nodeLabels, edgeTypes []string) (json.RawMessage, error) {
	if c.url == "" {
		return nil, fmt.Errorf("graph search is not configured")
	}
	body, err := json.Marshal(searchRequest{Query: query, Limit: limit, NodeLabels: nodeLabels, EdgeTypes: edgeTypes})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph search: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("graph search: read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph search: status %d", resp.StatusCode)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("graph search: invalid JSON response")
	}
	return json.RawMessage(raw), nil
}

package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// GraphSearcher is the search surface of GraphClient.
type GraphSearcher interface {
	Search(ctx context.Context, query string, limit int, nodeLabels, edgeTypes []string) (json.RawMessage, error)
}

const (
	// GraphQueryPath runs a natural language query and strips embeddings.
	GraphQueryPath = "/api/v1/graph/query"
	// GraphSearchPath passes labels and edge types through unchanged.
	GraphSearchPath = "/api/v1/graph/search"

	defaultAPILimit = 10
	maxAPILimit     = 100
)

type apiRequest struct {
	Query      string   `json:"query"`
	Limit      int      `json:"limit"`
	NodeLabels []string `json:"node_labels"`
	EdgeTypes  []string `json:"edge_types"`
}

// NewGraphAPI serves the graph query and search endpoints. Authentication is
// the caller's concern.
func NewGraphAPI(graph GraphSearcher) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(GraphQueryPath, func(w http.ResponseWriter, r *http.Request) {
		serveGraph(w, r, graph, true)
	})
	mux.HandleFunc(GraphSearchPath, func(w http.ResponseWriter, r *http.Request) {
		serveGraph(w, r, graph, false)
	})
	return mux
}

func serveGraph(w http.ResponseWriter, r *http.Request, graph GraphSearcher, query bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req apiRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeAPIError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultAPILimit
	}
	if req.Limit > maxAPILimit {
		req.Limit = maxAPILimit
	}
	if query {
		req.NodeLabels, req.EdgeTypes = nil, nil
	}

	raw, err := graph.Search(r.Context(), req.Query, req.Limit, req.NodeLabels, req.EdgeTypes)
	if err != nil {
		slog.Error("API: graph search failed", "path", r.URL.Path, "error", err)
		writeAPIError(w, http.StatusInternalServerError, "graph search failed")
		return
	}
	if query {
		raw = withoutAttributes(raw)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

// withoutAttributes drops the "attributes" member (embeddings) from every
// result object. Non-array payloads pass through.
func withoutAttributes(raw json.RawMessage) json.RawMessage {
	var results []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &results); err != nil {
		return raw
	}
	for _, r := range results {
		delete(r, "attributes")
	}
	out, err := json.Marshal(results)
	if err != nil {
		return raw
	}
	return out
}

func writeAPIError(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

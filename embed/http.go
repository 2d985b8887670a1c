package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/havenlab/haven"
)

// HTTP is an embedding backend speaking the Ollama embedding API on a
// loopback endpoint: POST /api/embed with {"model","input":[...]}.
type HTTP struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

var _ haven.Embedder = (*HTTP)(nil)

// HTTPOption configures an HTTP backend.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client. Useful for tests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// NewHTTP creates an HTTP embedding backend.
//
// baseURL is the service base (e.g. "http://127.0.0.1:11434"); the
// /api/embed path is appended automatically. dim is the expected vector
// size of the chosen model.
func NewHTTP(baseURL, model string, dim int, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends the batch to the service and returns L2-normalized vectors.
func (h *HTTP) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: h.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &haven.ErrUpstream{Endpoint: h.baseURL, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &haven.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(er.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(er.Embeddings), len(texts))
	}
	for _, v := range er.Embeddings {
		Normalize(v)
	}
	return er.Embeddings, nil
}

// Dimensions returns the embedding vector size.
func (h *HTTP) Dimensions() int { return h.dim }

// Name returns "http".
func (h *HTTP) Name() string { return "http" }

// Probe reports whether the service answers within the timeout. Used once
// at selection time; transient failures afterwards degrade per call
// instead of re-running selection.
func (h *HTTP) Probe(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

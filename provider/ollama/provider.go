// Package ollama implements haven.Provider against a local Ollama-style
// inference server: POST /api/chat with newline-delimited JSON streaming
// and GET /api/tags for model discovery. The server is expected on
// loopback; there is no authentication.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/havenlab/haven"
)

// DefaultBaseURL is the standard local inference endpoint.
const DefaultBaseURL = "http://127.0.0.1:11434"

// DefaultTimeout bounds one streaming request end to end.
const DefaultTimeout = 300 * time.Second

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// Provider talks to one local inference server.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Provider. model is the default model, overridable per
// request.
func New(baseURL, model string, opts ...Option) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	p := &Provider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "ollama".
func (p *Provider) Name() string { return "ollama" }

// chatBody is the wire request for /api/chat.
type chatBody struct {
	Model    string              `json:"model"`
	Messages []haven.ChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  *chatOptions        `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// chatChunk is one newline-delimited JSON object on the streaming
// response. Non-streaming responses use the same shape with done=true.
type chatChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
}

// Chat sends a non-streaming request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req haven.ChatRequest) (haven.ChatResponse, error) {
	resp, err := p.send(ctx, p.buildBody(req, false))
	if err != nil {
		return haven.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return haven.ChatResponse{}, p.httpErr(resp)
	}

	var chunk chatChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return haven.ChatResponse{}, &haven.ErrUpstream{Endpoint: p.baseURL, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return haven.ChatResponse{
		Content: chunk.Message.Content,
		Model:   chunk.Model,
		Usage:   usageOf(chunk, req, chunk.Message.Content),
	}, nil
}

// ChatStream streams token chunks into ch and returns the accumulated
// response. ch is closed when the stream ends, successfully or not.
// Cancelling ctx aborts the upstream read at the next chunk boundary.
func (p *Provider) ChatStream(ctx context.Context, req haven.ChatRequest, ch chan<- haven.StreamEvent) (haven.ChatResponse, error) {
	defer close(ch)
	start := time.Now()

	resp, err := p.send(ctx, p.buildBody(req, true))
	if err != nil {
		return haven.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return haven.ChatResponse{}, p.httpErr(resp)
	}

	ch <- haven.StreamEvent{Type: haven.StreamStart}

	var buf bytes.Buffer
	var last chatChunk
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return haven.ChatResponse{}, ctx.Err()
		default:
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return haven.ChatResponse{}, &haven.ErrUpstream{Endpoint: p.baseURL, Message: fmt.Sprintf("decode chunk: %v", err)}
		}
		if chunk.Message.Content != "" {
			buf.WriteString(chunk.Message.Content)
			ch <- haven.StreamEvent{Type: haven.StreamDelta, Content: chunk.Message.Content}
		}
		if chunk.Done {
			last = chunk
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return haven.ChatResponse{}, &haven.ErrUpstream{Endpoint: p.baseURL, Message: fmt.Sprintf("read stream: %v", err)}
	}
	if !last.Done {
		return haven.ChatResponse{}, &haven.ErrUpstream{Endpoint: p.baseURL, Message: "stream ended without done marker"}
	}

	full := buf.String()
	p.logger.Debug("ollama: stream complete", "model", last.Model, "chars", len(full), "duration", time.Since(start))
	return haven.ChatResponse{
		Content: full,
		Model:   last.Model,
		Usage:   usageOf(last, req, full),
	}, nil
}

// tagsResponse is the wire shape of GET /api/tags.
type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

// ListModels queries /api/tags.
func (p *Provider) ListModels(ctx context.Context) ([]haven.ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, &haven.ErrUpstream{Endpoint: p.baseURL, Message: fmt.Sprintf("create request: %v", err)}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &haven.ErrUpstream{Endpoint: p.baseURL, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.httpErr(resp)
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &haven.ErrUpstream{Endpoint: p.baseURL, Message: fmt.Sprintf("decode tags: %v", err)}
	}
	models := make([]haven.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, haven.ModelInfo{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt})
	}
	return models, nil
}

func (p *Provider) buildBody(req haven.ChatRequest, stream bool) chatBody {
	model := req.Model
	if model == "" {
		model = p.model
	}
	msgs := req.Messages
	if req.System != "" {
		msgs = append([]haven.ChatMessage{{Role: "system", Content: req.System}}, msgs...)
	}
	body := chatBody{Model: model, Messages: msgs, Stream: stream}
	if req.Temperature != 0 || req.MaxTokens != 0 {
		body.Options = &chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	return body
}

func (p *Provider) send(ctx context.Context, body chatBody) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &haven.ErrUpstream{Endpoint: p.baseURL, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, &haven.ErrUpstream{Endpoint: p.baseURL, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		cancel()
		return nil, &haven.ErrUpstream{Endpoint: p.baseURL, Message: err.Error()}
	}
	// The timeout covers the whole body read; cancel fires when the body
	// is drained or abandoned.
	resp.Body = cancelBody{resp.Body, cancel}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b cancelBody) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}

func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &haven.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
}

// usageOf prefers upstream eval counts, falling back to word counts for
// servers that do not report usage.
func usageOf(chunk chatChunk, req haven.ChatRequest, content string) haven.Usage {
	u := haven.Usage{InputTokens: chunk.PromptEvalCount, OutputTokens: chunk.EvalCount}
	if u.OutputTokens == 0 {
		u.OutputTokens = haven.WordCount(content)
	}
	if u.InputTokens == 0 {
		for _, m := range req.Messages {
			u.InputTokens += haven.WordCount(m.Content)
		}
	}
	return u
}

// Compile-time interface check.
var _ haven.Provider = (*Provider)(nil)

package haven

import "context"

// Provider abstracts the local inference server.
type Provider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream streams events into ch, then returns the final response with
	// usage stats. The provider closes ch when the stream ends.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error)
	// ListModels returns the models the server has available.
	ListModels(ctx context.Context) ([]ModelInfo, error)
	// Name returns the provider name (e.g. "ollama").
	Name() string
}

// Embedder abstracts text embedding.
type Embedder interface {
	// Embed returns embedding vectors for the given texts. Vectors are
	// L2-normalized to unit length.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the backend name (e.g. "local", "hash").
	Name() string
}

// ChatMessage is one turn in a provider request.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic chat request.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	// System is prepended as a system turn when non-empty.
	System string `json:"system,omitempty"`
	// Temperature of 0 means provider default.
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Usage reports token counts for one request. For local models that do not
// report usage, counts are word-count approximations.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is the final result of a chat request.
type ChatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// ModelInfo describes one model available on the inference server.
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

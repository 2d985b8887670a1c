package embed

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/havenlab/haven"
)

// Config controls backend selection.
type Config struct {
	// Backend forces a specific backend: "accelerated", "http", or "hash".
	// Empty means probe in preference order.
	Backend string
	// BaseURL of the loopback embedding service.
	BaseURL string
	// Model used by the HTTP backend.
	Model string
	// Dimensions of the HTTP/accelerated vectors. The hash fallback keeps
	// its own dimensionality when it is the primary.
	Dimensions int
	// Salt for the hash fallback.
	Salt string
	// ProbeTimeout bounds the HTTP reachability probe. Default 2s.
	ProbeTimeout time.Duration
	// Logger for selection and degradation warnings. Nil discards.
	Logger *slog.Logger
}

// FromEnv builds a Config from recognized environment variables, with
// loopback defaults for everything else. EMBEDDING_BACKEND overrides
// selection.
func FromEnv() Config {
	return Config{
		Backend: os.Getenv("EMBEDDING_BACKEND"),
		BaseURL: "http://127.0.0.1:11434",
		Model:   "nomic-embed-text",
	}
}

// Selector is the single embedding entry point. The primary backend is
// resolved once at construction; on a per-call failure it degrades to the
// hash fallback for that call and logs a warning, without re-running
// selection.
type Selector struct {
	primary  haven.Embedder
	fallback *Hash
	logger   *slog.Logger
}

var _ haven.Embedder = (*Selector)(nil)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Select resolves the backend preference order once and returns the
// selector: accelerated if registered and healthy, the HTTP service if it
// answers the probe, the hash fallback otherwise.
func Select(cfg Config) *Selector {
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}

	fallback := NewHash(cfg.Dimensions, cfg.Salt)
	s := &Selector{fallback: fallback, logger: logger}

	pick := func(name string) haven.Embedder {
		switch name {
		case "accelerated":
			if a := accelerated(); a != nil {
				return &accelEmbedder{a: a}
			}
			logger.Warn("embed: accelerated backend unavailable")
			return nil
		case "http":
			h := NewHTTP(cfg.BaseURL, cfg.Model, cfg.Dimensions)
			if h.Probe(context.Background(), cfg.ProbeTimeout) {
				return h
			}
			logger.Warn("embed: http backend unreachable", "base_url", cfg.BaseURL)
			return nil
		case "hash":
			return fallback
		}
		return nil
	}

	if cfg.Backend != "" {
		if p := pick(cfg.Backend); p != nil {
			s.primary = p
		}
	}
	if s.primary == nil {
		for _, name := range []string{"accelerated", "http", "hash"} {
			if p := pick(name); p != nil {
				s.primary = p
				break
			}
		}
	}
	logger.Info("embed: backend selected", "backend", s.primary.Name())
	return s
}

// Embed runs the batch through the primary backend, degrading to the hash
// fallback for this call on error. Degradation never propagates the
// primary's error to the caller.
func (s *Selector) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.primary == s.fallback {
		return s.fallback.Embed(ctx, texts)
	}
	vecs, err := s.primary.Embed(ctx, texts)
	if err != nil {
		s.logger.Warn("embed: primary backend failed, using hash fallback", "backend", s.primary.Name(), "error", err)
		return s.fallback.Embed(ctx, texts)
	}
	return vecs, nil
}

// EmbedOne embeds a single text.
func (s *Selector) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimensions returns the primary backend's vector size.
func (s *Selector) Dimensions() int { return s.primary.Dimensions() }

// Name returns the primary backend's name.
func (s *Selector) Name() string { return s.primary.Name() }

// accelEmbedder adapts a registered Accelerated backend to haven.Embedder.
type accelEmbedder struct {
	a Accelerated
}

func (e *accelEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.a.Embed(texts)
	if err != nil {
		return nil, err
	}
	for _, v := range vecs {
		Normalize(v)
	}
	return vecs, nil
}

func (e *accelEmbedder) Dimensions() int { return e.a.Dimensions() }
func (e *accelEmbedder) Name() string    { return "accelerated" }

// Package index implements semantic retrieval over persisted messages and
// document chunks: query-by-text search with a time-bounded result cache,
// and the pre-computation hook that attaches embeddings to stored messages.
//
// Search is only as fresh as the index: messages whose embedding has not
// been computed yet simply do not appear in results. There is no on-the-fly
// embedding of candidates.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/havenlab/haven"
)

const (
	// DefaultCandidates is the number of most-recent embedded messages
	// pulled per search.
	DefaultCandidates = 200
	// DefaultThreshold is the minimum cosine similarity of a hit.
	DefaultThreshold = 0.3
	// DefaultCacheTTL bounds result cache freshness.
	DefaultCacheTTL = 60 * time.Second
	// MinIndexRunes is the content length floor below which messages are
	// not embedded.
	MinIndexRunes = 10
)

// Option configures an Index.
type Option func(*Index)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// WithCandidates overrides the candidate pool size.
func WithCandidates(k int) Option {
	return func(ix *Index) { ix.candidates = k }
}

// WithCacheTTL overrides the result cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(ix *Index) { ix.ttl = ttl }
}

// Index is the semantic search engine over one MemoryStore.
type Index struct {
	store      haven.MemoryStore
	embedder   haven.Embedder
	candidates int
	ttl        time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	// now is replaceable in tests.
	now func() time.Time
}

type cacheEntry struct {
	hits []haven.Hit
	at   time.Time
}

// New creates an Index over the given store and embedder.
func New(store haven.MemoryStore, embedder haven.Embedder, opts ...Option) *Index {
	ix := &Index{
		store:      store,
		embedder:   embedder,
		candidates: DefaultCandidates,
		ttl:        DefaultCacheTTL,
		logger:     nopLogger,
		cache:      make(map[string]cacheEntry),
		now:        time.Now,
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Search returns the user's most similar embedded messages for a query
// text. threshold <= 0 selects DefaultThreshold. Results are cached per
// (query, scope, limit) for the configured TTL.
func (ix *Index) Search(ctx context.Context, queryText string, limit int, userScope string, threshold float32) ([]haven.Hit, error) {
	start := time.Now()
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	key := fingerprint(queryText, userScope, limit)

	ix.mu.Lock()
	if e, ok := ix.cache[key]; ok && ix.now().Sub(e.at) < ix.ttl {
		ix.mu.Unlock()
		ix.logger.Debug("index: search cache hit", "scope", userScope, "limit", limit)
		return e.hits, nil
	}
	ix.mu.Unlock()

	vecs, err := ix.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, haven.Wrap(haven.CodeEmbedding, "embed query", err)
	}
	query := vecs[0]

	candidates, err := ix.store.RecentEmbedded(ctx, userScope, ix.candidates)
	if err != nil {
		return nil, haven.Wrap(haven.CodeStore, "load search candidates", err)
	}

	hits := make([]haven.Hit, 0, limit)
	for _, m := range candidates {
		sim := dot(query, m.Embedding)
		if sim < threshold {
			continue
		}
		hits = append(hits, haven.Hit{
			SessionID:  m.SessionID,
			MessageID:  m.ID,
			Excerpt:    excerpt(m.Content),
			Similarity: sim,
			CreatedAt:  m.CreatedAt,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].CreatedAt > hits[j].CreatedAt
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	ix.mu.Lock()
	ix.cache[key] = cacheEntry{hits: hits, at: ix.now()}
	ix.mu.Unlock()

	ix.logger.Debug("index: search ok", "scope", userScope, "scanned", len(candidates), "returned", len(hits), "duration", time.Since(start))
	return hits, nil
}

// SearchChunks returns the top-k document chunks of one session by
// similarity to a caller-supplied query vector.
func (ix *Index) SearchChunks(ctx context.Context, sessionID string, queryVector []float32, topK int) ([]haven.ChunkHit, error) {
	start := time.Now()
	chunks, err := ix.store.GetChunks(ctx, sessionID)
	if err != nil {
		return nil, haven.Wrap(haven.CodeStore, "load session chunks", err)
	}

	var hits []haven.ChunkHit
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		hits = append(hits, haven.ChunkHit{Chunk: c, Similarity: dot(queryVector, c.Embedding)})
	}
	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	ix.logger.Debug("index: chunk search ok", "session_id", sessionID, "returned", len(hits), "duration", time.Since(start))
	return hits, nil
}

// IndexMessage computes and stores the embedding for a persisted message.
// Messages below the length floor or with a non-conversational role are
// skipped silently; the skip is not an error.
func (ix *Index) IndexMessage(ctx context.Context, msg haven.Message) error {
	if msg.Role != "user" && msg.Role != "assistant" {
		return nil
	}
	if utf8.RuneCountInString(msg.Content) < MinIndexRunes {
		return nil
	}
	vecs, err := ix.embedder.Embed(ctx, []string{msg.Content})
	if err != nil {
		return haven.Wrap(haven.CodeEmbedding, "embed message", err)
	}
	if err := ix.store.StoreMessageEmbedding(ctx, msg.ID, msg.SessionID, vecs[0]); err != nil {
		return haven.Wrap(haven.CodeStore, "store message embedding", err)
	}
	ix.logger.Debug("index: message indexed", "id", msg.ID, "dim", len(vecs[0]))
	return nil
}

// InvalidateCache drops all cached results. Called after deletes so
// stale hits do not outlive their messages.
func (ix *Index) InvalidateCache() {
	ix.mu.Lock()
	ix.cache = make(map[string]cacheEntry)
	ix.mu.Unlock()
}

// fingerprint derives the cache key for one (query, scope, limit) triple.
func fingerprint(query, scope string, limit int) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(scope))
	fmt.Fprintf(h, "\x00%d", limit)
	return hex.EncodeToString(h.Sum(nil))
}

// dot computes the dot product. Vectors from the selector are unit-norm,
// so this equals cosine similarity.
func dot(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// excerpt bounds a hit's content preview.
func excerpt(s string) string {
	const max = 200
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

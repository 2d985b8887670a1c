package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/havenlab/haven"
)

// fakeStore implements the slice of haven.MemoryStore the index touches.
type fakeStore struct {
	haven.MemoryStore
	embedded map[string][]float32
	recent   []haven.Message
	chunks   []haven.Chunk
	calls    int
}

func (f *fakeStore) RecentEmbedded(_ context.Context, _ string, _ int) ([]haven.Message, error) {
	f.calls++
	return f.recent, nil
}

func (f *fakeStore) GetChunks(_ context.Context, _ string) ([]haven.Chunk, error) {
	return f.chunks, nil
}

func (f *fakeStore) StoreMessageEmbedding(_ context.Context, messageID, _ string, vec []float32) error {
	if f.embedded == nil {
		f.embedded = make(map[string][]float32)
	}
	f.embedded[messageID] = vec
	return nil
}

// fixedEmbedder returns the same vector for every input.
type fixedEmbedder struct {
	vec []float32
	err error
}

func (f fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}
func (f fixedEmbedder) Dimensions() int { return len(f.vec) }
func (f fixedEmbedder) Name() string    { return "fixed" }

func TestSearchThresholdAndOrder(t *testing.T) {
	store := &fakeStore{recent: []haven.Message{
		{ID: "m1", SessionID: "s1", Content: "close match", Embedding: []float32{1, 0}, CreatedAt: 100},
		{ID: "m2", SessionID: "s1", Content: "partial match", Embedding: []float32{0.7, 0.714}, CreatedAt: 200},
		{ID: "m3", SessionID: "s2", Content: "orthogonal", Embedding: []float32{0, 1}, CreatedAt: 300},
	}}
	ix := New(store, fixedEmbedder{vec: []float32{1, 0}})

	hits, err := ix.Search(context.Background(), "query", 10, "u1", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// m3 is below the 0.3 threshold.
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].MessageID != "m1" || hits[1].MessageID != "m2" {
		t.Errorf("expected [m1 m2] by similarity, got [%s %s]", hits[0].MessageID, hits[1].MessageID)
	}
}

func TestSearchTieBreaksNewer(t *testing.T) {
	store := &fakeStore{recent: []haven.Message{
		{ID: "old", SessionID: "s1", Content: "same", Embedding: []float32{1, 0}, CreatedAt: 100},
		{ID: "new", SessionID: "s1", Content: "same", Embedding: []float32{1, 0}, CreatedAt: 200},
	}}
	ix := New(store, fixedEmbedder{vec: []float32{1, 0}})

	hits, _ := ix.Search(context.Background(), "q", 1, "u1", 0)
	if len(hits) != 1 || hits[0].MessageID != "new" {
		t.Fatalf("expected newer message to win the tie, got %v", hits)
	}
}

func TestSearchCache(t *testing.T) {
	store := &fakeStore{recent: []haven.Message{
		{ID: "m1", SessionID: "s1", Content: "x", Embedding: []float32{1, 0}, CreatedAt: 100},
	}}
	ix := New(store, fixedEmbedder{vec: []float32{1, 0}})

	now := time.Unix(1000, 0)
	ix.now = func() time.Time { return now }

	ix.Search(context.Background(), "q", 5, "u1", 0)
	ix.Search(context.Background(), "q", 5, "u1", 0)
	if store.calls != 1 {
		t.Fatalf("expected 1 store scan, got %d", store.calls)
	}

	// A different limit is a different fingerprint.
	ix.Search(context.Background(), "q", 6, "u1", 0)
	if store.calls != 2 {
		t.Fatalf("expected 2 store scans, got %d", store.calls)
	}

	// Expiry forces a re-scan.
	now = now.Add(DefaultCacheTTL + time.Second)
	ix.Search(context.Background(), "q", 5, "u1", 0)
	if store.calls != 3 {
		t.Fatalf("expected 3 store scans after TTL, got %d", store.calls)
	}
}

func TestSearchEmbedderError(t *testing.T) {
	store := &fakeStore{}
	ix := New(store, fixedEmbedder{err: errors.New("backend down")})

	_, err := ix.Search(context.Background(), "q", 5, "u1", 0)
	var herr *haven.Error
	if !errors.As(err, &herr) || herr.Code != haven.CodeEmbedding {
		t.Fatalf("expected EMBEDDING error, got %v", err)
	}
}

func TestSearchChunks(t *testing.T) {
	store := &fakeStore{chunks: []haven.Chunk{
		{ID: "c1", SessionID: "s1", Content: "alpha", Embedding: []float32{1, 0}},
		{ID: "c2", SessionID: "s1", Content: "beta", Embedding: []float32{0.5, 0.866}},
		{ID: "c3", SessionID: "s1", Content: "unembedded"},
	}}
	ix := New(store, fixedEmbedder{vec: []float32{1, 0}})

	hits, err := ix.SearchChunks(context.Background(), "s1", []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Chunk.ID != "c1" {
		t.Errorf("expected c1 first, got %s", hits[0].Chunk.ID)
	}
}

func TestIndexMessageLengthFloor(t *testing.T) {
	store := &fakeStore{}
	ix := New(store, fixedEmbedder{vec: []float32{1, 0}})
	ctx := context.Background()

	// Nine codepoints: skipped.
	if err := ix.IndexMessage(ctx, haven.Message{ID: "short", SessionID: "s", Role: "user", Content: "123456789"}); err != nil {
		t.Fatalf("IndexMessage: %v", err)
	}
	if _, ok := store.embedded["short"]; ok {
		t.Fatal("short message should not be embedded")
	}

	// Ten codepoints (multi-byte runes count as one): embedded.
	if err := ix.IndexMessage(ctx, haven.Message{ID: "ok", SessionID: "s", Role: "user", Content: "日本語のテキストです!"}); err != nil {
		t.Fatalf("IndexMessage: %v", err)
	}
	if _, ok := store.embedded["ok"]; !ok {
		t.Fatal("ten-codepoint message should be embedded")
	}

	// System turns are never indexed.
	ix.IndexMessage(ctx, haven.Message{ID: "sys", SessionID: "s", Role: "system", Content: "plenty long system prompt"})
	if _, ok := store.embedded["sys"]; ok {
		t.Fatal("system message should not be embedded")
	}
}

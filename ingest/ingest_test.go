package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/havenlab/haven"
	"github.com/havenlab/haven/embed"
	"github.com/havenlab/haven/store/sqlite"
)

func testIngestor(t *testing.T, opts ...Option) (*Ingestor, *sqlite.MemoryStore) {
	t.Helper()
	store := sqlite.NewMemoryStore(filepath.Join(t.TempDir(), "chat_memory.db"))
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("store init: %v", err)
	}
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	if err := store.CreateSession(ctx, haven.Session{ID: "s1", OwnerID: "u1", DefaultModel: "llama3"}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return New(store, embed.NewHash(32, ""), opts...), store
}

func TestIngestTxtSingleChunk(t *testing.T) {
	in, store := testIngestor(t)
	ctx := context.Background()

	chunks, err := in.IngestFile(ctx, "s1", "notes.txt", []byte("Use OAuth2 password flow"))
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Content != "Use OAuth2 password flow" || c.ChunkIndex != 0 || c.TotalChunks != 1 {
		t.Errorf("unexpected chunk: %+v", c)
	}
	if len(c.Embedding) != 32 {
		t.Errorf("chunk should be embedded, dim %d", len(c.Embedding))
	}

	stored, err := store.GetChunks(ctx, "s1")
	if err != nil || len(stored) != 1 {
		t.Fatalf("GetChunks: %v %v", stored, err)
	}
	if stored[0].FileID != c.FileID {
		t.Errorf("file id mismatch")
	}
}

func TestIngestChunkRangeContiguous(t *testing.T) {
	in, store := testIngestor(t, WithChunkSize(100, 20))
	ctx := context.Background()

	long := strings.Repeat("abcdefghij", 50) // 500 runes
	chunks, err := in.IngestFile(ctx, "s1", "big.txt", []byte(long))
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i || c.TotalChunks != len(chunks) {
			t.Errorf("chunk %d has index %d/%d", i, c.ChunkIndex, c.TotalChunks)
		}
	}

	stored, _ := store.GetChunks(ctx, "s1")
	if len(stored) != len(chunks) {
		t.Errorf("stored %d of %d chunks", len(stored), len(chunks))
	}
}

func TestIngestMarkdownStripsMarkup(t *testing.T) {
	in, _ := testIngestor(t)
	ctx := context.Background()

	md := "# Auth Guide\n\nUse **OAuth2** with the `password` flow.\n\n```\ncurl -X POST /token\n```\n"
	chunks, err := in.IngestFile(ctx, "s1", "guide.md", []byte(md))
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	got := chunks[0].Content
	if strings.Contains(got, "**") || strings.Contains(got, "# ") {
		t.Errorf("markup survived extraction: %q", got)
	}
	for _, want := range []string{"Auth Guide", "OAuth2", "password", "curl -X POST /token"} {
		if !strings.Contains(got, want) {
			t.Errorf("extracted text missing %q: %q", want, got)
		}
	}
}

func TestIngestUnsupportedType(t *testing.T) {
	in, _ := testIngestor(t)
	_, err := in.IngestFile(context.Background(), "s1", "binary.exe", []byte{0x4d, 0x5a})
	var herr *haven.Error
	if !errors.As(err, &herr) || herr.Code != haven.CodeValidation {
		t.Fatalf("expected VALIDATION error, got %v", err)
	}
	if herr.Suggestion == "" {
		t.Error("error should carry a suggestion")
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	in, _ := testIngestor(t)
	_, err := in.IngestFile(context.Background(), "s1", "empty.txt", []byte("   \n  "))
	var herr *haven.Error
	if !errors.As(err, &herr) || herr.Code != haven.CodeValidation {
		t.Fatalf("expected VALIDATION error, got %v", err)
	}
}

func TestIngestRetainsRawUpload(t *testing.T) {
	dir := t.TempDir()
	in, _ := testIngestor(t, WithUploadDir(dir))

	chunks, err := in.IngestFile(context.Background(), "s1", "Notes.TXT", []byte("keep the original bytes"))
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, chunks[0].FileID+".txt"))
	if err != nil {
		t.Fatalf("raw upload not retained: %v", err)
	}
	if string(raw) != "keep the original bytes" {
		t.Errorf("retained bytes = %q", raw)
	}
}

func TestSplitText(t *testing.T) {
	parts := SplitText("", 100, 20)
	if parts != nil {
		t.Errorf("empty input should yield nil, got %v", parts)
	}

	parts = SplitText("short", 100, 20)
	if len(parts) != 1 || parts[0] != "short" {
		t.Errorf("short input should be one chunk: %v", parts)
	}

	s := strings.Repeat("x", 250)
	parts = SplitText(s, 100, 20)
	if len(parts) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(parts))
	}
	if len(parts[0]) != 100 || len(parts[1]) != 100 || len(parts[2]) != 90 {
		t.Errorf("unexpected chunk sizes: %d %d %d", len(parts[0]), len(parts[1]), len(parts[2]))
	}

	// Overlap: each chunk starts 80 runes after the previous one.
	joined := parts[0][80:] // == s[80:180]
	if parts[1][:20] != joined[:20] {
		t.Error("second chunk should repeat the first chunk's tail")
	}
}

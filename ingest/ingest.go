// Package ingest turns uploaded documents into embedded chunks: extract
// plain text by file type, split it into overlapping windows, embed each
// window, and bulk-store the result for per-session retrieval.
package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/havenlab/haven"
)

const (
	// DefaultChunkRunes is the chunk window size.
	DefaultChunkRunes = 1000
	// DefaultOverlapRunes is carried from the tail of one chunk into the
	// next so sentences split at a boundary stay searchable.
	DefaultOverlapRunes = 200
)

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingestor) { in.logger = l }
}

// WithChunkSize overrides window and overlap sizes, in runes. overlap
// must be smaller than size.
func WithChunkSize(size, overlap int) Option {
	return func(in *Ingestor) {
		if size > 0 && overlap >= 0 && overlap < size {
			in.chunkRunes = size
			in.overlapRunes = overlap
		}
	}
}

// WithUploadDir keeps the raw bytes of every ingested file under dir,
// named by file id plus the original extension. Retention failures are
// logged and do not fail the ingest; the chunks are the source of truth
// for retrieval.
func WithUploadDir(dir string) Option {
	return func(in *Ingestor) { in.uploadDir = dir }
}

// Ingestor runs the upload pipeline against one MemoryStore.
type Ingestor struct {
	store        haven.MemoryStore
	embedder     haven.Embedder
	chunkRunes   int
	overlapRunes int
	uploadDir    string
	logger       *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an Ingestor.
func New(store haven.MemoryStore, embedder haven.Embedder, opts ...Option) *Ingestor {
	in := &Ingestor{
		store:        store,
		embedder:     embedder,
		chunkRunes:   DefaultChunkRunes,
		overlapRunes: DefaultOverlapRunes,
		logger:       nopLogger,
		now:          time.Now,
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// IngestFile extracts, chunks, embeds, and stores one uploaded file for
// a session. All chunks share a fresh file id and form the contiguous
// index range 0..len-1. The store write is a single transaction: a
// failed upload leaves no partial chunk set behind.
func (in *Ingestor) IngestFile(ctx context.Context, sessionID, filename string, data []byte) ([]haven.Chunk, error) {
	start := time.Now()

	text, err := ExtractText(filename, data)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, haven.E(haven.CodeValidation, "document contains no extractable text").
			WithSuggestion("upload a text, markdown, HTML, or PDF file with textual content")
	}

	parts := SplitText(text, in.chunkRunes, in.overlapRunes)
	vecs, err := in.embedder.Embed(ctx, parts)
	if err != nil {
		return nil, haven.Wrap(haven.CodeEmbedding, "embed document chunks", err)
	}

	fileID := haven.NewID()
	now := in.now().Unix()
	chunks := make([]haven.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = haven.Chunk{
			ID:          haven.NewID(),
			SessionID:   sessionID,
			FileID:      fileID,
			Filename:    filename,
			ChunkIndex:  i,
			TotalChunks: len(parts),
			Content:     part,
			Embedding:   vecs[i],
			CreatedAt:   now,
		}
	}
	if err := in.store.StoreChunks(ctx, chunks); err != nil {
		return nil, haven.Wrap(haven.CodeStore, "store document chunks", err)
	}
	in.retainRaw(fileID, filename, data)

	in.logger.Debug("ingest: file stored", "session_id", sessionID, "filename", filename, "chunks", len(chunks), "duration", time.Since(start))
	return chunks, nil
}

// retainRaw writes the original upload to the configured directory.
func (in *Ingestor) retainRaw(fileID, filename string, data []byte) {
	if in.uploadDir == "" {
		return
	}
	name := fileID + strings.ToLower(filepath.Ext(filename))
	if err := os.WriteFile(filepath.Join(in.uploadDir, name), data, 0o600); err != nil {
		in.logger.Warn("ingest: raw upload retention failed", "file_id", fileID, "error", err)
	}
}

// SplitText windows s into chunks of at most size runes, each carrying
// the last overlap runes of its predecessor. The final window may be
// shorter; empty input yields no chunks.
func SplitText(s string, size, overlap int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkRunes
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var parts []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return parts
}

// Package sqlite implements the haven store contracts using pure-Go SQLite.
// Embeddings are stored as JSON text and vector search is done in-process
// with brute-force cosine similarity. Zero CGO required.
//
// Stores are grouped into database files (chat memory, app data, audit log)
// so one hot table never blocks the others.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a SQLite-backed store.
type Option func(*base)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(b *base) { b.logger = l }
}

// base is the shared plumbing of every SQLite-backed store.
type base struct {
	db     *sql.DB
	logger *slog.Logger
}

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// open creates the shared connection for a store at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
// WAL journal mode admits concurrent readers while a write is in flight;
// synchronous=NORMAL is the durability/throughput point WAL is designed for.
func open(dbPath string, opts ...Option) base {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	_, _ = db.Exec(`PRAGMA journal_mode=WAL`)
	_, _ = db.Exec(`PRAGMA synchronous=NORMAL`)
	_, _ = db.Exec(`PRAGMA foreign_keys=ON`)
	// The team and vault stores share app.db; a writer on one connection
	// must wait out a writer on the other instead of failing with BUSY.
	_, _ = db.Exec(`PRAGMA busy_timeout=5000`)

	b := base{db: db, logger: nopLogger}
	for _, o := range opts {
		o(&b)
	}
	b.logger.Debug("sqlite: store opened", "path", dbPath)
	return b
}

func (b *base) close() error {
	b.logger.Debug("sqlite: closing store")
	err := b.db.Close()
	if err != nil {
		b.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// --- Vector math ---

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

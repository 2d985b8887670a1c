// Package vectorize is the background context engine: a fixed worker pool
// that turns free-form context snapshots into vectors and serves similarity
// queries over the in-memory result set.
//
// Submission is best-effort: producers never block, and a full queue drops
// the job and bumps a counter. The consumer of the results (chat history
// augmentation) tolerates gaps, so losing a snapshot under load is cheaper
// than stalling a chat request.
package vectorize

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/havenlab/haven"
)

const (
	// DefaultWorkers is the worker pool size.
	DefaultWorkers = 2
	// DefaultQueueSize bounds the job queue.
	DefaultQueueSize = 256
	// DefaultRetentionDays is the age cutoff for stored vectors.
	DefaultRetentionDays = 30
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithWorkers overrides the worker count.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithQueueSize overrides the queue capacity.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithRetentionDays overrides the age cutoff.
func WithRetentionDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.retentionDays = days
		}
	}
}

// job is one unit of work. sentinel jobs terminate a worker.
type job struct {
	sessionID string
	text      string
	meta      map[string]string
	enqueued  time.Time
	sentinel  bool
}

// Result is one similarity hit from SearchSimilar.
type Result struct {
	SessionID  string            `json:"session_id"`
	Similarity float32           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Stats is a point-in-time snapshot of engine state.
type Stats struct {
	SessionsStored int   `json:"sessions_stored"`
	Processed      int64 `json:"processed"`
	Errors         int64 `json:"errors"`
	Dropped        int64 `json:"dropped"`
	QueueSize      int   `json:"queue_size"`
	Workers        int   `json:"workers"`
	RetentionDays  int   `json:"retention_days"`
}

// Engine is the vectorization worker pool plus its in-memory vector map.
type Engine struct {
	embedder      haven.Embedder
	workers       int
	queueSize     int
	retentionDays int
	logger        *slog.Logger

	queue chan job
	wg    sync.WaitGroup

	// mu guards the three parallel maps and the counters below. The maps
	// are keyed by session id and must stay consistent with each other:
	// any write to one holds the lock across all three.
	mu        sync.Mutex
	vectors   map[string][]float32
	stamps    map[string]time.Time
	metas     map[string]map[string]string
	processed int64
	errors    int64
	dropped   int64

	// now is replaceable in tests.
	now func() time.Time
}

// New creates and starts an Engine. Workers run until Shutdown.
func New(embedder haven.Embedder, opts ...Option) *Engine {
	e := &Engine{
		embedder:      embedder,
		workers:       DefaultWorkers,
		queueSize:     DefaultQueueSize,
		retentionDays: DefaultRetentionDays,
		logger:        nopLogger,
		vectors:       make(map[string][]float32),
		stamps:        make(map[string]time.Time),
		metas:         make(map[string]map[string]string),
		now:           time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.queue = make(chan job, e.queueSize)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	e.logger.Debug("vectorize: engine started", "workers", e.workers, "queue_size", e.queueSize, "retention_days", e.retentionDays)
	return e
}

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Preserve serializes the context snapshot to canonical text and enqueues
// it. The call never blocks: if the queue is full the job is dropped and
// the drop counter incremented.
func (e *Engine) Preserve(sessionID string, contextDict map[string]any, meta map[string]string) {
	text := canonicalText(contextDict)
	j := job{sessionID: sessionID, text: text, meta: meta, enqueued: e.now()}
	select {
	case e.queue <- j:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		e.logger.Warn("vectorize: queue full, job dropped", "session_id", sessionID)
	}
}

// canonicalText renders the snapshot deterministically. encoding/json
// sorts map keys, which is exactly the canonical key order contract.
func canonicalText(contextDict map[string]any) string {
	data, err := json.Marshal(contextDict)
	if err != nil {
		return ""
	}
	return string(data)
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	for j := range e.queue {
		// Sentinels terminate the worker even with jobs still queued.
		if j.sentinel {
			e.logger.Debug("vectorize: worker stopping", "worker", id)
			return
		}
		e.process(j)
	}
}

func (e *Engine) process(j job) {
	start := time.Now()
	vecs, err := e.embedder.Embed(context.Background(), []string{j.text})
	if err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		e.logger.Warn("vectorize: embed failed", "session_id", j.sessionID, "error", err)
		return
	}

	cutoff := e.now().AddDate(0, 0, -e.retentionDays)
	e.mu.Lock()
	e.vectors[j.sessionID] = vecs[0]
	e.stamps[j.sessionID] = j.enqueued
	if j.meta != nil {
		e.metas[j.sessionID] = j.meta
	} else {
		delete(e.metas, j.sessionID)
	}
	e.processed++
	e.pruneLocked(cutoff)
	e.mu.Unlock()

	e.logger.Debug("vectorize: job processed", "session_id", j.sessionID, "wait", start.Sub(j.enqueued), "duration", time.Since(start))
}

// pruneLocked removes entries older than cutoff. Caller holds mu.
func (e *Engine) pruneLocked(cutoff time.Time) int {
	n := 0
	for id, at := range e.stamps {
		if at.Before(cutoff) {
			delete(e.vectors, id)
			delete(e.stamps, id)
			delete(e.metas, id)
			n++
		}
	}
	return n
}

// SearchSimilar embeds the query synchronously and scans the vector map.
// Results carry similarity >= threshold, best first, at most topK.
func (e *Engine) SearchSimilar(ctx context.Context, queryText string, topK int, threshold float32) ([]Result, error) {
	vecs, err := e.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, haven.Wrap(haven.CodeEmbedding, "embed query", err)
	}
	query := vecs[0]

	e.mu.Lock()
	results := make([]Result, 0, topK)
	for id, v := range e.vectors {
		sim := dot(query, v)
		if sim < threshold {
			continue
		}
		results = append(results, Result{SessionID: id, Similarity: sim, Metadata: e.metas[id]})
	}
	e.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		SessionsStored: len(e.vectors),
		Processed:      e.processed,
		Errors:         e.errors,
		Dropped:        e.dropped,
		QueueSize:      len(e.queue),
		Workers:        e.workers,
		RetentionDays:  e.retentionDays,
	}
}

// PruneOlderThan removes entries older than the given number of days and
// returns how many were deleted.
func (e *Engine) PruneOlderThan(days int) int {
	cutoff := e.now().AddDate(0, 0, -days)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pruneLocked(cutoff)
}

// Shutdown emits one sentinel per worker and joins them within the
// timeout. Workers that miss the deadline are abandoned; the process is
// exiting anyway.
func (e *Engine) Shutdown(timeout time.Duration) error {
	for i := 0; i < e.workers; i++ {
		e.queue <- job{sentinel: true}
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Debug("vectorize: engine stopped")
		return nil
	case <-time.After(timeout):
		e.logger.Warn("vectorize: shutdown timed out", "timeout", timeout)
		return haven.E(haven.CodeInternal, "vectorize shutdown timed out")
	}
}

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

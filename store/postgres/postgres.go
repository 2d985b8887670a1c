// Package postgres implements haven.MemoryStore using PostgreSQL with
// pgvector for native vector similarity search.
//
// The store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool. SQLite remains the
// default deployment; this backend exists for installations that already
// run PostgreSQL and want HNSW-indexed search instead of brute force.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/havenlab/haven"
)

// MemoryStore implements haven.MemoryStore backed by PostgreSQL.
// Vector search uses HNSW indexes with cosine distance.
type MemoryStore struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
}

// Option configures a PostgreSQL MemoryStore.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 768, 1536).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, catching
// dimension mismatches at insert time. Only affects new table creation.
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

var _ haven.MemoryStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func NewMemoryStore(pool *pgxpool.Pool, opts ...Option) *MemoryStore {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &MemoryStore{pool: pool, cfg: cfg}
}

func (s *MemoryStore) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *MemoryStore) Init(ctx context.Context) error {
	vtype := s.vectorType()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			team_id TEXT,
			default_model TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			models_used JSONB,
			summary TEXT,
			auto_titled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_owner_idx ON chat_sessions(owner_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT,
			tokens INTEGER NOT NULL DEFAULT 0,
			files JSONB,
			embedding %s,
			ts BIGINT NOT NULL
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS messages_session_idx ON chat_messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS messages_ts_idx ON chat_messages(ts)`,
		`CREATE INDEX IF NOT EXISTS messages_embedding_idx ON chat_messages USING hnsw (embedding vector_cosine_ops)`,

		`CREATE TABLE IF NOT EXISTS conversation_summaries (
			session_id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			events JSONB,
			models_used JSONB,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			file_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding %s,
			created_at BIGINT NOT NULL
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS chunks_session_idx ON document_chunks(session_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_file_idx ON document_chunks(file_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// --- Sessions ---

func (s *MemoryStore) CreateSession(ctx context.Context, sess haven.Session) error {
	models, _ := json.Marshal(sess.ModelsUsed)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, title, owner_id, team_id, default_model, message_count, models_used, summary, auto_titled, created_at, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, $10, $11)`,
		sess.ID, sess.Title, sess.OwnerID, sess.TeamID, sess.DefaultModel,
		sess.MessageCount, models, sess.Summary, sess.AutoTitled, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create session: %w", err)
	}
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (haven.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title, owner_id, COALESCE(team_id, ''), default_model, message_count,
		        COALESCE(models_used, 'null'::jsonb), COALESCE(summary, ''), auto_titled, created_at, updated_at
		 FROM chat_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err == pgx.ErrNoRows {
		return haven.Session{}, haven.Ef(haven.CodeNotFound, "session %s not found", id)
	}
	if err != nil {
		return haven.Session{}, fmt.Errorf("postgres: get session: %w", err)
	}
	return sess, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, ownerID string, limit int) ([]haven.Session, error) {
	q := `SELECT id, title, owner_id, COALESCE(team_id, ''), default_model, message_count,
	             COALESCE(models_used, 'null'::jsonb), COALESCE(summary, ''), auto_titled, created_at, updated_at
	      FROM chat_sessions WHERE owner_id = $1 ORDER BY updated_at DESC`
	args := []any{ownerID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []haven.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *MemoryStore) RenameSession(ctx context.Context, id, title string, autoTitled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_sessions SET title = $1, auto_titled = $2, updated_at = $3 WHERE id = $4`,
		title, autoTitled, haven.NowUnix(), id)
	if err != nil {
		return fmt.Errorf("postgres: rename session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return haven.Ef(haven.CodeNotFound, "session %s not found", id)
	}
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM chat_messages WHERE session_id = $1`,
		`DELETE FROM conversation_summaries WHERE session_id = $1`,
		`DELETE FROM document_chunks WHERE session_id = $1`,
		`DELETE FROM chat_sessions WHERE id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return fmt.Errorf("postgres: delete session: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// --- Messages ---

func (s *MemoryStore) AppendMessage(ctx context.Context, msg haven.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	files, _ := json.Marshal(msg.Files)
	if len(msg.Embedding) > 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO chat_messages (id, session_id, role, content, model, tokens, files, embedding, ts)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8::vector, $9)`,
			msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Model, msg.Tokens, files,
			serializeEmbedding(msg.Embedding), msg.CreatedAt)
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO chat_messages (id, session_id, role, content, model, tokens, files, embedding, ts)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULL, $8)`,
			msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Model, msg.Tokens, files, msg.CreatedAt)
	}
	if err != nil {
		return fmt.Errorf("postgres: append message: %w", err)
	}

	var modelsRaw []byte
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(models_used, 'null'::jsonb) FROM chat_sessions WHERE id = $1 FOR UPDATE`,
		msg.SessionID).Scan(&modelsRaw)
	if err == pgx.ErrNoRows {
		return haven.Ef(haven.CodeNotFound, "session %s not found", msg.SessionID)
	}
	if err != nil {
		return fmt.Errorf("postgres: read session models: %w", err)
	}
	var models []string
	_ = json.Unmarshal(modelsRaw, &models)
	if msg.Model != "" && !contains(models, msg.Model) {
		models = append(models, msg.Model)
	}
	modelsJSON, _ := json.Marshal(models)
	_, err = tx.Exec(ctx,
		`UPDATE chat_sessions SET message_count = message_count + 1, models_used = $1, updated_at = $2 WHERE id = $3`,
		modelsJSON, msg.CreatedAt, msg.SessionID)
	if err != nil {
		return fmt.Errorf("postgres: update session counters: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *MemoryStore) GetRecentMessages(ctx context.Context, sessionID string, n int) ([]haven.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, COALESCE(model, ''), tokens, COALESCE(files, 'null'::jsonb), ts
		 FROM chat_messages WHERE session_id = $1
		 ORDER BY ts DESC, id DESC LIMIT $2`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("postgres: get recent messages: %w", err)
	}
	defer rows.Close()

	var messages []haven.Message
	for rows.Next() {
		var m haven.Message
		var filesRaw []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Model, &m.Tokens, &filesRaw, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		_ = json.Unmarshal(filesRaw, &m.Files)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// --- Summary ---

func (s *MemoryStore) UpsertSummary(ctx context.Context, sum haven.Summary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	events, _ := json.Marshal(sum.Events)
	models, _ := json.Marshal(sum.ModelsUsed)
	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_summaries (session_id, text, events, models_used, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id) DO UPDATE SET
		   text = EXCLUDED.text,
		   events = EXCLUDED.events,
		   models_used = EXCLUDED.models_used,
		   updated_at = EXCLUDED.updated_at`,
		sum.SessionID, sum.Text, events, models, sum.CreatedAt, sum.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert summary: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE chat_sessions SET summary = $1 WHERE id = $2`, sum.Text, sum.SessionID)
	if err != nil {
		return fmt.Errorf("postgres: mirror summary: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *MemoryStore) GetSummary(ctx context.Context, sessionID string) (haven.Summary, error) {
	var sum haven.Summary
	var events, models []byte
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, text, COALESCE(events, 'null'::jsonb), COALESCE(models_used, 'null'::jsonb), created_at, updated_at
		 FROM conversation_summaries WHERE session_id = $1`, sessionID,
	).Scan(&sum.SessionID, &sum.Text, &events, &models, &sum.CreatedAt, &sum.UpdatedAt)
	if err == pgx.ErrNoRows {
		return haven.Summary{}, haven.Ef(haven.CodeNotFound, "summary for session %s not found", sessionID)
	}
	if err != nil {
		return haven.Summary{}, fmt.Errorf("postgres: get summary: %w", err)
	}
	_ = json.Unmarshal(events, &sum.Events)
	_ = json.Unmarshal(models, &sum.ModelsUsed)
	return sum, nil
}

// --- Document chunks ---

func (s *MemoryStore) StoreChunks(ctx context.Context, chunks []haven.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			_, err = tx.Exec(ctx,
				`INSERT INTO document_chunks (id, session_id, file_id, filename, chunk_index, total_chunks, content, embedding, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9)
				 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
				c.ID, c.SessionID, c.FileID, c.Filename, c.ChunkIndex, c.TotalChunks, c.Content,
				serializeEmbedding(c.Embedding), c.CreatedAt)
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO document_chunks (id, session_id, file_id, filename, chunk_index, total_chunks, content, embedding, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8)
				 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, embedding = NULL`,
				c.ID, c.SessionID, c.FileID, c.Filename, c.ChunkIndex, c.TotalChunks, c.Content, c.CreatedAt)
		}
		if err != nil {
			return fmt.Errorf("postgres: insert chunk: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *MemoryStore) GetChunks(ctx context.Context, sessionID string) ([]haven.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, file_id, filename, chunk_index, total_chunks, content, COALESCE(embedding::text, ''), created_at
		 FROM document_chunks WHERE session_id = $1 ORDER BY file_id, chunk_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []haven.Chunk
	for rows.Next() {
		var c haven.Chunk
		var emb string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.FileID, &c.Filename, &c.ChunkIndex, &c.TotalChunks, &c.Content, &emb, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		if emb != "" {
			c.Embedding = parseVector(emb)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Message embeddings ---

func (s *MemoryStore) StoreMessageEmbedding(ctx context.Context, messageID, sessionID string, vec []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_messages SET embedding = $1::vector WHERE id = $2 AND session_id = $3`,
		serializeEmbedding(vec), messageID, sessionID)
	if err != nil {
		return fmt.Errorf("postgres: store message embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return haven.Ef(haven.CodeNotFound, "message %s not found", messageID)
	}
	return nil
}

func (s *MemoryStore) RecentEmbedded(ctx context.Context, ownerID string, k int) ([]haven.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.session_id, m.role, m.content, COALESCE(m.model, ''), m.tokens, m.embedding::text, m.ts
		 FROM chat_messages m
		 JOIN chat_sessions s ON s.id = m.session_id
		 WHERE s.owner_id = $1 AND m.embedding IS NOT NULL
		 ORDER BY m.ts DESC, m.id DESC LIMIT $2`,
		ownerID, k)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent embedded: %w", err)
	}
	defer rows.Close()

	var messages []haven.Message
	for rows.Next() {
		var m haven.Message
		var emb string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Model, &m.Tokens, &emb, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.Embedding = parseVector(emb)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Close is a no-op; the pool is owned by the caller.
func (s *MemoryStore) Close() error { return nil }

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (haven.Session, error) {
	var sess haven.Session
	var modelsRaw []byte
	err := sc.Scan(&sess.ID, &sess.Title, &sess.OwnerID, &sess.TeamID, &sess.DefaultModel,
		&sess.MessageCount, &modelsRaw, &sess.Summary, &sess.AutoTitled, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return haven.Session{}, err
	}
	_ = json.Unmarshal(modelsRaw, &sess.ModelsUsed)
	return sess, nil
}

// serializeEmbedding renders a []float32 as a pgvector literal "[x,y,z]".
func serializeEmbedding(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector parses a pgvector text literal back to []float32.
func parseVector(s string) []float32 {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/havenlab/haven"
)

// MemoryStore implements haven.MemoryStore backed by a local SQLite file
// (conventionally chat_memory.db).
type MemoryStore struct {
	base
}

var _ haven.MemoryStore = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore using a local SQLite file at dbPath.
func NewMemoryStore(dbPath string, opts ...Option) *MemoryStore {
	return &MemoryStore{base: open(dbPath, opts...)}
}

// Init creates all required tables and indexes.
func (s *MemoryStore) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: memory init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			team_id TEXT,
			default_model TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			models_used TEXT,
			summary TEXT,
			auto_titled INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT,
			tokens INTEGER NOT NULL DEFAULT 0,
			files TEXT,
			embedding TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_summaries (
			session_id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			events TEXT,
			models_used TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			file_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON chat_messages(timestamp)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_owner ON chat_sessions(owner_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_session ON document_chunks(session_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_file ON document_chunks(file_id)`)

	s.logger.Info("sqlite: memory init completed", "duration", time.Since(start))
	return nil
}

// CreateSession inserts a new session.
func (s *MemoryStore) CreateSession(ctx context.Context, sess haven.Session) error {
	start := time.Now()
	s.logger.Debug("sqlite: create session", "id", sess.ID, "owner_id", sess.OwnerID, "title", sess.Title)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, title, owner_id, team_id, default_model, message_count, models_used, summary, auto_titled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.OwnerID, nullStr(sess.TeamID), sess.DefaultModel,
		sess.MessageCount, jsonStr(sess.ModelsUsed), nullStr(sess.Summary),
		boolToInt(sess.AutoTitled), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: create session failed", "id", sess.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("create session: %w", err)
	}
	s.logger.Debug("sqlite: create session ok", "id", sess.ID, "duration", time.Since(start))
	return nil
}

// GetSession returns a session by ID.
func (s *MemoryStore) GetSession(ctx context.Context, id string) (haven.Session, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get session", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, owner_id, team_id, default_model, message_count, models_used, summary, auto_titled, created_at, updated_at
		 FROM chat_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return haven.Session{}, haven.Ef(haven.CodeNotFound, "session %s not found", id)
	}
	if err != nil {
		s.logger.Error("sqlite: get session failed", "id", id, "error", err, "duration", time.Since(start))
		return haven.Session{}, fmt.Errorf("get session: %w", err)
	}
	s.logger.Debug("sqlite: get session ok", "id", id, "duration", time.Since(start))
	return sess, nil
}

// ListSessions returns sessions owned by ownerID, most recently updated first.
func (s *MemoryStore) ListSessions(ctx context.Context, ownerID string, limit int) ([]haven.Session, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list sessions", "owner_id", ownerID, "limit", limit)

	query := `SELECT id, title, owner_id, team_id, default_model, message_count, models_used, summary, auto_titled, created_at, updated_at
		 FROM chat_sessions WHERE owner_id = ? ORDER BY updated_at DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: list sessions failed", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []haven.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	s.logger.Debug("sqlite: list sessions ok", "owner_id", ownerID, "count", len(sessions), "duration", time.Since(start))
	return sessions, rows.Err()
}

// RenameSession sets the title and auto_titled flag.
func (s *MemoryStore) RenameSession(ctx context.Context, id, title string, autoTitled bool) error {
	start := time.Now()
	s.logger.Debug("sqlite: rename session", "id", id, "title", title, "auto_titled", autoTitled)

	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET title = ?, auto_titled = ?, updated_at = ? WHERE id = ?`,
		title, boolToInt(autoTitled), time.Now().Unix(), id,
	)
	if err != nil {
		s.logger.Error("sqlite: rename session failed", "id", id, "error", err, "duration", time.Since(start))
		return fmt.Errorf("rename session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return haven.Ef(haven.CodeNotFound, "session %s not found", id)
	}
	s.logger.Debug("sqlite: rename session ok", "id", id, "duration", time.Since(start))
	return nil
}

// DeleteSession removes a session, its messages, summary, and chunks in one
// transaction.
func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete session", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM chat_messages WHERE session_id = ?`,
		`DELETE FROM conversation_summaries WHERE session_id = ?`,
		`DELETE FROM document_chunks WHERE session_id = ?`,
		`DELETE FROM chat_sessions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			s.logger.Error("sqlite: delete session failed", "id", id, "error", err)
			return fmt.Errorf("delete session: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: delete session commit failed", "id", id, "error", err)
		return err
	}
	s.logger.Debug("sqlite: delete session ok", "id", id, "duration", time.Since(start))
	return nil
}

// AppendMessage inserts the message and updates the parent session's counters
// in the same transaction.
func (s *MemoryStore) AppendMessage(ctx context.Context, msg haven.Message) error {
	start := time.Now()
	s.logger.Debug("sqlite: append message", "id", msg.ID, "session_id", msg.SessionID, "role", msg.Role, "has_embedding", len(msg.Embedding) > 0)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var embJSON *string
	if len(msg.Embedding) > 0 {
		v := serializeEmbedding(msg.Embedding)
		embJSON = &v
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, model, tokens, files, embedding, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, nullStr(msg.Model),
		msg.Tokens, jsonStr(msg.Files), embJSON, msg.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: append message failed", "id", msg.ID, "error", err)
		return fmt.Errorf("append message: %w", err)
	}

	// Fold the message's model into the session's models_used set and bump
	// the counters, all inside the transaction.
	var modelsJSON sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT models_used FROM chat_sessions WHERE id = ?`, msg.SessionID,
	).Scan(&modelsJSON)
	if err == sql.ErrNoRows {
		return haven.Ef(haven.CodeNotFound, "session %s not found", msg.SessionID)
	}
	if err != nil {
		return fmt.Errorf("read session models: %w", err)
	}
	var models []string
	if modelsJSON.Valid {
		_ = json.Unmarshal([]byte(modelsJSON.String), &models)
	}
	if msg.Model != "" && !contains(models, msg.Model) {
		models = append(models, msg.Model)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE chat_sessions SET message_count = message_count + 1, models_used = ?, updated_at = ? WHERE id = ?`,
		jsonStr(models), msg.CreatedAt, msg.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update session counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: append message commit failed", "id", msg.ID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: append message ok", "id", msg.ID, "duration", time.Since(start))
	return nil
}

// GetRecentMessages returns the most recent messages for a session,
// ordered chronologically (oldest first).
func (s *MemoryStore) GetRecentMessages(ctx context.Context, sessionID string, n int) ([]haven.Message, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get recent messages", "session_id", sessionID, "limit", n)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, model, tokens, files, embedding, timestamp
		 FROM chat_messages
		 WHERE session_id = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		sessionID, n,
	)
	if err != nil {
		s.logger.Error("sqlite: get recent messages failed", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	defer rows.Close()

	var messages []haven.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	s.logger.Debug("sqlite: get recent messages ok", "session_id", sessionID, "count", len(messages), "duration", time.Since(start))
	return messages, nil
}

// UpsertSummary writes the single summary row for a session and mirrors the
// digest text into the session row in the same transaction.
func (s *MemoryStore) UpsertSummary(ctx context.Context, sum haven.Summary) error {
	start := time.Now()
	s.logger.Debug("sqlite: upsert summary", "session_id", sum.SessionID, "events", len(sum.Events))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	eventsJSON, _ := json.Marshal(sum.Events)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_summaries (session_id, text, events, models_used, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			text = excluded.text,
			events = excluded.events,
			models_used = excluded.models_used,
			updated_at = excluded.updated_at`,
		sum.SessionID, sum.Text, string(eventsJSON), jsonStr(sum.ModelsUsed), sum.CreatedAt, sum.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: upsert summary failed", "session_id", sum.SessionID, "error", err)
		return fmt.Errorf("upsert summary: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE chat_sessions SET summary = ? WHERE id = ?`, sum.Text, sum.SessionID)
	if err != nil {
		return fmt.Errorf("mirror summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: upsert summary commit failed", "session_id", sum.SessionID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: upsert summary ok", "session_id", sum.SessionID, "duration", time.Since(start))
	return nil
}

// GetSummary returns the summary row for a session.
func (s *MemoryStore) GetSummary(ctx context.Context, sessionID string) (haven.Summary, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get summary", "session_id", sessionID)

	var sum haven.Summary
	var eventsJSON, modelsJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, text, events, models_used, created_at, updated_at
		 FROM conversation_summaries WHERE session_id = ?`, sessionID,
	).Scan(&sum.SessionID, &sum.Text, &eventsJSON, &modelsJSON, &sum.CreatedAt, &sum.UpdatedAt)
	if err == sql.ErrNoRows {
		return haven.Summary{}, haven.Ef(haven.CodeNotFound, "summary for session %s not found", sessionID)
	}
	if err != nil {
		s.logger.Error("sqlite: get summary failed", "session_id", sessionID, "error", err)
		return haven.Summary{}, fmt.Errorf("get summary: %w", err)
	}
	if eventsJSON.Valid {
		_ = json.Unmarshal([]byte(eventsJSON.String), &sum.Events)
	}
	if modelsJSON.Valid {
		_ = json.Unmarshal([]byte(modelsJSON.String), &sum.ModelsUsed)
	}
	s.logger.Debug("sqlite: get summary ok", "session_id", sessionID, "duration", time.Since(start))
	return sum, nil
}

// StoreChunks inserts all chunks of one upload in a single transaction.
func (s *MemoryStore) StoreChunks(ctx context.Context, chunks []haven.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: store chunks", "count", len(chunks), "file_id", chunks[0].FileID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range chunks {
		var embJSON *string
		if len(c.Embedding) > 0 {
			v := serializeEmbedding(c.Embedding)
			embJSON = &v
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO document_chunks (id, session_id, file_id, filename, chunk_index, total_chunks, content, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.SessionID, c.FileID, c.Filename, c.ChunkIndex, c.TotalChunks, c.Content, embJSON, c.CreatedAt,
		)
		if err != nil {
			s.logger.Error("sqlite: insert chunk failed", "chunk_id", c.ID, "file_id", c.FileID, "error", err)
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: store chunks commit failed", "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: store chunks ok", "count", len(chunks), "duration", time.Since(start))
	return nil
}

// GetChunks returns a session's chunks with embeddings, ordered by
// (file_id, chunk_index).
func (s *MemoryStore) GetChunks(ctx context.Context, sessionID string) ([]haven.Chunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get chunks", "session_id", sessionID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, file_id, filename, chunk_index, total_chunks, content, embedding, created_at
		 FROM document_chunks WHERE session_id = ? ORDER BY file_id, chunk_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []haven.Chunk
	for rows.Next() {
		var c haven.Chunk
		var embJSON sql.NullString
		if err := rows.Scan(&c.ID, &c.SessionID, &c.FileID, &c.Filename, &c.ChunkIndex, &c.TotalChunks, &c.Content, &embJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if embJSON.Valid {
			c.Embedding, _ = deserializeEmbedding(embJSON.String)
		}
		chunks = append(chunks, c)
	}
	s.logger.Debug("sqlite: get chunks ok", "session_id", sessionID, "count", len(chunks), "duration", time.Since(start))
	return chunks, rows.Err()
}

// StoreMessageEmbedding attaches an embedding to an existing message.
// Re-running for the same message id overwrites the previous vector.
func (s *MemoryStore) StoreMessageEmbedding(ctx context.Context, messageID, sessionID string, vec []float32) error {
	start := time.Now()
	s.logger.Debug("sqlite: store message embedding", "id", messageID, "dim", len(vec))

	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET embedding = ? WHERE id = ? AND session_id = ?`,
		serializeEmbedding(vec), messageID, sessionID,
	)
	if err != nil {
		s.logger.Error("sqlite: store message embedding failed", "id", messageID, "error", err)
		return fmt.Errorf("store message embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return haven.Ef(haven.CodeNotFound, "message %s not found", messageID)
	}
	s.logger.Debug("sqlite: store message embedding ok", "id", messageID, "duration", time.Since(start))
	return nil
}

// RecentEmbedded returns the most recent k embedded messages across all
// sessions owned by ownerID, newest first.
func (s *MemoryStore) RecentEmbedded(ctx context.Context, ownerID string, k int) ([]haven.Message, error) {
	start := time.Now()
	s.logger.Debug("sqlite: recent embedded", "owner_id", ownerID, "limit", k)

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.session_id, m.role, m.content, m.model, m.tokens, m.files, m.embedding, m.timestamp
		 FROM chat_messages m
		 JOIN chat_sessions s ON s.id = m.session_id
		 WHERE s.owner_id = ? AND m.embedding IS NOT NULL
		 ORDER BY m.timestamp DESC, m.id DESC
		 LIMIT ?`,
		ownerID, k,
	)
	if err != nil {
		s.logger.Error("sqlite: recent embedded failed", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("recent embedded: %w", err)
	}
	defer rows.Close()

	var messages []haven.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	s.logger.Debug("sqlite: recent embedded ok", "owner_id", ownerID, "count", len(messages), "duration", time.Since(start))
	return messages, rows.Err()
}

// Close closes the underlying database connection.
func (s *MemoryStore) Close() error { return s.close() }

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (haven.Session, error) {
	var sess haven.Session
	var teamID, modelsJSON, summary sql.NullString
	var autoTitled int
	err := sc.Scan(&sess.ID, &sess.Title, &sess.OwnerID, &teamID, &sess.DefaultModel,
		&sess.MessageCount, &modelsJSON, &summary, &autoTitled, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return haven.Session{}, err
	}
	if teamID.Valid {
		sess.TeamID = teamID.String
	}
	if modelsJSON.Valid {
		_ = json.Unmarshal([]byte(modelsJSON.String), &sess.ModelsUsed)
	}
	if summary.Valid {
		sess.Summary = summary.String
	}
	sess.AutoTitled = autoTitled != 0
	return sess, nil
}

func scanMessage(sc scanner) (haven.Message, error) {
	var m haven.Message
	var model, filesJSON, embJSON sql.NullString
	err := sc.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &model, &m.Tokens, &filesJSON, &embJSON, &m.CreatedAt)
	if err != nil {
		return haven.Message{}, err
	}
	if model.Valid {
		m.Model = model.String
	}
	if filesJSON.Valid {
		_ = json.Unmarshal([]byte(filesJSON.String), &m.Files)
	}
	if embJSON.Valid {
		m.Embedding, _ = deserializeEmbedding(embJSON.String)
	}
	return m, nil
}

// nullStr maps the empty string to SQL NULL.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// jsonStr marshals a slice to JSON, or NULL when empty.
func jsonStr(v []string) *string {
	if len(v) == 0 {
		return nil
	}
	data, _ := json.Marshal(v)
	out := string(data)
	return &out
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

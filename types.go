package haven

// --- Chat memory records ---

// Session is an ordered, owner-scoped conversation with its own rolling
// summary, default model, and uploads.
type Session struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	OwnerID      string   `json:"owner_id"`
	TeamID       string   `json:"team_id,omitempty"`
	DefaultModel string   `json:"default_model"`
	MessageCount int      `json:"message_count"`
	ModelsUsed   []string `json:"models_used"`
	Summary      string   `json:"summary,omitempty"`
	AutoTitled   bool     `json:"auto_titled"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`
}

// Message is one turn in a session. Messages are appended monotonically and
// never mutated after insert.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"` // set on assistant turns
	Tokens    int       `json:"tokens,omitempty"`
	Files     []string  `json:"files,omitempty"`
	Embedding []float32 `json:"-"`
	CreatedAt int64     `json:"created_at"`
}

// SummaryEvent is one digested entry of a rolling summary: the role, the
// model that produced the turn (assistant only), and a short excerpt.
type SummaryEvent struct {
	Role    string `json:"role"`
	Model   string `json:"model,omitempty"`
	Excerpt string `json:"excerpt"`
	At      int64  `json:"at"`
}

// Summary is the bounded-length recency digest of a session, overwritten on
// every append. Full history stays queryable through the messages table.
type Summary struct {
	SessionID  string         `json:"session_id"`
	Text       string         `json:"text"`
	Events     []SummaryEvent `json:"events"`
	ModelsUsed []string       `json:"models_used"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Chunk is one embedded slice of an uploaded document. Chunks of the same
// FileID form a contiguous 0..TotalChunks-1 range with no gaps.
type Chunk struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	FileID      string    `json:"file_id"`
	Filename    string    `json:"filename"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"-"`
	CreatedAt   int64     `json:"created_at"`
}

// --- Search results ---

// Hit is a scored message from semantic search.
type Hit struct {
	SessionID  string  `json:"session_id"`
	MessageID  string  `json:"message_id"`
	Excerpt    string  `json:"excerpt"`
	Similarity float32 `json:"similarity"`
	CreatedAt  int64   `json:"created_at"`
}

// ChunkHit is a scored document chunk from per-session RAG search.
type ChunkHit struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float32 `json:"similarity"`
}

// --- Audit ---

// AuditEntry is one append-only audit record. No code path updates or
// deletes an entry once written.
type AuditEntry struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Action     string `json:"action"`
	Resource   string `json:"resource,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	IP         string `json:"ip,omitempty"`
	Details    string `json:"details"`
	CreatedAt  int64  `json:"created_at"`
}

// --- Vault ---

// VaultItem is an encrypted per-team artifact. Ciphertext is authenticated
// encryption output of a team-scoped key; deletion is soft and undeletion is
// not permitted.
type VaultItem struct {
	ID         string            `json:"item_id"`
	TeamID     string            `json:"team_id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Ciphertext []byte            `json:"-"`
	KeyHash    string            `json:"key_hash"`
	Size       int64             `json:"size"`
	MimeType   string            `json:"mime_type,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	CreatedBy  string            `json:"created_by"`
	UpdatedAt  int64             `json:"updated_at,omitempty"`
	UpdatedBy  string            `json:"updated_by,omitempty"`
	Deleted    bool              `json:"is_deleted"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// WordCount is the approximate token count used for assistant turns.
// It is a documented under-estimate (whitespace-delimited words, not
// tokenizer tokens); downstream budget checks use the same definition.
func WordCount(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

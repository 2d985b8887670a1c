package haven

import "context"

// MemoryStore is the durable store of record for chat memory. Writes are
// serialized through a single logical writer; readers proceed in parallel.
// After AppendMessage returns, a subsequent GetRecentMessages on the same
// session observes the appended row.
type MemoryStore interface {
	// --- Sessions ---
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, ownerID string, limit int) ([]Session, error)
	// RenameSession sets the title. autoTitled marks titles synthesized from
	// the first user message; a manual rename clears the flag.
	RenameSession(ctx context.Context, id, title string, autoTitled bool) error
	// DeleteSession cascades to messages, summary, chunks, and embeddings.
	DeleteSession(ctx context.Context, id string) error

	// --- Messages ---
	// AppendMessage inserts the message and, in the same transaction, bumps
	// the session's updated_at and message_count and folds msg.Model into
	// models_used.
	AppendMessage(ctx context.Context, msg Message) error
	// GetRecentMessages returns the last n messages by timestamp, ordered
	// chronologically (oldest first).
	GetRecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error)

	// --- Summary ---
	// UpsertSummary keeps at most one row per session and mirrors sum.Text
	// into the session's summary column in the same transaction.
	UpsertSummary(ctx context.Context, sum Summary) error
	GetSummary(ctx context.Context, sessionID string) (Summary, error)

	// --- Document chunks ---
	// StoreChunks bulk-inserts all chunks of one upload in a transaction.
	StoreChunks(ctx context.Context, chunks []Chunk) error
	// GetChunks returns a session's chunks with embeddings, ordered by
	// (file_id, chunk_index).
	GetChunks(ctx context.Context, sessionID string) ([]Chunk, error)

	// --- Message embeddings ---
	// StoreMessageEmbedding is idempotent per message id.
	StoreMessageEmbedding(ctx context.Context, messageID, sessionID string, vec []float32) error
	// RecentEmbedded returns the most recent k messages owned by ownerID
	// that have a stored embedding (set on Message.Embedding), newest first.
	RecentEmbedded(ctx context.Context, ownerID string, k int) ([]Message, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}

// TeamStore persists teams, memberships, invites, promotions, and permission
// grants.
type TeamStore interface {
	// --- Teams ---
	CreateTeam(ctx context.Context, t Team) error
	GetTeam(ctx context.Context, id string) (Team, error)

	// --- Members ---
	AddMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, teamID, userID string) (Member, error)
	ListMembers(ctx context.Context, teamID string) ([]Member, error)
	UpdateMemberRole(ctx context.Context, teamID, userID string, role Role) error
	TouchLastSeen(ctx context.Context, teamID, userID string, at int64) error
	// CountSuperAdmins counts permanent super_admins; members elevated by an
	// active TempPromotion are excluded.
	CountSuperAdmins(ctx context.Context, teamID string) (int, error)

	// --- Invite codes ---
	// RotateInvite inserts inv and marks every previously active code for
	// the team as used, atomically.
	RotateInvite(ctx context.Context, inv InviteCode) error
	GetInvite(ctx context.Context, code string) (InviteCode, error)
	// ConsumeInvite transitions the code to used iff it is still active at
	// now. Races resolve to exactly one winner; the losers get false.
	ConsumeInvite(ctx context.Context, code, userID string, now int64) (bool, error)
	// RecordInviteAttempt logs one redemption attempt for brute-force
	// accounting. The log is persisted, so lockouts survive restarts.
	RecordInviteAttempt(ctx context.Context, code, ip string, success bool, at int64) error
	// CountInviteFailures counts failed attempts for (code, ip) since the
	// given time.
	CountInviteFailures(ctx context.Context, code, ip string, since int64) (int, error)

	// --- Delayed promotions ---
	SchedulePromotion(ctx context.Context, p DelayedPromotion) error
	// DuePromotions returns un-executed rows with execute_at <= now, in
	// scheduled_at order.
	DuePromotions(ctx context.Context, now int64) ([]DelayedPromotion, error)
	MarkPromotionExecuted(ctx context.Context, id string, at int64) error
	// GuestsJoinedBefore returns guest members with joined_at <= cutoff,
	// for the automatic-promotion sweep.
	GuestsJoinedBefore(ctx context.Context, cutoff int64) ([]Member, error)

	// --- Temporary promotions ---
	ActiveTempPromotion(ctx context.Context, teamID string) (TempPromotion, bool, error)
	CreateTempPromotion(ctx context.Context, p TempPromotion) error
	// SettleTempPromotion moves the row to approved or reverted.
	SettleTempPromotion(ctx context.Context, id string, status TempPromotionStatus, by string, at int64) error

	// --- Permission grants ---
	AddGrant(ctx context.Context, g Grant) error
	RemoveGrant(ctx context.Context, g Grant) error
	GrantsForResource(ctx context.Context, kind ResourceKind, resourceID, teamID string) ([]Grant, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}

// AuditStore is the append-only audit log. Append must be durable before it
// returns; no method mutates or removes entries.
type AuditStore interface {
	Append(ctx context.Context, e AuditEntry) error
	Recent(ctx context.Context, limit int) ([]AuditEntry, error)
	Count(ctx context.Context) (int64, error)
	Init(ctx context.Context) error
	Close() error
}

// VaultStore persists encrypted vault items. Deletion is soft; deleted items
// are excluded from listings but never physically removed.
type VaultStore interface {
	PutItem(ctx context.Context, item VaultItem) error
	GetItem(ctx context.Context, teamID, itemID string) (VaultItem, error)
	ListItems(ctx context.Context, teamID string) ([]VaultItem, error)
	MarkDeleted(ctx context.Context, teamID, itemID, by string, at int64) error
	Init(ctx context.Context) error
	Close() error
}

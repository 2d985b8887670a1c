package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/havenlab/haven"
)

// TeamStore implements haven.TeamStore backed by a local SQLite file
// (conventionally app.db).
type TeamStore struct {
	base
}

var _ haven.TeamStore = (*TeamStore)(nil)

// NewTeamStore creates a TeamStore using a local SQLite file at dbPath.
func NewTeamStore(dbPath string, opts ...Option) *TeamStore {
	return &TeamStore{base: open(dbPath, opts...)}
}

// Init creates all required tables and indexes.
func (s *TeamStore) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: team init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS teams (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			created_at INTEGER NOT NULL,
			created_by TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS team_members (
			team_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			job_role TEXT,
			joined_at INTEGER NOT NULL,
			last_seen INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (team_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS invite_codes (
			code TEXT PRIMARY KEY,
			team_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			used INTEGER NOT NULL DEFAULT 0,
			used_by TEXT,
			used_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS invite_attempts (
			code TEXT NOT NULL,
			ip TEXT NOT NULL,
			success INTEGER NOT NULL,
			at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS delayed_promotions (
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			from_role TEXT NOT NULL,
			to_role TEXT NOT NULL,
			scheduled_at INTEGER NOT NULL,
			execute_at INTEGER NOT NULL,
			executed INTEGER NOT NULL DEFAULT 0,
			executed_at INTEGER,
			reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS temp_promotions (
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL,
			original_super_admin_id TEXT NOT NULL,
			promoted_admin_id TEXT NOT NULL,
			status TEXT NOT NULL,
			promoted_at INTEGER NOT NULL,
			reverted_at INTEGER,
			approved_by TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS permission_grants (
			resource_id TEXT NOT NULL,
			resource_kind TEXT NOT NULL,
			team_id TEXT NOT NULL,
			permission_type TEXT NOT NULL,
			grant_type TEXT NOT NULL,
			grant_value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			created_by TEXT NOT NULL,
			UNIQUE (resource_id, team_id, permission_type, grant_type, grant_value)
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_members_team ON team_members(team_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_invites_team ON invite_codes(team_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_invite_attempts ON invite_attempts(code, ip, at)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_promotions_due ON delayed_promotions(executed, execute_at)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_temp_promotions_team ON temp_promotions(team_id, status)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_grants_resource ON permission_grants(resource_kind, resource_id, team_id)`)

	s.logger.Info("sqlite: team init completed", "duration", time.Since(start))
	return nil
}

// CreateTeam inserts a new team.
func (s *TeamStore) CreateTeam(ctx context.Context, t haven.Team) error {
	start := time.Now()
	s.logger.Debug("sqlite: create team", "id", t.ID, "name", t.Name)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (id, name, description, created_at, created_by) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, nullStr(t.Description), t.CreatedAt, t.CreatedBy,
	)
	if err != nil {
		s.logger.Error("sqlite: create team failed", "id", t.ID, "error", err)
		return fmt.Errorf("create team: %w", err)
	}
	s.logger.Debug("sqlite: create team ok", "id", t.ID, "duration", time.Since(start))
	return nil
}

// GetTeam returns a team by ID.
func (s *TeamStore) GetTeam(ctx context.Context, id string) (haven.Team, error) {
	var t haven.Team
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, created_by FROM teams WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &desc, &t.CreatedAt, &t.CreatedBy)
	if err == sql.ErrNoRows {
		return haven.Team{}, haven.Ef(haven.CodeNotFound, "team %s not found", id)
	}
	if err != nil {
		return haven.Team{}, fmt.Errorf("get team: %w", err)
	}
	if desc.Valid {
		t.Description = desc.String
	}
	return t, nil
}

// AddMember inserts a membership row.
func (s *TeamStore) AddMember(ctx context.Context, m haven.Member) error {
	start := time.Now()
	s.logger.Debug("sqlite: add member", "team_id", m.TeamID, "user_id", m.UserID, "role", m.Role)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_members (team_id, user_id, role, job_role, joined_at, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.TeamID, m.UserID, string(m.Role), nullStr(m.JobRole), m.JoinedAt, m.LastSeen,
	)
	if err != nil {
		s.logger.Error("sqlite: add member failed", "team_id", m.TeamID, "user_id", m.UserID, "error", err)
		return fmt.Errorf("add member: %w", err)
	}
	s.logger.Debug("sqlite: add member ok", "team_id", m.TeamID, "user_id", m.UserID, "duration", time.Since(start))
	return nil
}

// GetMember returns one membership row.
func (s *TeamStore) GetMember(ctx context.Context, teamID, userID string) (haven.Member, error) {
	var m haven.Member
	var role string
	var jobRole sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT team_id, user_id, role, job_role, joined_at, last_seen
		 FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID,
	).Scan(&m.TeamID, &m.UserID, &role, &jobRole, &m.JoinedAt, &m.LastSeen)
	if err == sql.ErrNoRows {
		return haven.Member{}, haven.Ef(haven.CodeNotFound, "user %s is not a member of team %s", userID, teamID)
	}
	if err != nil {
		return haven.Member{}, fmt.Errorf("get member: %w", err)
	}
	m.Role = haven.Role(role)
	if jobRole.Valid {
		m.JobRole = jobRole.String
	}
	return m, nil
}

// ListMembers returns all members of a team ordered by join time.
func (s *TeamStore) ListMembers(ctx context.Context, teamID string) ([]haven.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT team_id, user_id, role, job_role, joined_at, last_seen
		 FROM team_members WHERE team_id = ? ORDER BY joined_at`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []haven.Member
	for rows.Next() {
		var m haven.Member
		var role string
		var jobRole sql.NullString
		if err := rows.Scan(&m.TeamID, &m.UserID, &role, &jobRole, &m.JoinedAt, &m.LastSeen); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = haven.Role(role)
		if jobRole.Valid {
			m.JobRole = jobRole.String
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// UpdateMemberRole changes a member's role.
func (s *TeamStore) UpdateMemberRole(ctx context.Context, teamID, userID string, role haven.Role) error {
	start := time.Now()
	s.logger.Debug("sqlite: update member role", "team_id", teamID, "user_id", userID, "role", role)

	res, err := s.db.ExecContext(ctx,
		`UPDATE team_members SET role = ? WHERE team_id = ? AND user_id = ?`,
		string(role), teamID, userID,
	)
	if err != nil {
		s.logger.Error("sqlite: update member role failed", "team_id", teamID, "user_id", userID, "error", err)
		return fmt.Errorf("update member role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return haven.Ef(haven.CodeNotFound, "user %s is not a member of team %s", userID, teamID)
	}
	s.logger.Debug("sqlite: update member role ok", "team_id", teamID, "user_id", userID, "duration", time.Since(start))
	return nil
}

// TouchLastSeen updates a member's last activity timestamp.
func (s *TeamStore) TouchLastSeen(ctx context.Context, teamID, userID string, at int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE team_members SET last_seen = ? WHERE team_id = ? AND user_id = ?`,
		at, teamID, userID,
	)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

// CountSuperAdmins counts permanent super_admins in a team. Members holding
// the role through an active temporary promotion are excluded.
func (s *TeamStore) CountSuperAdmins(ctx context.Context, teamID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM team_members
		 WHERE team_id = ? AND role = ?
		   AND user_id NOT IN (
			SELECT promoted_admin_id FROM temp_promotions WHERE team_id = ? AND status = ?
		   )`,
		teamID, string(haven.RoleSuperAdmin), teamID, string(haven.TempActive),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count super admins: %w", err)
	}
	return n, nil
}

// RotateInvite inserts a fresh code and retires every previously active code
// for the team, atomically.
func (s *TeamStore) RotateInvite(ctx context.Context, inv haven.InviteCode) error {
	start := time.Now()
	s.logger.Debug("sqlite: rotate invite", "team_id", inv.TeamID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`UPDATE invite_codes SET used = 1 WHERE team_id = ? AND used = 0`, inv.TeamID)
	if err != nil {
		return fmt.Errorf("retire invites: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO invite_codes (code, team_id, created_at, expires_at, used) VALUES (?, ?, ?, ?, 0)`,
		inv.Code, inv.TeamID, inv.CreatedAt, inv.ExpiresAt,
	)
	if err != nil {
		s.logger.Error("sqlite: rotate invite failed", "team_id", inv.TeamID, "error", err)
		return fmt.Errorf("insert invite: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: rotate invite ok", "team_id", inv.TeamID, "duration", time.Since(start))
	return nil
}

// GetInvite returns an invite code row.
func (s *TeamStore) GetInvite(ctx context.Context, code string) (haven.InviteCode, error) {
	var inv haven.InviteCode
	var used int
	var usedBy sql.NullString
	var usedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT code, team_id, created_at, expires_at, used, used_by, used_at
		 FROM invite_codes WHERE code = ?`, code,
	).Scan(&inv.Code, &inv.TeamID, &inv.CreatedAt, &inv.ExpiresAt, &used, &usedBy, &usedAt)
	if err == sql.ErrNoRows {
		return haven.InviteCode{}, haven.E(haven.CodeNotFound, "invite code not found")
	}
	if err != nil {
		return haven.InviteCode{}, fmt.Errorf("get invite: %w", err)
	}
	inv.Used = used != 0
	if usedBy.Valid {
		inv.UsedBy = usedBy.String
	}
	if usedAt.Valid {
		inv.UsedAt = usedAt.Int64
	}
	return inv, nil
}

// ConsumeInvite marks the code used iff it is still active at now. The
// conditional UPDATE makes concurrent redemptions resolve to one winner.
func (s *TeamStore) ConsumeInvite(ctx context.Context, code, userID string, now int64) (bool, error) {
	start := time.Now()
	s.logger.Debug("sqlite: consume invite", "user_id", userID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE invite_codes SET used = 1, used_by = ?, used_at = ?
		 WHERE code = ? AND used = 0 AND expires_at > ?`,
		userID, now, code, now,
	)
	if err != nil {
		s.logger.Error("sqlite: consume invite failed", "error", err)
		return false, fmt.Errorf("consume invite: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("sqlite: consume invite done", "consumed", n > 0, "duration", time.Since(start))
	return n > 0, nil
}

// RecordInviteAttempt appends one redemption attempt for brute-force
// accounting.
func (s *TeamStore) RecordInviteAttempt(ctx context.Context, code, ip string, success bool, at int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invite_attempts (code, ip, success, at) VALUES (?, ?, ?, ?)`,
		code, ip, boolToInt(success), at,
	)
	if err != nil {
		return fmt.Errorf("record invite attempt: %w", err)
	}
	return nil
}

// CountInviteFailures counts failed attempts for (code, ip) at or after since.
func (s *TeamStore) CountInviteFailures(ctx context.Context, code, ip string, since int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invite_attempts WHERE code = ? AND ip = ? AND success = 0 AND at >= ?`,
		code, ip, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count invite failures: %w", err)
	}
	return n, nil
}

// SchedulePromotion inserts a delayed promotion row.
func (s *TeamStore) SchedulePromotion(ctx context.Context, p haven.DelayedPromotion) error {
	start := time.Now()
	s.logger.Debug("sqlite: schedule promotion", "id", p.ID, "team_id", p.TeamID, "user_id", p.UserID, "execute_at", p.ExecuteAt)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delayed_promotions (id, team_id, user_id, from_role, to_role, scheduled_at, execute_at, executed, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		p.ID, p.TeamID, p.UserID, string(p.FromRole), string(p.ToRole), p.ScheduledAt, p.ExecuteAt, nullStr(p.Reason),
	)
	if err != nil {
		s.logger.Error("sqlite: schedule promotion failed", "id", p.ID, "error", err)
		return fmt.Errorf("schedule promotion: %w", err)
	}
	s.logger.Debug("sqlite: schedule promotion ok", "id", p.ID, "duration", time.Since(start))
	return nil
}

// DuePromotions returns un-executed promotions whose execute time has passed.
func (s *TeamStore) DuePromotions(ctx context.Context, now int64) ([]haven.DelayedPromotion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, user_id, from_role, to_role, scheduled_at, execute_at, executed, reason
		 FROM delayed_promotions WHERE executed = 0 AND execute_at <= ? ORDER BY scheduled_at`, now)
	if err != nil {
		return nil, fmt.Errorf("due promotions: %w", err)
	}
	defer rows.Close()

	var out []haven.DelayedPromotion
	for rows.Next() {
		var p haven.DelayedPromotion
		var from, to string
		var executed int
		var reason sql.NullString
		if err := rows.Scan(&p.ID, &p.TeamID, &p.UserID, &from, &to, &p.ScheduledAt, &p.ExecuteAt, &executed, &reason); err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		p.FromRole = haven.Role(from)
		p.ToRole = haven.Role(to)
		p.Executed = executed != 0
		if reason.Valid {
			p.Reason = reason.String
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPromotionExecuted flags a delayed promotion as done, recording when
// it actually ran. The scheduled execute_at is kept as written.
func (s *TeamStore) MarkPromotionExecuted(ctx context.Context, id string, at int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE delayed_promotions SET executed = 1, executed_at = ? WHERE id = ? AND executed = 0`, at, id)
	if err != nil {
		return fmt.Errorf("mark promotion executed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return haven.Ef(haven.CodeNotFound, "promotion %s not found or already executed", id)
	}
	return nil
}

// GuestsJoinedBefore returns guest members whose join time is at or before
// the cutoff.
func (s *TeamStore) GuestsJoinedBefore(ctx context.Context, cutoff int64) ([]haven.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT team_id, user_id, role, job_role, joined_at, last_seen
		 FROM team_members WHERE role = ? AND joined_at <= ?`,
		string(haven.RoleGuest), cutoff)
	if err != nil {
		return nil, fmt.Errorf("guests joined before: %w", err)
	}
	defer rows.Close()

	var members []haven.Member
	for rows.Next() {
		var m haven.Member
		var role string
		var jobRole sql.NullString
		if err := rows.Scan(&m.TeamID, &m.UserID, &role, &jobRole, &m.JoinedAt, &m.LastSeen); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = haven.Role(role)
		if jobRole.Valid {
			m.JobRole = jobRole.String
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ActiveTempPromotion returns the team's active temporary promotion, if any.
func (s *TeamStore) ActiveTempPromotion(ctx context.Context, teamID string) (haven.TempPromotion, bool, error) {
	var p haven.TempPromotion
	var status string
	var revertedAt sql.NullInt64
	var approvedBy sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, original_super_admin_id, promoted_admin_id, status, promoted_at, reverted_at, approved_by
		 FROM temp_promotions WHERE team_id = ? AND status = ?`,
		teamID, string(haven.TempActive),
	).Scan(&p.ID, &p.TeamID, &p.OriginalSuperAdminID, &p.PromotedAdminID, &status, &p.PromotedAt, &revertedAt, &approvedBy)
	if err == sql.ErrNoRows {
		return haven.TempPromotion{}, false, nil
	}
	if err != nil {
		return haven.TempPromotion{}, false, fmt.Errorf("active temp promotion: %w", err)
	}
	p.Status = haven.TempPromotionStatus(status)
	if revertedAt.Valid {
		p.RevertedAt = revertedAt.Int64
	}
	if approvedBy.Valid {
		p.ApprovedBy = approvedBy.String
	}
	return p, true, nil
}

// CreateTempPromotion inserts a temporary promotion row.
func (s *TeamStore) CreateTempPromotion(ctx context.Context, p haven.TempPromotion) error {
	start := time.Now()
	s.logger.Debug("sqlite: create temp promotion", "id", p.ID, "team_id", p.TeamID, "promoted", p.PromotedAdminID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO temp_promotions (id, team_id, original_super_admin_id, promoted_admin_id, status, promoted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.TeamID, p.OriginalSuperAdminID, p.PromotedAdminID, string(p.Status), p.PromotedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: create temp promotion failed", "id", p.ID, "error", err)
		return fmt.Errorf("create temp promotion: %w", err)
	}
	s.logger.Debug("sqlite: create temp promotion ok", "id", p.ID, "duration", time.Since(start))
	return nil
}

// SettleTempPromotion moves an active temporary promotion to approved or
// reverted.
func (s *TeamStore) SettleTempPromotion(ctx context.Context, id string, status haven.TempPromotionStatus, by string, at int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE temp_promotions SET status = ?, reverted_at = ?, approved_by = ? WHERE id = ? AND status = ?`,
		string(status), at, nullStr(by), id, string(haven.TempActive),
	)
	if err != nil {
		return fmt.Errorf("settle temp promotion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return haven.Ef(haven.CodeConflict, "temp promotion %s is not active", id)
	}
	return nil
}

// AddGrant inserts a permission grant; duplicates are a no-op.
func (s *TeamStore) AddGrant(ctx context.Context, g haven.Grant) error {
	start := time.Now()
	s.logger.Debug("sqlite: add grant", "resource_id", g.ResourceID, "permission", g.Permission, "type", g.Type, "value", g.Value)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO permission_grants (resource_id, resource_kind, team_id, permission_type, grant_type, grant_value, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ResourceID, string(g.Kind), g.TeamID, g.Permission, string(g.Type), g.Value, g.CreatedAt, g.CreatedBy,
	)
	if err != nil {
		s.logger.Error("sqlite: add grant failed", "resource_id", g.ResourceID, "error", err)
		return fmt.Errorf("add grant: %w", err)
	}
	s.logger.Debug("sqlite: add grant ok", "resource_id", g.ResourceID, "duration", time.Since(start))
	return nil
}

// RemoveGrant deletes a permission grant.
func (s *TeamStore) RemoveGrant(ctx context.Context, g haven.Grant) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM permission_grants
		 WHERE resource_id = ? AND team_id = ? AND permission_type = ? AND grant_type = ? AND grant_value = ?`,
		g.ResourceID, g.TeamID, g.Permission, string(g.Type), g.Value,
	)
	if err != nil {
		return fmt.Errorf("remove grant: %w", err)
	}
	return nil
}

// GrantsForResource returns every grant attached to one resource.
func (s *TeamStore) GrantsForResource(ctx context.Context, kind haven.ResourceKind, resourceID, teamID string) ([]haven.Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT resource_id, resource_kind, team_id, permission_type, grant_type, grant_value, created_at, created_by
		 FROM permission_grants WHERE resource_kind = ? AND resource_id = ? AND team_id = ?`,
		string(kind), resourceID, teamID)
	if err != nil {
		return nil, fmt.Errorf("grants for resource: %w", err)
	}
	defer rows.Close()

	var grants []haven.Grant
	for rows.Next() {
		var g haven.Grant
		var k, gt string
		if err := rows.Scan(&g.ResourceID, &k, &g.TeamID, &g.Permission, &gt, &g.Value, &g.CreatedAt, &g.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g.Kind = haven.ResourceKind(k)
		g.Type = haven.GrantType(gt)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Close closes the underlying database connection.
func (s *TeamStore) Close() error { return s.close() }

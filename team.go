package haven

// Role is a team role on the strictly ordered ladder
// guest < member < admin < super_admin.
type Role string

const (
	RoleGuest      Role = "guest"
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

var roleRank = map[Role]int{
	RoleGuest:      0,
	RoleMember:     1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// AtLeast reports whether r sits at or above min on the role ladder.
// Unknown roles rank below guest.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// Valid reports whether r is one of the four ladder roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// MaxSuperAdmins returns the per-team super_admin cap, a non-decreasing step
// function of team size. Requesters holding Founder Rights bypass the cap.
func MaxSuperAdmins(teamSize int) int {
	switch {
	case teamSize <= 5:
		return 1
	case teamSize <= 15:
		return 2
	case teamSize <= 30:
		return 3
	case teamSize <= 50:
		return 4
	default:
		return 5
	}
}

// Team is the tenancy unit. The ID is derived from the name plus a random
// suffix at creation time and never changes.
type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	CreatedBy   string `json:"created_by"`
}

// Member is one user's membership in a team. JobRole is an orthogonal tag
// (e.g. "doctor") used as an additional grant axis in the permission cascade.
type Member struct {
	TeamID   string `json:"team_id"`
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	JobRole  string `json:"job_role,omitempty"`
	JoinedAt int64  `json:"joined_at"`
	LastSeen int64  `json:"last_seen"`
}

// InviteCode is a team join code. At most one code is active per team at any
// moment; generating a new one marks every previously active code as used.
type InviteCode struct {
	Code      string `json:"code"`
	TeamID    string `json:"team_id"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	Used      bool   `json:"used"`
	UsedBy    string `json:"used_by,omitempty"`
	UsedAt    int64  `json:"used_at,omitempty"`
}

// Active reports whether the code can still be redeemed at the given time.
func (c InviteCode) Active(now int64) bool {
	return !c.Used && now < c.ExpiresAt
}

// DelayedPromotion is a scheduled guest→member promotion executed by the
// periodic sweep once now >= ExecuteAt. At most one un-executed row exists
// per (team, user).
type DelayedPromotion struct {
	ID          string `json:"id"`
	TeamID      string `json:"team_id"`
	UserID      string `json:"user_id"`
	FromRole    Role   `json:"from_role"`
	ToRole      Role   `json:"to_role"`
	ScheduledAt int64  `json:"scheduled_at"`
	ExecuteAt   int64  `json:"execute_at"`
	Executed    bool   `json:"executed"`
	Reason      string `json:"reason"`
}

// TempPromotionStatus is the lifecycle state of a temporary super_admin
// promotion.
type TempPromotionStatus string

const (
	TempActive   TempPromotionStatus = "active"
	TempApproved TempPromotionStatus = "approved"
	TempReverted TempPromotionStatus = "reverted"
)

// TempPromotion marks an admin temporarily elevated to super_admin while the
// original super_admin is offline. At most one active row exists per team;
// the row is terminated by an explicit approve or revert.
type TempPromotion struct {
	ID                   string              `json:"id"`
	TeamID               string              `json:"team_id"`
	OriginalSuperAdminID string              `json:"original_super_admin_id"`
	PromotedAdminID      string              `json:"promoted_admin_id"`
	Status               TempPromotionStatus `json:"status"`
	PromotedAt           int64               `json:"promoted_at"`
	RevertedAt           int64               `json:"reverted_at,omitempty"`
	ApprovedBy           string              `json:"approved_by,omitempty"`
}

// ResourceKind identifies the family of a per-resource permission grant.
type ResourceKind string

const (
	ResourceWorkflow ResourceKind = "workflow"
	ResourceQueue    ResourceKind = "queue"
	ResourceVault    ResourceKind = "vault"
)

// GrantType is the axis a permission grant matches against.
type GrantType string

const (
	GrantUser    GrantType = "user"
	GrantJobRole GrantType = "job_role"
	GrantRole    GrantType = "role"
)

// Grant is one explicit per-resource permission row.
// (ResourceID, TeamID, Permission, Type, Value) is unique.
type Grant struct {
	ResourceID string       `json:"resource_id"`
	Kind       ResourceKind `json:"resource_kind"`
	TeamID     string       `json:"team_id"`
	Permission string       `json:"permission_type"`
	Type       GrantType    `json:"grant_type"`
	Value      string       `json:"grant_value"`
	CreatedAt  int64        `json:"created_at"`
	CreatedBy  string       `json:"created_by"`
}

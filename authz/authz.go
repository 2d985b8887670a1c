// Package authz is the authorization fabric: role-ladder checks, the
// per-resource permission cascade, invite-code lifecycle, promotion
// mechanics, and per-action rate limits. Every decision emits exactly one
// audit entry, and the entry is durably written before the answer is
// returned.
package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/havenlab/haven"
)

// Defaults for the promotion and invite state machines.
const (
	DefaultInviteTTL        = 30 * 24 * time.Hour
	DefaultDelayedPromotion = 21 * 24 * time.Hour
	DefaultAutoPromotion    = 7 * 24 * time.Hour
	DefaultOfflineThreshold = 5 * time.Minute

	// Invite brute-force lockout: >= lockoutFailures failed attempts from
	// one ip within lockoutWindow lock the (code, ip) pair.
	lockoutFailures = 5
	lockoutWindow   = 15 * time.Minute
)

// Decision is the result of one authorization evaluation. Reason is a
// human-readable explanation recorded in the audit log.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Option configures a Fabric.
type Option func(*Fabric)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fabric) { f.logger = l }
}

// WithFounders sets the process-wide set of user ids holding Founder
// Rights. Founders pass every check and bypass every numeric limit.
func WithFounders(ids ...string) Option {
	return func(f *Fabric) {
		for _, id := range ids {
			f.founders[id] = true
		}
	}
}

// WithRateBypass marks user ids holding the explicit rate-limit bypass
// permission.
func WithRateBypass(ids ...string) Option {
	return func(f *Fabric) {
		for _, id := range ids {
			f.rateBypass[id] = true
		}
	}
}

// WithInviteTTL overrides the invite code lifetime.
func WithInviteTTL(ttl time.Duration) Option {
	return func(f *Fabric) { f.inviteTTL = ttl }
}

// WithDelayedPromotionDelay overrides the decoy-path promotion delay.
func WithDelayedPromotionDelay(d time.Duration) Option {
	return func(f *Fabric) { f.delayedDelay = d }
}

// WithAutoPromotionAge overrides the guest tenure needed for automatic
// promotion.
func WithAutoPromotionAge(d time.Duration) Option {
	return func(f *Fabric) { f.autoAge = d }
}

// WithOfflineThreshold overrides the super-admin offline failsafe window.
func WithOfflineThreshold(d time.Duration) Option {
	return func(f *Fabric) { f.offlineAfter = d }
}

// Fabric answers authorization questions over one TeamStore and records
// every answer in the AuditStore.
type Fabric struct {
	teams      haven.TeamStore
	audit      haven.AuditStore
	founders   map[string]bool
	rateBypass map[string]bool
	limiter    *keyLimiter
	logger     *slog.Logger

	inviteTTL    time.Duration
	delayedDelay time.Duration
	autoAge      time.Duration
	offlineAfter time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Fabric.
func New(teams haven.TeamStore, audit haven.AuditStore, opts ...Option) *Fabric {
	f := &Fabric{
		teams:        teams,
		audit:        audit,
		founders:     make(map[string]bool),
		rateBypass:   make(map[string]bool),
		limiter:      newKeyLimiter(),
		logger:       nopLogger,
		inviteTTL:    DefaultInviteTTL,
		delayedDelay: DefaultDelayedPromotion,
		autoAge:      DefaultAutoPromotion,
		offlineAfter: DefaultOfflineThreshold,
		now:          time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// IsFounder reports whether the user holds Founder Rights.
func (f *Fabric) IsFounder(userID string) bool { return f.founders[userID] }

// record durably writes one audit entry for a decision. The write is
// synchronous: no authorization answer leaves the fabric before the entry
// is accepted by the store.
func (f *Fabric) record(ctx context.Context, userID, action, resource, resourceID, ip string, d Decision) error {
	details, _ := json.Marshal(d)
	entry := haven.AuditEntry{
		ID:         haven.NewID(),
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IP:         ip,
		Details:    string(details),
		CreatedAt:  f.now().Unix(),
	}
	if err := f.audit.Append(ctx, entry); err != nil {
		f.logger.Error("authz: audit append failed", "action", action, "user_id", userID, "error", err)
		return haven.Wrap(haven.CodeStore, "audit append", err)
	}
	f.logger.Debug("authz: decision", "action", action, "user_id", userID, "allow", d.Allow, "reason", d.Reason)
	return nil
}

// RequireRole checks that the user holds at least min on the team ladder
// and audits the decision.
func (f *Fabric) RequireRole(ctx context.Context, teamID, userID string, min haven.Role, action string) (Decision, error) {
	d := f.roleDecision(ctx, teamID, userID, min)
	if err := f.record(ctx, userID, action, "team", teamID, "", d); err != nil {
		return Decision{}, err
	}
	return d, nil
}

func (f *Fabric) roleDecision(ctx context.Context, teamID, userID string, min haven.Role) Decision {
	if f.founders[userID] {
		return Decision{Allow: true, Reason: "Founder rights"}
	}
	m, err := f.teams.GetMember(ctx, teamID, userID)
	if err != nil {
		return Decision{Reason: "Not a team member"}
	}
	if !m.Role.AtLeast(min) {
		return Decision{Reason: fmt.Sprintf("Requires %s or above, user is %s", min, m.Role)}
	}
	return Decision{Allow: true, Reason: fmt.Sprintf("Team role %s", m.Role)}
}

// AllowRate checks the per-user (or per-ip) action rate limit. Founders
// and holders of an explicit bypass always pass. The check short-circuits
// before any side effect; denials are audited like any other decision.
func (f *Fabric) AllowRate(ctx context.Context, key, userID, action string, limit int, window time.Duration) (Decision, error) {
	var d Decision
	switch {
	case f.founders[userID]:
		d = Decision{Allow: true, Reason: "Founder rights"}
	case f.rateBypass[userID]:
		d = Decision{Allow: true, Reason: "Rate limit bypass permission"}
	case f.limiter.allow(key, limit, window, f.now()):
		d = Decision{Allow: true, Reason: "Within rate limit"}
	default:
		d = Decision{Reason: fmt.Sprintf("Rate limit exceeded (%d per %s)", limit, window)}
	}
	if err := f.record(ctx, userID, action, "ratelimit", key, "", d); err != nil {
		return Decision{}, err
	}
	return d, nil
}

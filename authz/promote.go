package authz

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/havenlab/haven"
)

// Promote changes a member's role immediately. Requires admin or above on
// the requester, who must have authenticated through the real ceremony
// (the decoy path goes through ScheduleDelayedPromotion instead).
// Promotions to super_admin enforce the per-team cap unless the requester
// holds Founder Rights.
func (f *Fabric) Promote(ctx context.Context, teamID, requesterID, userID string, toRole haven.Role) (Decision, error) {
	d := f.promoteDecision(ctx, teamID, requesterID, userID, toRole)
	if err := f.record(ctx, requesterID, "role_updated", "team_member", userID, "", d); err != nil {
		return Decision{}, err
	}
	if !d.Allow {
		return d, nil
	}
	if err := f.teams.UpdateMemberRole(ctx, teamID, userID, toRole); err != nil {
		return Decision{}, haven.Wrap(haven.CodeStore, "update member role", err)
	}
	f.logger.Debug("authz: role updated", "team_id", teamID, "user_id", userID, "role", toRole)
	return d, nil
}

func (f *Fabric) promoteDecision(ctx context.Context, teamID, requesterID, userID string, toRole haven.Role) Decision {
	if !toRole.Valid() {
		return Decision{Reason: fmt.Sprintf("Unknown role %q", toRole)}
	}
	if !f.founders[requesterID] {
		rd := f.roleDecision(ctx, teamID, requesterID, haven.RoleAdmin)
		if !rd.Allow {
			return rd
		}
	}
	if _, err := f.teams.GetMember(ctx, teamID, userID); err != nil {
		return Decision{Reason: "Target is not a team member"}
	}
	if toRole == haven.RoleSuperAdmin && !f.founders[requesterID] {
		members, err := f.teams.ListMembers(ctx, teamID)
		if err != nil {
			return Decision{Reason: "Member listing failed"}
		}
		count, err := f.teams.CountSuperAdmins(ctx, teamID)
		if err != nil {
			return Decision{Reason: "Super admin count failed"}
		}
		max := haven.MaxSuperAdmins(len(members))
		if count >= max {
			return Decision{Reason: fmt.Sprintf("Cannot promote: maximum Super Admins (%d/%d for team size %d)", count, max, len(members))}
		}
	}
	return Decision{Allow: true, Reason: fmt.Sprintf("Promotion to %s approved", toRole)}
}

// ScheduleDelayedPromotion records a guest-to-member promotion to be
// executed by a later sweep. Used by the decoy authentication path, which
// must not change any role immediately.
func (f *Fabric) ScheduleDelayedPromotion(ctx context.Context, teamID, userID, reason string) (haven.DelayedPromotion, error) {
	now := f.now()
	p := haven.DelayedPromotion{
		ID:          haven.NewID(),
		TeamID:      teamID,
		UserID:      userID,
		FromRole:    haven.RoleGuest,
		ToRole:      haven.RoleMember,
		ScheduledAt: now.Unix(),
		ExecuteAt:   now.Add(f.delayedDelay).Unix(),
		Reason:      reason,
	}
	if err := f.teams.SchedulePromotion(ctx, p); err != nil {
		return haven.DelayedPromotion{}, haven.Wrap(haven.CodeStore, "schedule promotion", err)
	}
	d := Decision{Allow: true, Reason: fmt.Sprintf("Promotion scheduled for %s", time.Unix(p.ExecuteAt, 0).UTC().Format(time.RFC3339))}
	if err := f.record(ctx, userID, "promotion_scheduled", "team_member", userID, "", d); err != nil {
		return haven.DelayedPromotion{}, err
	}
	return p, nil
}

// Sweep executes promotion state transitions that have come due: delayed
// promotions whose execute_at has passed, in scheduled order, and the
// automatic guest-to-member promotion for guests past the tenure cutoff.
// Each executed promotion emits one role_updated audit entry. Returns the
// number of roles changed.
func (f *Fabric) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	now := f.now().Unix()
	changed := 0

	due, err := f.teams.DuePromotions(ctx, now)
	if err != nil {
		return 0, haven.Wrap(haven.CodeStore, "load due promotions", err)
	}
	for _, p := range due {
		if err := f.teams.UpdateMemberRole(ctx, p.TeamID, p.UserID, p.ToRole); err != nil {
			return changed, haven.Wrap(haven.CodeStore, "execute delayed promotion", err)
		}
		if err := f.teams.MarkPromotionExecuted(ctx, p.ID, now); err != nil {
			return changed, haven.Wrap(haven.CodeStore, "mark promotion executed", err)
		}
		d := Decision{Allow: true, Reason: fmt.Sprintf("Delayed promotion executed: %s", p.Reason)}
		if err := f.record(ctx, p.UserID, "role_updated", "team_member", p.UserID, "", d); err != nil {
			return changed, err
		}
		changed++
	}

	cutoff := f.now().Add(-f.autoAge).Unix()
	guests, err := f.teams.GuestsJoinedBefore(ctx, cutoff)
	if err != nil {
		return changed, haven.Wrap(haven.CodeStore, "load tenured guests", err)
	}
	for _, g := range guests {
		if err := f.teams.UpdateMemberRole(ctx, g.TeamID, g.UserID, haven.RoleMember); err != nil {
			return changed, haven.Wrap(haven.CodeStore, "execute automatic promotion", err)
		}
		d := Decision{Allow: true, Reason: "Automatic promotion after guest tenure"}
		if err := f.record(ctx, g.UserID, "role_updated", "team_member", g.UserID, "", d); err != nil {
			return changed, err
		}
		changed++
	}

	f.logger.Debug("authz: sweep complete", "delayed", len(due), "automatic", len(guests), "duration", time.Since(start))
	return changed, nil
}

// PromoteTempSuperAdmin runs the offline-super-admin failsafe: when a
// super_admin's last_seen is older than the offline threshold and no temp
// promotion is already active, the most senior admin by joined_at is
// elevated with an active TempPromotion marker. The elevation is settled
// later by ApproveTempPromotion or RevertTempPromotion.
func (f *Fabric) PromoteTempSuperAdmin(ctx context.Context, teamID string) (haven.TempPromotion, Decision, error) {
	now := f.now()
	deny := func(reason string) (haven.TempPromotion, Decision, error) {
		d := Decision{Reason: reason}
		if err := f.record(ctx, "", "temp_promotion_created", "team", teamID, "", d); err != nil {
			return haven.TempPromotion{}, Decision{}, err
		}
		return haven.TempPromotion{}, d, nil
	}

	if _, active, err := f.teams.ActiveTempPromotion(ctx, teamID); err != nil {
		return haven.TempPromotion{}, Decision{}, haven.Wrap(haven.CodeStore, "load temp promotion", err)
	} else if active {
		return deny("Temporary promotion already active")
	}

	members, err := f.teams.ListMembers(ctx, teamID)
	if err != nil {
		return haven.TempPromotion{}, Decision{}, haven.Wrap(haven.CodeStore, "list members", err)
	}

	offlineBefore := now.Add(-f.offlineAfter).Unix()
	var offline *haven.Member
	for i, m := range members {
		if m.Role == haven.RoleSuperAdmin && m.LastSeen <= offlineBefore {
			offline = &members[i]
			break
		}
	}
	if offline == nil {
		return deny("No super admin offline past threshold")
	}

	var admins []haven.Member
	for _, m := range members {
		if m.Role == haven.RoleAdmin {
			admins = append(admins, m)
		}
	}
	if len(admins) == 0 {
		return deny("No admin eligible for temporary promotion")
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].JoinedAt < admins[j].JoinedAt })
	senior := admins[0]

	p := haven.TempPromotion{
		ID:                   haven.NewID(),
		TeamID:               teamID,
		OriginalSuperAdminID: offline.UserID,
		PromotedAdminID:      senior.UserID,
		Status:               haven.TempActive,
		PromotedAt:           now.Unix(),
	}
	if err := f.teams.CreateTempPromotion(ctx, p); err != nil {
		return haven.TempPromotion{}, Decision{}, haven.Wrap(haven.CodeStore, "create temp promotion", err)
	}
	if err := f.teams.UpdateMemberRole(ctx, teamID, senior.UserID, haven.RoleSuperAdmin); err != nil {
		return haven.TempPromotion{}, Decision{}, haven.Wrap(haven.CodeStore, "elevate admin", err)
	}
	d := Decision{Allow: true, Reason: fmt.Sprintf("Temporary promotion while %s is offline", offline.UserID)}
	if err := f.record(ctx, senior.UserID, "temp_promotion_created", "team", teamID, "", d); err != nil {
		return haven.TempPromotion{}, Decision{}, err
	}
	f.logger.Debug("authz: temp promotion created", "team_id", teamID, "promoted", senior.UserID, "offline", offline.UserID)
	return p, d, nil
}

// ApproveTempPromotion makes the active temporary elevation permanent.
func (f *Fabric) ApproveTempPromotion(ctx context.Context, teamID, by string) (Decision, error) {
	p, active, err := f.teams.ActiveTempPromotion(ctx, teamID)
	if err != nil {
		return Decision{}, haven.Wrap(haven.CodeStore, "load temp promotion", err)
	}
	if !active {
		d := Decision{Reason: "No active temporary promotion"}
		if err := f.record(ctx, by, "temp_promotion_approved", "team", teamID, "", d); err != nil {
			return Decision{}, err
		}
		return d, nil
	}
	if err := f.teams.SettleTempPromotion(ctx, p.ID, haven.TempApproved, by, f.now().Unix()); err != nil {
		return Decision{}, haven.Wrap(haven.CodeStore, "approve temp promotion", err)
	}
	d := Decision{Allow: true, Reason: fmt.Sprintf("Temporary promotion of %s made permanent", p.PromotedAdminID)}
	if err := f.record(ctx, by, "temp_promotion_approved", "team", teamID, "", d); err != nil {
		return Decision{}, err
	}
	return d, nil
}

// RevertTempPromotion demotes the temporarily elevated admin back to
// admin and closes the marker.
func (f *Fabric) RevertTempPromotion(ctx context.Context, teamID, by string) (Decision, error) {
	p, active, err := f.teams.ActiveTempPromotion(ctx, teamID)
	if err != nil {
		return Decision{}, haven.Wrap(haven.CodeStore, "load temp promotion", err)
	}
	if !active {
		d := Decision{Reason: "No active temporary promotion"}
		if err := f.record(ctx, by, "temp_promotion_reverted", "team", teamID, "", d); err != nil {
			return Decision{}, err
		}
		return d, nil
	}
	if err := f.teams.SettleTempPromotion(ctx, p.ID, haven.TempReverted, by, f.now().Unix()); err != nil {
		return Decision{}, haven.Wrap(haven.CodeStore, "revert temp promotion", err)
	}
	if err := f.teams.UpdateMemberRole(ctx, teamID, p.PromotedAdminID, haven.RoleAdmin); err != nil {
		return Decision{}, haven.Wrap(haven.CodeStore, "demote temp super admin", err)
	}
	d := Decision{Allow: true, Reason: fmt.Sprintf("Temporary promotion of %s reverted", p.PromotedAdminID)}
	if err := f.record(ctx, by, "temp_promotion_reverted", "team", teamID, "", d); err != nil {
		return Decision{}, err
	}
	return d, nil
}

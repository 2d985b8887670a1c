package authz

import (
	"context"
	"crypto/rand"
	"errors"

	"github.com/havenlab/haven"
)

const inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateInvite rotates the team's invite code: a fresh unique code is
// created and every previously active code is retired in the same store
// transaction. Requires admin or above.
func (f *Fabric) GenerateInvite(ctx context.Context, teamID, requesterID string) (haven.InviteCode, error) {
	d := f.roleDecision(ctx, teamID, requesterID, haven.RoleAdmin)
	if !d.Allow {
		if err := f.record(ctx, requesterID, "invite_generated", "team", teamID, "", d); err != nil {
			return haven.InviteCode{}, err
		}
		return haven.InviteCode{}, haven.E(haven.CodeForbidden, d.Reason)
	}

	code, err := f.uniqueCode(ctx)
	if err != nil {
		return haven.InviteCode{}, err
	}
	now := f.now()
	inv := haven.InviteCode{
		Code:      code,
		TeamID:    teamID,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(f.inviteTTL).Unix(),
	}
	if err := f.teams.RotateInvite(ctx, inv); err != nil {
		return haven.InviteCode{}, haven.Wrap(haven.CodeStore, "rotate invite", err)
	}
	if err := f.record(ctx, requesterID, "invite_generated", "team", teamID, "", d); err != nil {
		return haven.InviteCode{}, err
	}
	return inv, nil
}

// uniqueCode draws codes until one misses the store. Collisions over a
// 36^15 space are vanishingly rare, so the loop is bounded defensively.
func (f *Fabric) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < 5; i++ {
		code, err := newInviteCode()
		if err != nil {
			return "", err
		}
		_, err = f.teams.GetInvite(ctx, code)
		if err == nil {
			continue
		}
		var herr *haven.Error
		if errors.As(err, &herr) && herr.Code == haven.CodeNotFound {
			return code, nil
		}
		return "", haven.Wrap(haven.CodeStore, "check invite uniqueness", err)
	}
	return "", haven.E(haven.CodeInternal, "could not generate a unique invite code")
}

// newInviteCode renders three 5-char alphanumeric groups, XXXXX-XXXXX-XXXXX.
func newInviteCode() (string, error) {
	buf := make([]byte, 15)
	if _, err := rand.Read(buf); err != nil {
		return "", haven.Wrap(haven.CodeInternal, "read random bytes", err)
	}
	out := make([]byte, 0, 17)
	for i, b := range buf {
		if i > 0 && i%5 == 0 {
			out = append(out, '-')
		}
		out = append(out, inviteAlphabet[int(b)%len(inviteAlphabet)])
	}
	return string(out), nil
}

// RedeemInvite attempts to join a team with an invite code. The caller
// joins as guest on success. A (code, ip) pair with five or more failed
// attempts inside the lockout window is locked: the answer is a plain
// deny without consulting the code table, so probing a locked code leaks
// nothing about its validity.
func (f *Fabric) RedeemInvite(ctx context.Context, code, userID, ip string) (Decision, error) {
	now := f.now()
	since := now.Add(-lockoutWindow).Unix()

	fails, err := f.teams.CountInviteFailures(ctx, code, ip, since)
	if err != nil {
		return Decision{}, haven.Wrap(haven.CodeStore, "count invite failures", err)
	}
	if fails >= lockoutFailures {
		if err := f.teams.RecordInviteAttempt(ctx, code, ip, false, now.Unix()); err != nil {
			return Decision{}, haven.Wrap(haven.CodeStore, "record invite attempt", err)
		}
		d := Decision{Reason: "Invite code locked"}
		if err := f.record(ctx, userID, "invite_redeemed", "invite", code, ip, d); err != nil {
			return Decision{}, err
		}
		return d, nil
	}

	inv, err := f.teams.GetInvite(ctx, code)
	if err != nil {
		var herr *haven.Error
		if errors.As(err, &herr) && herr.Code == haven.CodeNotFound {
			return f.failRedemption(ctx, code, userID, ip, now.Unix())
		}
		return Decision{}, haven.Wrap(haven.CodeStore, "load invite", err)
	}

	// An existing member must not burn the team's only active code. The
	// deny is not a failed attempt either: the code stays clean for others.
	_, err = f.teams.GetMember(ctx, inv.TeamID, userID)
	if err == nil {
		d := Decision{Reason: "Already a team member"}
		if err := f.record(ctx, userID, "invite_redeemed", "team", inv.TeamID, ip, d); err != nil {
			return Decision{}, err
		}
		return d, nil
	}
	var herr *haven.Error
	if !errors.As(err, &herr) || herr.Code != haven.CodeNotFound {
		return Decision{}, haven.Wrap(haven.CodeStore, "check membership", err)
	}

	won, err := f.teams.ConsumeInvite(ctx, code, userID, now.Unix())
	if err != nil {
		return Decision{}, haven.Wrap(haven.CodeStore, "consume invite", err)
	}
	if !won {
		// Expired, already used, or lost the race. All read as "invalid".
		return f.failRedemption(ctx, code, userID, ip, now.Unix())
	}

	if err := f.teams.RecordInviteAttempt(ctx, code, ip, true, now.Unix()); err != nil {
		return Decision{}, haven.Wrap(haven.CodeStore, "record invite attempt", err)
	}
	m := haven.Member{
		TeamID:   inv.TeamID,
		UserID:   userID,
		Role:     haven.RoleGuest,
		JoinedAt: now.Unix(),
		LastSeen: now.Unix(),
	}
	if err := f.teams.AddMember(ctx, m); err != nil {
		return Decision{}, haven.Wrap(haven.CodeStore, "add member", err)
	}
	d := Decision{Allow: true, Reason: "Invite code redeemed"}
	if err := f.record(ctx, userID, "invite_redeemed", "team", inv.TeamID, ip, d); err != nil {
		return Decision{}, err
	}
	f.logger.Debug("authz: invite redeemed", "team_id", inv.TeamID, "user_id", userID)
	return d, nil
}

func (f *Fabric) failRedemption(ctx context.Context, code, userID, ip string, at int64) (Decision, error) {
	if err := f.teams.RecordInviteAttempt(ctx, code, ip, false, at); err != nil {
		return Decision{}, haven.Wrap(haven.CodeStore, "record invite attempt", err)
	}
	d := Decision{Reason: "Invalid invite code"}
	if err := f.record(ctx, userID, "invite_redeemed", "invite", code, ip, d); err != nil {
		return Decision{}, err
	}
	return d, nil
}

package authz

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/havenlab/haven"
)

var codeFormat = regexp.MustCompile(`^[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}$`)

func TestGenerateInviteRequiresAdmin(t *testing.T) {
	f, ts, _ := testFabric(t)
	seedTeam(t, ts, "t1",
		haven.Member{UserID: "m1", Role: haven.RoleMember, JoinedAt: 1000},
		haven.Member{UserID: "a1", Role: haven.RoleAdmin, JoinedAt: 1000},
	)
	ctx := context.Background()

	if _, err := f.GenerateInvite(ctx, "t1", "m1"); err == nil {
		t.Fatal("member should not generate invites")
	}

	inv, err := f.GenerateInvite(ctx, "t1", "a1")
	if err != nil {
		t.Fatalf("GenerateInvite: %v", err)
	}
	if !codeFormat.MatchString(inv.Code) {
		t.Errorf("malformed code %q", inv.Code)
	}
	if inv.ExpiresAt-inv.CreatedAt != int64(DefaultInviteTTL/time.Second) {
		t.Errorf("unexpected ttl: %d..%d", inv.CreatedAt, inv.ExpiresAt)
	}
}

func TestGenerateInviteRetiresPrevious(t *testing.T) {
	f, ts, _ := testFabric(t)
	seedTeam(t, ts, "t1", haven.Member{UserID: "a1", Role: haven.RoleAdmin, JoinedAt: 1000})
	ctx := context.Background()

	first, err := f.GenerateInvite(ctx, "t1", "a1")
	if err != nil {
		t.Fatalf("GenerateInvite: %v", err)
	}
	if _, err := f.GenerateInvite(ctx, "t1", "a1"); err != nil {
		t.Fatalf("GenerateInvite: %v", err)
	}

	got, err := ts.GetInvite(ctx, first.Code)
	if err != nil {
		t.Fatalf("GetInvite: %v", err)
	}
	if !got.Used {
		t.Error("rotation should retire the previous code")
	}
}

func TestRedeemInviteJoinsAsGuest(t *testing.T) {
	f, ts, _ := testFabric(t)
	seedTeam(t, ts, "t1", haven.Member{UserID: "a1", Role: haven.RoleAdmin, JoinedAt: 1000})
	ctx := context.Background()

	inv, err := f.GenerateInvite(ctx, "t1", "a1")
	if err != nil {
		t.Fatalf("GenerateInvite: %v", err)
	}

	d, err := f.RedeemInvite(ctx, inv.Code, "newbie", "10.0.0.1")
	if err != nil || !d.Allow {
		t.Fatalf("redemption should succeed: %+v %v", d, err)
	}
	m, err := ts.GetMember(ctx, "t1", "newbie")
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if m.Role != haven.RoleGuest {
		t.Errorf("new joiner should be guest, got %s", m.Role)
	}

	// The code is consumed; a second redemption reads as invalid.
	d, err = f.RedeemInvite(ctx, inv.Code, "late", "10.0.0.2")
	if err != nil || d.Allow {
		t.Fatalf("used code should be invalid: %+v %v", d, err)
	}
	if d.Reason != "Invalid invite code" {
		t.Errorf("unexpected reason: %q", d.Reason)
	}
}

func TestRedeemByExistingMemberKeepsCode(t *testing.T) {
	f, ts, _ := testFabric(t)
	seedTeam(t, ts, "t1", haven.Member{UserID: "a1", Role: haven.RoleAdmin, JoinedAt: 1000})
	ctx := context.Background()

	inv, err := f.GenerateInvite(ctx, "t1", "a1")
	if err != nil {
		t.Fatalf("GenerateInvite: %v", err)
	}

	// The admin already belongs to the team; the deny must not consume
	// the only active code.
	d, err := f.RedeemInvite(ctx, inv.Code, "a1", "10.0.0.1")
	if err != nil || d.Allow {
		t.Fatalf("member redemption should be denied: %+v %v", d, err)
	}
	if d.Reason != "Already a team member" {
		t.Errorf("unexpected reason: %q", d.Reason)
	}
	got, err := ts.GetInvite(ctx, inv.Code)
	if err != nil {
		t.Fatalf("GetInvite: %v", err)
	}
	if got.Used {
		t.Fatal("code should survive a member's redemption attempt")
	}
	if m, err := ts.GetMember(ctx, "t1", "a1"); err != nil || m.Role != haven.RoleAdmin {
		t.Errorf("membership should be untouched: %+v %v", m, err)
	}

	// A newcomer still redeems the same code afterwards.
	d, err = f.RedeemInvite(ctx, inv.Code, "newbie", "10.0.0.2")
	if err != nil || !d.Allow {
		t.Fatalf("newcomer redemption should succeed: %+v %v", d, err)
	}
}

func TestRedeemUnknownCodeInvalid(t *testing.T) {
	f, _, _ := testFabric(t)
	ctx := context.Background()

	d, err := f.RedeemInvite(ctx, "AAAAA-BBBBB-CCCCC", "u1", "10.0.0.1")
	if err != nil || d.Allow {
		t.Fatalf("unknown code should be invalid: %+v %v", d, err)
	}
	if d.Reason != "Invalid invite code" {
		t.Errorf("unexpected reason: %q", d.Reason)
	}
}

func TestInviteBruteForceLockout(t *testing.T) {
	f, ts, _ := testFabric(t)
	seedTeam(t, ts, "t1", haven.Member{UserID: "a1", Role: haven.RoleAdmin, JoinedAt: 1000})
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	clock := base
	f.now = func() time.Time { return clock }

	inv, err := f.GenerateInvite(ctx, "t1", "a1")
	if err != nil {
		t.Fatalf("GenerateInvite: %v", err)
	}

	// Five failed attempts against the code from one ip inside the window.
	for i := 0; i < 5; i++ {
		if err := ts.RecordInviteAttempt(ctx, inv.Code, "6.6.6.6", false, base.Unix()); err != nil {
			t.Fatalf("RecordInviteAttempt: %v", err)
		}
	}

	// The sixth attempt is locked even though the code is correct.
	clock = base.Add(time.Minute)
	d, err := f.RedeemInvite(ctx, inv.Code, "attacker", "6.6.6.6")
	if err != nil || d.Allow {
		t.Fatalf("locked attempt should be denied: %+v %v", d, err)
	}
	if d.Reason != "Invite code locked" {
		t.Errorf("unexpected reason: %q", d.Reason)
	}

	// The lockout is per ip: another ip redeems the same code fine.
	d, err = f.RedeemInvite(ctx, inv.Code, "friend", "10.0.0.9")
	if err != nil || !d.Allow {
		t.Fatalf("another ip should not be locked: %+v %v", d, err)
	}

	// Sixteen minutes later the window has slid past the failures, but
	// the code is now used, so the attacker still gets a plain invalid.
	clock = base.Add(16 * time.Minute)
	d, err = f.RedeemInvite(ctx, inv.Code, "attacker", "6.6.6.6")
	if err != nil || d.Allow {
		t.Fatalf("used code: %+v %v", d, err)
	}
	if d.Reason != "Invalid invite code" {
		t.Errorf("expected the lockout to have expired, got %q", d.Reason)
	}
}

func TestLockoutExpiresAndRedeems(t *testing.T) {
	f, ts, _ := testFabric(t)
	seedTeam(t, ts, "t1", haven.Member{UserID: "a1", Role: haven.RoleAdmin, JoinedAt: 1000})
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	clock := base
	f.now = func() time.Time { return clock }

	inv, err := f.GenerateInvite(ctx, "t1", "a1")
	if err != nil {
		t.Fatalf("GenerateInvite: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := ts.RecordInviteAttempt(ctx, inv.Code, "6.6.6.6", false, base.Unix()); err != nil {
			t.Fatalf("RecordInviteAttempt: %v", err)
		}
	}

	clock = base.Add(time.Minute)
	if d, _ := f.RedeemInvite(ctx, inv.Code, "u1", "6.6.6.6"); d.Allow {
		t.Fatal("should be locked inside the window")
	}

	clock = base.Add(16 * time.Minute)
	d, err := f.RedeemInvite(ctx, inv.Code, "u1", "6.6.6.6")
	if err != nil || !d.Allow {
		t.Fatalf("redemption after the window should succeed: %+v %v", d, err)
	}
	got, err := ts.GetInvite(ctx, inv.Code)
	if err != nil {
		t.Fatalf("GetInvite: %v", err)
	}
	if !got.Used || got.UsedBy != "u1" {
		t.Errorf("code should be consumed by u1: %+v", got)
	}
}

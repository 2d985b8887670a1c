package authz

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/havenlab/haven"
	"github.com/havenlab/haven/store/sqlite"
)

func testFabric(t *testing.T, opts ...Option) (*Fabric, *sqlite.TeamStore, *sqlite.AuditStore) {
	t.Helper()
	dir := t.TempDir()
	ts := sqlite.NewTeamStore(filepath.Join(dir, "app.db"))
	as := sqlite.NewAuditStore(filepath.Join(dir, "audit.db"))
	ctx := context.Background()
	if err := ts.Init(ctx); err != nil {
		t.Fatalf("team store init: %v", err)
	}
	if err := as.Init(ctx); err != nil {
		t.Fatalf("audit store init: %v", err)
	}
	t.Cleanup(func() {
		ts.Close() //nolint:errcheck
		as.Close() //nolint:errcheck
	})
	return New(ts, as, opts...), ts, as
}

func seedTeam(t *testing.T, ts *sqlite.TeamStore, teamID string, members ...haven.Member) {
	t.Helper()
	ctx := context.Background()
	err := ts.CreateTeam(ctx, haven.Team{ID: teamID, Name: teamID, CreatedAt: 1000, CreatedBy: "founder"})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	for _, m := range members {
		m.TeamID = teamID
		if err := ts.AddMember(ctx, m); err != nil {
			t.Fatalf("add member %s: %v", m.UserID, err)
		}
	}
}

func TestRequireRoleLadder(t *testing.T) {
	f, ts, _ := testFabric(t)
	seedTeam(t, ts, "t1",
		haven.Member{UserID: "g1", Role: haven.RoleGuest, JoinedAt: 1000},
		haven.Member{UserID: "a1", Role: haven.RoleAdmin, JoinedAt: 1000},
	)
	ctx := context.Background()

	d, err := f.RequireRole(ctx, "t1", "a1", haven.RoleMember, "session_delete")
	if err != nil || !d.Allow {
		t.Fatalf("admin should pass a member check: %+v %v", d, err)
	}
	d, err = f.RequireRole(ctx, "t1", "g1", haven.RoleMember, "session_delete")
	if err != nil || d.Allow {
		t.Fatalf("guest should fail a member check: %+v %v", d, err)
	}
	d, err = f.RequireRole(ctx, "t1", "nobody", haven.RoleGuest, "session_delete")
	if err != nil || d.Allow {
		t.Fatalf("non-member should be denied: %+v %v", d, err)
	}
}

func TestEveryDecisionAudited(t *testing.T) {
	f, ts, as := testFabric(t)
	seedTeam(t, ts, "t1", haven.Member{UserID: "m1", Role: haven.RoleMember, JoinedAt: 1000})
	ctx := context.Background()

	before, _ := as.Count(ctx)
	f.RequireRole(ctx, "t1", "m1", haven.RoleAdmin, "x")                      //nolint:errcheck
	f.Can(ctx, "t1", "m1", haven.ResourceWorkflow, "wf1", "view")             //nolint:errcheck
	f.AllowRate(ctx, "route:m1", "m1", "route", 60, time.Minute)              //nolint:errcheck
	after, _ := as.Count(ctx)
	if after-before != 3 {
		t.Fatalf("expected 3 audit entries, got %d", after-before)
	}

	entries, err := as.Recent(ctx, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Recent: %v %v", entries, err)
	}
	if entries[0].UserID != "m1" || entries[0].Details == "" {
		t.Errorf("audit entry missing fields: %+v", entries[0])
	}
}

func TestAllowRateWindow(t *testing.T) {
	f, _, _ := testFabric(t)
	clock := time.Unix(1_700_000_000, 0)
	f.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := f.AllowRate(ctx, "apply:u1", "u1", "apply", 3, time.Minute)
		if err != nil || !d.Allow {
			t.Fatalf("call %d should pass: %+v %v", i, d, err)
		}
	}
	d, _ := f.AllowRate(ctx, "apply:u1", "u1", "apply", 3, time.Minute)
	if d.Allow {
		t.Fatal("fourth call within the window should be limited")
	}

	// Another key is an independent window.
	d, _ = f.AllowRate(ctx, "apply:u2", "u2", "apply", 3, time.Minute)
	if !d.Allow {
		t.Fatal("a different key should not be limited")
	}

	clock = clock.Add(61 * time.Second)
	d, _ = f.AllowRate(ctx, "apply:u1", "u1", "apply", 3, time.Minute)
	if !d.Allow {
		t.Fatal("window should have slid past the old hits")
	}
}

func TestRateBypasses(t *testing.T) {
	f, _, _ := testFabric(t, WithFounders("root"), WithRateBypass("ops"))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := f.AllowRate(ctx, "apply:root", "root", "apply", 1, time.Minute)
		if err != nil || !d.Allow {
			t.Fatalf("founder should always pass: %+v %v", d, err)
		}
		d, err = f.AllowRate(ctx, "apply:ops", "ops", "apply", 1, time.Minute)
		if err != nil || !d.Allow {
			t.Fatalf("bypass holder should always pass: %+v %v", d, err)
		}
	}
}

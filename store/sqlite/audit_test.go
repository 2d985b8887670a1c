package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/havenlab/haven"
)

func TestAuditAppendAndRecent(t *testing.T) {
	s := NewAuditStore(filepath.Join(t.TempDir(), "audit_log.db"))
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	entries := []haven.AuditEntry{
		{ID: haven.NewID(), UserID: "u1", Action: "team.create", ResourceID: "t1", Details: "created", CreatedAt: 100},
		{ID: haven.NewID(), UserID: "u1", Action: "invite.generate", ResourceID: "t1", Details: "rotated", CreatedAt: 200},
		{ID: haven.NewID(), UserID: "u2", Action: "invite.redeem", ResourceID: "t1", IP: "10.0.0.1", Details: "joined", CreatedAt: 300},
	}
	for _, e := range entries {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 entries, got %d", n)
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].Action != "invite.redeem" || recent[0].IP != "10.0.0.1" {
		t.Errorf("expected newest first, got %+v", recent[0])
	}
}

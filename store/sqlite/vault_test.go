package sqlite

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/havenlab/haven"
)

func testVaultStore(t *testing.T) *VaultStore {
	t.Helper()
	s := NewVaultStore(filepath.Join(t.TempDir(), "app.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestVaultPutGetList(t *testing.T) {
	s := testVaultStore(t)
	ctx := context.Background()

	item := haven.VaultItem{
		ID: haven.NewID(), TeamID: "t1", Name: "api-key", Type: "secret",
		Ciphertext: []byte{1, 2, 3, 4}, KeyHash: "abcd", Size: 4,
		CreatedAt: 100, CreatedBy: "sa",
		Metadata: map[string]string{"env": "prod"},
	}
	if err := s.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem: %v", err)
	}

	got, err := s.GetItem(ctx, "t1", item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !bytes.Equal(got.Ciphertext, item.Ciphertext) || got.KeyHash != "abcd" {
		t.Errorf("ciphertext not round-tripped: %+v", got)
	}
	if got.Metadata["env"] != "prod" {
		t.Errorf("metadata not round-tripped: %v", got.Metadata)
	}

	// Items are team scoped.
	if _, err := s.GetItem(ctx, "t2", item.ID); err == nil {
		t.Fatal("expected not found for wrong team")
	}

	items, err := s.ListItems(ctx, "t1")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}

func TestVaultSoftDelete(t *testing.T) {
	s := testVaultStore(t)
	ctx := context.Background()

	item := haven.VaultItem{
		ID: haven.NewID(), TeamID: "t1", Name: "doc", Type: "file",
		Ciphertext: []byte("x"), KeyHash: "h", Size: 1, CreatedAt: 100, CreatedBy: "sa",
	}
	s.PutItem(ctx, item)

	if err := s.MarkDeleted(ctx, "t1", item.ID, "sa", 200); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	// Deleted items vanish from listings but the row survives.
	items, _ := s.ListItems(ctx, "t1")
	if len(items) != 0 {
		t.Fatalf("expected empty listing, got %d", len(items))
	}
	got, err := s.GetItem(ctx, "t1", item.ID)
	if err != nil {
		t.Fatalf("GetItem after delete: %v", err)
	}
	if !got.Deleted || got.UpdatedBy != "sa" {
		t.Errorf("expected soft-deleted row, got %+v", got)
	}

	// Deleting twice is reported.
	if err := s.MarkDeleted(ctx, "t1", item.ID, "sa", 300); err == nil {
		t.Fatal("expected error on double delete")
	}
}

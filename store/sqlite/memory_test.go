package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/havenlab/haven"
)

func testMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(filepath.Join(t.TempDir(), "chat_memory.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestMemoryInitIdempotent(t *testing.T) {
	s := NewMemoryStore(filepath.Join(t.TempDir(), "init.db"))
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestSessionCRUD(t *testing.T) {
	s := testMemoryStore(t)
	ctx := context.Background()

	now := haven.NowUnix()
	sess := haven.Session{ID: haven.NewID(), Title: "New Chat", OwnerID: "u1", DefaultModel: "llama3", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.OwnerID != "u1" || got.Title != "New Chat" || got.DefaultModel != "llama3" {
		t.Errorf("unexpected session: %+v", got)
	}

	sessions, err := s.ListSessions(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}

	if err := s.RenameSession(ctx, sess.ID, "Planning the trip", true); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	got, _ = s.GetSession(ctx, sess.ID)
	if got.Title != "Planning the trip" || !got.AutoTitled {
		t.Errorf("expected auto-titled rename, got %+v", got)
	}

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(ctx, sess.ID); err == nil {
		t.Fatal("expected error after delete")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := testMemoryStore(t)
	_, err := s.GetSession(context.Background(), "nope")
	var herr *haven.Error
	if !errors.As(err, &herr) || herr.Code != haven.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestAppendMessageUpdatesSession(t *testing.T) {
	s := testMemoryStore(t)
	ctx := context.Background()

	sess := haven.Session{ID: haven.NewID(), Title: "t", OwnerID: "u1", CreatedAt: 100, UpdatedAt: 100}
	s.CreateSession(ctx, sess)

	msgs := []haven.Message{
		{ID: haven.NewID(), SessionID: sess.ID, Role: "user", Content: "Hello", CreatedAt: 1000},
		{ID: haven.NewID(), SessionID: sess.ID, Role: "assistant", Content: "Hi!", Model: "llama3", Tokens: 1, CreatedAt: 1001},
		{ID: haven.NewID(), SessionID: sess.ID, Role: "assistant", Content: "Bye", Model: "qwen2", Tokens: 1, CreatedAt: 1002},
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.MessageCount != 3 {
		t.Errorf("expected message_count 3, got %d", got.MessageCount)
	}
	if len(got.ModelsUsed) != 2 || got.ModelsUsed[0] != "llama3" || got.ModelsUsed[1] != "qwen2" {
		t.Errorf("expected models [llama3 qwen2], got %v", got.ModelsUsed)
	}
	if got.UpdatedAt != 1002 {
		t.Errorf("expected updated_at 1002, got %d", got.UpdatedAt)
	}

	recent, err := s.GetRecentMessages(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("GetRecentMessages: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(recent))
	}
	if recent[0].Content != "Hello" || recent[2].Content != "Bye" {
		t.Error("messages not in chronological order")
	}

	// Limit returns the most recent turns.
	recent2, _ := s.GetRecentMessages(ctx, sess.ID, 2)
	if len(recent2) != 2 || recent2[0].Content != "Hi!" {
		t.Errorf("limit 2: expected [Hi! Bye], got %v", recent2)
	}
}

func TestAppendMessageMissingSession(t *testing.T) {
	s := testMemoryStore(t)
	msg := haven.Message{ID: haven.NewID(), SessionID: "missing", Role: "user", Content: "x", CreatedAt: 1}
	if err := s.AppendMessage(context.Background(), msg); err == nil {
		t.Fatal("expected error for missing session")
	}
}

func TestUpsertSummaryIdempotent(t *testing.T) {
	s := testMemoryStore(t)
	ctx := context.Background()

	sess := haven.Session{ID: haven.NewID(), Title: "t", OwnerID: "u1", CreatedAt: 100, UpdatedAt: 100}
	s.CreateSession(ctx, sess)

	sum := haven.Summary{
		SessionID:  sess.ID,
		Text:       "- [user] Hello\n",
		Events:     []haven.SummaryEvent{{Role: "user", Excerpt: "Hello", At: 1000}},
		ModelsUsed: []string{"llama3"},
		CreatedAt:  1000,
		UpdatedAt:  1000,
	}
	if err := s.UpsertSummary(ctx, sum); err != nil {
		t.Fatalf("first UpsertSummary: %v", err)
	}
	if err := s.UpsertSummary(ctx, sum); err != nil {
		t.Fatalf("second UpsertSummary: %v", err)
	}

	got, err := s.GetSummary(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if got.Text != sum.Text || len(got.Events) != 1 {
		t.Errorf("unexpected summary: %+v", got)
	}

	// The digest text is mirrored into the session row.
	sessGot, _ := s.GetSession(ctx, sess.ID)
	if sessGot.Summary != sum.Text {
		t.Errorf("summary not mirrored to session: %q", sessGot.Summary)
	}
}

func TestStoreAndGetChunks(t *testing.T) {
	s := testMemoryStore(t)
	ctx := context.Background()

	sess := haven.Session{ID: haven.NewID(), Title: "t", OwnerID: "u1", CreatedAt: 100, UpdatedAt: 100}
	s.CreateSession(ctx, sess)

	fileID := haven.NewID()
	chunks := []haven.Chunk{
		{ID: haven.NewID(), SessionID: sess.ID, FileID: fileID, Filename: "notes.txt", ChunkIndex: 0, TotalChunks: 2, Content: "part one", Embedding: []float32{1, 0}, CreatedAt: 1000},
		{ID: haven.NewID(), SessionID: sess.ID, FileID: fileID, Filename: "notes.txt", ChunkIndex: 1, TotalChunks: 2, Content: "part two", Embedding: []float32{0, 1}, CreatedAt: 1000},
	}
	if err := s.StoreChunks(ctx, chunks); err != nil {
		t.Fatalf("StoreChunks: %v", err)
	}

	got, err := s.GetChunks(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].ChunkIndex != 0 || got[1].ChunkIndex != 1 {
		t.Error("chunks not ordered by chunk_index")
	}
	if len(got[0].Embedding) != 2 {
		t.Errorf("embedding not round-tripped: %v", got[0].Embedding)
	}

	// Deleting the session removes its chunks.
	s.DeleteSession(ctx, sess.ID)
	got, _ = s.GetChunks(ctx, sess.ID)
	if len(got) != 0 {
		t.Fatalf("expected 0 chunks after delete, got %d", len(got))
	}
}

func TestMessageEmbeddings(t *testing.T) {
	s := testMemoryStore(t)
	ctx := context.Background()

	sess := haven.Session{ID: haven.NewID(), Title: "t", OwnerID: "u1", CreatedAt: 100, UpdatedAt: 100}
	s.CreateSession(ctx, sess)

	m1 := haven.Message{ID: haven.NewID(), SessionID: sess.ID, Role: "user", Content: "first", CreatedAt: 1000}
	m2 := haven.Message{ID: haven.NewID(), SessionID: sess.ID, Role: "user", Content: "second", CreatedAt: 1001}
	s.AppendMessage(ctx, m1)
	s.AppendMessage(ctx, m2)

	if err := s.StoreMessageEmbedding(ctx, m1.ID, sess.ID, []float32{0.6, 0.8}); err != nil {
		t.Fatalf("StoreMessageEmbedding: %v", err)
	}

	got, err := s.RecentEmbedded(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("RecentEmbedded: %v", err)
	}
	if len(got) != 1 || got[0].ID != m1.ID {
		t.Fatalf("expected only the embedded message, got %v", got)
	}
	if len(got[0].Embedding) != 2 {
		t.Errorf("embedding not returned: %v", got[0].Embedding)
	}

	// Overwrite is allowed; no second row appears.
	if err := s.StoreMessageEmbedding(ctx, m1.ID, sess.ID, []float32{1, 0}); err != nil {
		t.Fatalf("overwrite StoreMessageEmbedding: %v", err)
	}
	got, _ = s.RecentEmbedded(ctx, "u1", 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 embedded message after overwrite, got %d", len(got))
	}

	// Unknown message id is reported.
	if err := s.StoreMessageEmbedding(ctx, "missing", sess.ID, []float32{1}); err == nil {
		t.Fatal("expected error for unknown message")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors: got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors: got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1}); got != 0 {
		t.Errorf("mismatched dims: got %f", got)
	}
	if got := cosineSimilarity(nil, nil); got != 0 {
		t.Errorf("empty vectors: got %f", got)
	}
}

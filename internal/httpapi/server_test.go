package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/havenlab/haven"
	"github.com/havenlab/haven/authz"
	"github.com/havenlab/haven/chat"
	"github.com/havenlab/haven/embed"
	"github.com/havenlab/haven/index"
	"github.com/havenlab/haven/ingest"
	"github.com/havenlab/haven/store/sqlite"
	"github.com/havenlab/haven/vault"
)

// scriptedProvider streams a fixed reply.
type scriptedProvider struct {
	chunks []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req haven.ChatRequest) (haven.ChatResponse, error) {
	return haven.ChatResponse{Content: strings.Join(p.chunks, ""), Model: req.Model}, nil
}

func (p *scriptedProvider) ChatStream(_ context.Context, req haven.ChatRequest, ch chan<- haven.StreamEvent) (haven.ChatResponse, error) {
	ch <- haven.StreamEvent{Type: haven.StreamStart}
	for _, c := range p.chunks {
		ch <- haven.StreamEvent{Type: haven.StreamDelta, Content: c}
	}
	close(ch)
	return haven.ChatResponse{Content: strings.Join(p.chunks, ""), Model: req.Model}, nil
}

func (p *scriptedProvider) ListModels(context.Context) ([]haven.ModelInfo, error) {
	return []haven.ModelInfo{{Name: "llama3"}}, nil
}

func testServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store := sqlite.NewMemoryStore(filepath.Join(dir, "chat_memory.db"))
	teams := sqlite.NewTeamStore(filepath.Join(dir, "app.db"))
	audit := sqlite.NewAuditStore(filepath.Join(dir, "audit_log.db"))
	vstore := sqlite.NewVaultStore(filepath.Join(dir, "app.db"))
	for _, st := range []interface {
		Init(context.Context) error
	}{store, teams, audit, vstore} {
		if err := st.Init(ctx); err != nil {
			t.Fatalf("init store: %v", err)
		}
	}
	t.Cleanup(func() {
		store.Close()  //nolint:errcheck
		teams.Close()  //nolint:errcheck
		audit.Close()  //nolint:errcheck
		vstore.Close() //nolint:errcheck
	})

	embedder := embed.NewHash(64, "")
	ix := index.New(store, embedder)
	fabric := authz.New(teams, audit)
	provider := &scriptedProvider{chunks: []string{"Hello", " there"}}
	orch := chat.New(store, provider, embedder, ix, chat.WithFabric(fabric))

	s := New(store, fabric, orch,
		WithTeams(teams),
		WithAudit(audit),
		WithVault(vault.New(vstore)),
		WithIngestor(ingest.New(store, embedder)),
		WithIndex(ix),
		WithProvider(provider),
		WithDevMode(true),
	)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

// signup registers a user and returns its id and access token.
func signup(t *testing.T, ts *httptest.Server, username string) (string, string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": "correct-horse"})
	resp, err := http.Post(ts.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("register status = %d: %s", resp.StatusCode, raw)
	}
	var out struct {
		Data struct {
			UserID string    `json:"user_id"`
			Tokens TokenPair `json:"tokens"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return out.Data.UserID, out.Data.Tokens.AccessToken
}

// call issues an authenticated request and decodes the data envelope
// into v when v is non-nil.
func call(t *testing.T, ts *httptest.Server, token, method, path string, body any, v any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if v != nil {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope from %s: %v", raw, err)
		}
		if env.Data != nil {
			if err := json.Unmarshal(env.Data, v); err != nil {
				t.Fatalf("decode data: %v", err)
			}
		}
	}
	return resp.StatusCode
}

func TestAuthRequired(t *testing.T) {
	ts, _ := testServer(t)
	resp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ErrorCode != string(haven.CodeAuth) {
		t.Errorf("error_code = %q, want %q", body.ErrorCode, haven.CodeAuth)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts, _ := testServer(t)
	_, token := signup(t, ts, "ana")

	var created sessionDTO
	status := call(t, ts, token, "POST", "/api/sessions",
		map[string]string{"default_model": "llama3"}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	if created.ID == "" || created.DefaultModel != "llama3" {
		t.Fatalf("unexpected session: %+v", created)
	}

	var listed []sessionDTO
	if status := call(t, ts, token, "GET", "/api/sessions", nil, &listed); status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	status = call(t, ts, token, "PATCH", "/api/sessions/"+created.ID,
		map[string]string{"title": "Renamed"}, nil)
	if status != http.StatusOK {
		t.Fatalf("rename status = %d", status)
	}
	var got sessionDTO
	call(t, ts, token, "GET", "/api/sessions/"+created.ID, nil, &got)
	if got.Title != "Renamed" || got.AutoTitled {
		t.Errorf("after rename: title=%q auto_titled=%v", got.Title, got.AutoTitled)
	}

	if status := call(t, ts, token, "DELETE", "/api/sessions/"+created.ID, nil, nil); status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	if status := call(t, ts, token, "GET", "/api/sessions/"+created.ID, nil, nil); status != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", status)
	}
}

func TestSessionOwnershipEnforced(t *testing.T) {
	ts, _ := testServer(t)
	_, owner := signup(t, ts, "owner")
	_, other := signup(t, ts, "stranger")

	var created sessionDTO
	call(t, ts, owner, "POST", "/api/sessions", map[string]string{"default_model": "llama3"}, &created)

	if status := call(t, ts, other, "GET", "/api/sessions/"+created.ID, nil, nil); status != http.StatusForbidden {
		t.Errorf("stranger get = %d, want 403", status)
	}
	if status := call(t, ts, other, "DELETE", "/api/sessions/"+created.ID, nil, nil); status != http.StatusForbidden {
		t.Errorf("stranger delete = %d, want 403", status)
	}
}

func TestChatStreamFraming(t *testing.T) {
	ts, _ := testServer(t)
	_, token := signup(t, ts, "chatty")

	var created sessionDTO
	call(t, ts, token, "POST", "/api/sessions", map[string]string{"default_model": "llama3"}, &created)

	body, _ := json.Marshal(map[string]string{"content": "Hi there."})
	req, _ := http.NewRequest("POST", ts.URL+"/api/sessions/"+created.ID+"/chat", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	stream := string(raw)

	if !strings.Contains(stream, "data: [START]\n\n") {
		t.Errorf("missing start frame in %q", stream)
	}
	if !strings.Contains(stream, `data: {"content":"Hello"}`) {
		t.Errorf("missing first delta in %q", stream)
	}
	if !strings.Contains(stream, `"done":true`) || !strings.Contains(stream, `"message_id"`) {
		t.Errorf("missing done frame in %q", stream)
	}

	// The exchange persisted both turns and auto-titled the session.
	var got sessionDTO
	call(t, ts, token, "GET", "/api/sessions/"+created.ID, nil, &got)
	if got.MessageCount != 2 || !got.AutoTitled || got.Title != "Hi there." {
		t.Errorf("session after chat: %+v", got)
	}
}

func TestRefreshRotation(t *testing.T) {
	ts, _ := testServer(t)
	body, _ := json.Marshal(map[string]string{"username": "rot", "password": "correct-horse"})
	resp, _ := http.Post(ts.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	var out struct {
		Data struct {
			Tokens TokenPair `json:"tokens"`
		} `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&out) //nolint:errcheck
	resp.Body.Close()                       //nolint:errcheck

	exchange := func(refresh string) int {
		raw, _ := json.Marshal(map[string]string{"refresh_token": refresh})
		r, err := http.Post(ts.URL+"/api/auth/refresh", "application/json", bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("refresh: %v", err)
		}
		defer r.Body.Close() //nolint:errcheck
		return r.StatusCode
	}

	if status := exchange(out.Data.Tokens.RefreshToken); status != http.StatusOK {
		t.Fatalf("first exchange = %d", status)
	}
	// A consumed refresh token cannot be replayed.
	if status := exchange(out.Data.Tokens.RefreshToken); status != http.StatusUnauthorized {
		t.Errorf("replayed exchange = %d, want 401", status)
	}
}

func TestRegisterRateLimited(t *testing.T) {
	ts, _ := testServer(t)
	status := 0
	for i := 0; i < 6; i++ {
		body, _ := json.Marshal(map[string]string{
			"username": fmt.Sprintf("user%d", i),
			"password": "correct-horse",
		})
		resp, err := http.Post(ts.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		status = resp.StatusCode
		resp.Body.Close() //nolint:errcheck
	}
	if status != http.StatusTooManyRequests {
		t.Errorf("sixth registration = %d, want 429", status)
	}
}

func TestTeamInviteFlow(t *testing.T) {
	ts, _ := testServer(t)
	_, adminTok := signup(t, ts, "alice")
	_, guestTok := signup(t, ts, "bob")

	var team haven.Team
	if status := call(t, ts, adminTok, "POST", "/api/teams", map[string]string{"name": "Acme Crew"}, &team); status != http.StatusCreated {
		t.Fatalf("create team status = %d", status)
	}
	if !strings.HasPrefix(team.ID, "acme-crew-") {
		t.Errorf("team id = %q", team.ID)
	}

	var inv struct {
		Code string `json:"code"`
	}
	if status := call(t, ts, adminTok, "POST", "/api/teams/"+team.ID+"/invite", nil, &inv); status != http.StatusCreated {
		t.Fatalf("invite status = %d", status)
	}

	if status := call(t, ts, guestTok, "POST", "/api/invites/redeem", map[string]string{"code": inv.Code}, nil); status != http.StatusOK {
		t.Fatalf("redeem status = %d", status)
	}

	var members []haven.Member
	call(t, ts, guestTok, "GET", "/api/teams/"+team.ID+"/members", nil, &members)
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
}

func TestVaultRoundTrip(t *testing.T) {
	ts, _ := testServer(t)
	_, token := signup(t, ts, "keeper")

	var team haven.Team
	call(t, ts, token, "POST", "/api/teams", map[string]string{"name": "Vaulted"}, &team)

	var item haven.VaultItem
	status := call(t, ts, token, "POST", "/api/teams/"+team.ID+"/vault", map[string]string{
		"name":       "db password",
		"type":       "credential",
		"content":    "s3cret",
		"passphrase": "open sesame",
	}, &item)
	if status != http.StatusCreated {
		t.Fatalf("put status = %d", status)
	}

	var opened struct {
		Content string `json:"content"`
	}
	status = call(t, ts, token, "POST", "/api/teams/"+team.ID+"/vault/"+item.ID+"/open",
		map[string]string{"passphrase": "open sesame"}, &opened)
	if status != http.StatusOK {
		t.Fatalf("open status = %d", status)
	}
	if opened.Content != "s3cret" {
		t.Errorf("content = %q", opened.Content)
	}

	// Wrong passphrase is an auth failure, not a decrypt panic.
	status = call(t, ts, token, "POST", "/api/teams/"+team.ID+"/vault/"+item.ID+"/open",
		map[string]string{"passphrase": "wrong"}, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("wrong passphrase = %d, want 401", status)
	}
}

func TestSearchDropsDeletedSessionHits(t *testing.T) {
	ts, srv := testServer(t)
	userID, token := signup(t, ts, "searcher")

	var created sessionDTO
	call(t, ts, token, "POST", "/api/sessions", map[string]string{"default_model": "llama3"}, &created)

	content := "The deployment runbook lives in the team wiki."
	body, _ := json.Marshal(map[string]string{"content": content})
	req, _ := http.NewRequest("POST", ts.URL+"/api/sessions/"+created.ID+"/chat", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()              //nolint:errcheck

	// Indexing runs behind the exchange; wait for both turns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		embedded, err := srv.store.RecentEmbedded(context.Background(), userID, 10)
		if err != nil {
			t.Fatalf("RecentEmbedded: %v", err)
		}
		if len(embedded) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 embedded messages, got %d", len(embedded))
		}
		time.Sleep(10 * time.Millisecond)
	}

	searchPath := "/api/search?q=" + url.QueryEscape(content)
	var hits []haven.Hit
	if status := call(t, ts, token, "GET", searchPath, nil, &hits); status != http.StatusOK {
		t.Fatalf("search status = %d", status)
	}
	if len(hits) == 0 {
		t.Fatal("expected a hit for the just-indexed message")
	}

	if status := call(t, ts, token, "DELETE", "/api/sessions/"+created.ID, nil, nil); status != http.StatusOK {
		t.Fatalf("delete status = %d", status)
	}

	// The identical query must not replay cached hits for deleted messages.
	hits = nil
	if status := call(t, ts, token, "GET", searchPath, nil, &hits); status != http.StatusOK {
		t.Fatalf("search after delete status = %d", status)
	}
	if len(hits) != 0 {
		t.Errorf("search returned %d hits referencing a deleted session", len(hits))
	}
}

func TestUploadEndpoint(t *testing.T) {
	ts, _ := testServer(t)
	_, token := signup(t, ts, "uploader")

	var created sessionDTO
	call(t, ts, token, "POST", "/api/sessions", map[string]string{"default_model": "llama3"}, &created)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte("The deployment runbook lives in the wiki.")) //nolint:errcheck
	mw.Close()                                                   //nolint:errcheck

	req, _ := http.NewRequest("POST", ts.URL+"/api/sessions/"+created.ID+"/upload", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status = %d: %s", resp.StatusCode, raw)
	}
	var env struct {
		Data struct {
			FileID string `json:"file_id"`
			Chunks int    `json:"chunks"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.FileID == "" || env.Data.Chunks != 1 {
		t.Errorf("unexpected upload result: %+v", env.Data)
	}
}

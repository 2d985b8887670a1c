package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/havenlab/haven"
	"github.com/havenlab/haven/authz"
	"github.com/havenlab/haven/chat"
	"github.com/havenlab/haven/index"
)

// sessionDTO is the wire shape of a session. Timestamps leave the
// process as RFC 3339 strings.
type sessionDTO struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	OwnerID      string   `json:"owner_id"`
	TeamID       string   `json:"team_id,omitempty"`
	DefaultModel string   `json:"default_model"`
	MessageCount int      `json:"message_count"`
	ModelsUsed   []string `json:"models_used"`
	Summary      string   `json:"summary,omitempty"`
	AutoTitled   bool     `json:"auto_titled"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

func toSessionDTO(s haven.Session) sessionDTO {
	return sessionDTO{
		ID:           s.ID,
		Title:        s.Title,
		OwnerID:      s.OwnerID,
		TeamID:       s.TeamID,
		DefaultModel: s.DefaultModel,
		MessageCount: s.MessageCount,
		ModelsUsed:   s.ModelsUsed,
		Summary:      s.Summary,
		AutoTitled:   s.AutoTitled,
		CreatedAt:    iso(s.CreatedAt),
		UpdatedAt:    iso(s.UpdatedAt),
	}
}

type messageDTO struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
	Tokens    int    `json:"tokens,omitempty"`
	CreatedAt string `json:"created_at"`
}

func toMessageDTO(m haven.Message) messageDTO {
	return messageDTO{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      m.Role,
		Content:   m.Content,
		Model:     m.Model,
		Tokens:    m.Tokens,
		CreatedAt: iso(m.CreatedAt),
	}
}

// ownedSession loads a session the caller may manage. Management stays
// owner-only; shared team access applies to chatting, not renaming or
// deleting.
func (s *Server) ownedSession(r *http.Request, userID string) (haven.Session, error) {
	session, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		return haven.Session{}, err
	}
	if session.OwnerID != userID {
		return haven.Session{}, haven.E(haven.CodeForbidden, "not the session owner")
	}
	return session, nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	limit := queryInt(r, "limit", 50)
	sessions, err := s.store.ListSessions(r.Context(), userID, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionDTO(sess))
	}
	s.writeJSON(w, http.StatusOK, out, "")
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	var in struct {
		Title        string `json:"title"`
		TeamID       string `json:"team_id"`
		DefaultModel string `json:"default_model"`
	}
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	if in.DefaultModel == "" {
		s.writeErr(w, haven.E(haven.CodeValidation, "default_model is required"))
		return
	}
	now := haven.NowUnix()
	session := haven.Session{
		ID:           haven.NewID(),
		Title:        strings.TrimSpace(in.Title),
		OwnerID:      userID,
		TeamID:       in.TeamID,
		DefaultModel: in.DefaultModel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toSessionDTO(session), "session created")
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.ownedSession(r, userIDFrom(r.Context()))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toSessionDTO(session), "")
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.ownedSession(r, userIDFrom(r.Context()))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	var in struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		s.writeErr(w, haven.E(haven.CodeValidation, "title is required"))
		return
	}
	// A manual rename clears the auto-titled flag.
	if err := s.store.RenameSession(r.Context(), session.ID, title, false); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": session.ID, "title": title}, "session renamed")
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.ownedSession(r, userIDFrom(r.Context()))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if err := s.store.DeleteSession(r.Context(), session.ID); err != nil {
		s.writeErr(w, err)
		return
	}
	// Cached search results may still reference the deleted messages.
	if s.index != nil {
		s.index.InvalidateCache()
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": session.ID}, "session deleted")
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	session, err := s.ownedSession(r, userIDFrom(r.Context()))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	n := queryInt(r, "limit", chat.HistoryLimit)
	msgs, err := s.store.GetRecentMessages(r.Context(), session.ID, n)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m))
	}
	s.writeJSON(w, http.StatusOK, out, "")
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	session, err := s.ownedSession(r, userIDFrom(r.Context()))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	sum, err := s.store.GetSummary(r.Context(), session.ID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum, "")
}

// handleChat streams one exchange as server-sent events:
//
//	data: [START]
//	data: {"content":"..."}     (repeated)
//	data: {"done": true, "message_id":"..."}
//
// and on failure a single data: {"error":"..."} frame.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if !s.allowRate(w, r, "route:"+userID, userID, "route", authz.DefaultLimits["route"]) {
		return
	}

	var in struct {
		Content string `json:"content"`
		Model   string `json:"model"`
	}
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		s.writeErr(w, haven.E(haven.CodeValidation, "content is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeErr(w, haven.E(haven.CodeInternal, "streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan haven.StreamEvent, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			switch ev.Type {
			case haven.StreamStart:
				fmt.Fprint(w, "data: [START]\n\n")
			case haven.StreamDelta:
				payload, _ := json.Marshal(map[string]string{"content": ev.Content})
				fmt.Fprintf(w, "data: %s\n\n", payload)
			case haven.StreamDone:
				payload, _ := json.Marshal(map[string]any{"done": true, "message_id": ev.MessageID})
				fmt.Fprintf(w, "data: %s\n\n", payload)
			case haven.StreamError:
				payload, _ := json.Marshal(map[string]string{"error": errMessage(ev.Err)})
				fmt.Fprintf(w, "data: %s\n\n", payload)
			}
			flusher.Flush()
		}
	}()

	// The request context cancels the upstream call when the client
	// disconnects; the orchestrator closes ch in every path.
	_, err := s.chat.SendMessage(r.Context(), chat.SendRequest{
		SessionID:     r.PathValue("id"),
		UserID:        userID,
		Content:       in.Content,
		ModelOverride: in.Model,
	}, ch)
	<-done
	if err != nil {
		s.logger.Debug("http: chat exchange failed", "session_id", r.PathValue("id"), "error", err)
	}
}

// errMessage renders an error for the SSE error frame, hiding internal
// detail in production.
func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	var he *haven.Error
	if errors.As(err, &he) {
		return he.Message
	}
	return err.Error()
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if s.ingest == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "uploads not configured"))
		return
	}
	if !s.allowRate(w, r, "apply:"+userID, userID, "apply", authz.DefaultLimits["apply"]) {
		return
	}
	session, err := s.ownedSession(r, userID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeErr(w, haven.Wrap(haven.CodeValidation, "invalid multipart body", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErr(w, haven.Wrap(haven.CodeValidation, "file field is required", err))
		return
	}
	defer file.Close() //nolint:errcheck
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErr(w, haven.Wrap(haven.CodeValidation, "read upload", err))
		return
	}
	chunks, err := s.ingest.IngestFile(r.Context(), session.ID, header.Filename, data)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	fileID := ""
	if len(chunks) > 0 {
		fileID = chunks[0].FileID
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"file_id":  fileID,
		"filename": header.Filename,
		"chunks":   len(chunks),
	}, "file ingested")
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if s.index == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "search not configured"))
		return
	}
	if !s.allowRate(w, r, "context:"+userID, userID, "context", authz.DefaultLimits["context"]) {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeErr(w, haven.E(haven.CodeValidation, "q is required"))
		return
	}
	limit := queryInt(r, "limit", 10)
	hits, err := s.index.Search(r.Context(), q, limit, userID, index.DefaultThreshold)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, hits, "")
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		s.writeErr(w, haven.E(haven.CodeNotFound, "provider not configured"))
		return
	}
	models, err := s.provider.ListModels(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, models, "")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.engine != nil {
		out["vectorize"] = s.engine.Stats()
	}
	if s.audit != nil {
		n, err := s.audit.Count(r.Context())
		if err != nil {
			s.writeErr(w, err)
			return
		}
		out["audit_entries"] = n
	}
	s.writeJSON(w, http.StatusOK, out, "")
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

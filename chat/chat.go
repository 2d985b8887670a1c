// Package chat is the streaming chat orchestrator: it assembles history
// and document context, streams the upstream response to the caller,
// persists the assistant turn on completion, and notifies the semantic
// index and the vectorization engine of every append.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/havenlab/haven"
	"github.com/havenlab/haven/authz"
	"github.com/havenlab/haven/index"
	"github.com/havenlab/haven/vectorize"
)

const (
	// HistoryLimit is the number of prior messages sent as context.
	HistoryLimit = 50
	// RAGTopK is the number of document chunks injected per request.
	RAGTopK = 3
	// TitleMax caps auto-synthesized session titles, in runes.
	TitleMax = 50
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithFabric attaches the authorization fabric. Without one, only the
// owner check applies; team-scoped sessions then refuse all non-owners.
func WithFabric(f *authz.Fabric) Option {
	return func(o *Orchestrator) { o.fabric = f }
}

// WithEngine attaches the vectorization engine that receives a context
// snapshot after every completed exchange.
func WithEngine(e *vectorize.Engine) Option {
	return func(o *Orchestrator) { o.engine = e }
}

// Orchestrator drives the end-to-end chat operation.
type Orchestrator struct {
	store    haven.MemoryStore
	provider haven.Provider
	embedder haven.Embedder
	index    *index.Index
	fabric   *authz.Fabric
	engine   *vectorize.Engine
	logger   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an Orchestrator over the given store, provider, embedder,
// and semantic index.
func New(store haven.MemoryStore, provider haven.Provider, embedder haven.Embedder, ix *index.Index, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		provider: provider,
		embedder: embedder,
		index:    ix,
		logger:   nopLogger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// SendRequest is one chat turn from a client.
type SendRequest struct {
	SessionID string
	UserID    string
	Content   string
	// ModelOverride replaces the session's default model for this turn.
	ModelOverride string
}

// SendMessage runs the full pipeline: authorize, auto-title, append the
// user turn, assemble history plus document context, stream the upstream
// response into ch, and persist the assistant turn once the upstream
// signals completion.
//
// Events arrive on ch in order: one start, zero or more deltas, then
// either a done event carrying the stored assistant message id or an
// error event. ch is always closed before SendMessage returns; the
// caller must drain it even after a client disconnect, or the stream
// stalls.
//
// The user turn is committed as soon as it is appended and is never
// rolled back. The assistant turn is atomic-or-nothing: a mid-stream
// upstream failure or a cancelled ctx persists no partial response.
func (o *Orchestrator) SendMessage(ctx context.Context, req SendRequest, ch chan<- haven.StreamEvent) (haven.Message, error) {
	start := time.Now()

	session, err := o.authorize(ctx, req.SessionID, req.UserID)
	if err != nil {
		return o.fail(ch, err)
	}

	if session.MessageCount == 0 {
		title := autoTitle(req.Content)
		if err := o.store.RenameSession(ctx, session.ID, title, true); err != nil {
			return o.fail(ch, haven.Wrap(haven.CodeStore, "auto-title session", err))
		}
		o.logger.Debug("chat: session auto-titled", "session_id", session.ID, "title", title)
	}

	model := req.ModelOverride
	if model == "" {
		model = session.DefaultModel
	}

	userMsg := haven.Message{
		ID:        haven.NewID(),
		SessionID: session.ID,
		Role:      "user",
		Content:   req.Content,
		Tokens:    haven.WordCount(req.Content),
		CreatedAt: o.now().Unix(),
	}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return o.fail(ch, haven.Wrap(haven.CodeStore, "append user message", err))
	}
	o.indexAfterAppend(ctx, userMsg)

	history, err := o.store.GetRecentMessages(ctx, session.ID, HistoryLimit)
	if err != nil {
		return o.fail(ch, haven.Wrap(haven.CodeStore, "load history", err))
	}
	outgoing := o.assemble(ctx, session.ID, history, req.Content)

	provCh := make(chan haven.StreamEvent, 32)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range provCh {
			ch <- ev
		}
	}()
	resp, err := o.provider.ChatStream(ctx, haven.ChatRequest{Model: model, Messages: outgoing}, provCh)
	<-forwarded
	if err != nil {
		return o.fail(ch, haven.Wrap(haven.CodeUpstream, "upstream stream failed", err))
	}
	if resp.Model != "" {
		model = resp.Model
	}

	asstMsg := haven.Message{
		ID:        haven.NewID(),
		SessionID: session.ID,
		Role:      "assistant",
		Content:   resp.Content,
		Model:     model,
		Tokens:    haven.WordCount(resp.Content),
		CreatedAt: o.now().Unix(),
	}
	if err := o.store.AppendMessage(ctx, asstMsg); err != nil {
		return o.fail(ch, haven.Wrap(haven.CodeStore, "append assistant message", err))
	}
	o.indexAfterAppend(ctx, asstMsg)
	o.refreshSummary(ctx, session.ID)

	if o.engine != nil {
		o.engine.Preserve(session.ID, map[string]any{
			"user_message":       req.Content,
			"assistant_response": resp.Content,
			"model":              model,
			"timestamp":          asstMsg.CreatedAt,
		}, map[string]string{"model": model})
	}

	ch <- haven.StreamEvent{Type: haven.StreamDone, MessageID: asstMsg.ID}
	close(ch)
	o.logger.Debug("chat: exchange complete", "session_id", session.ID, "model", model, "tokens", asstMsg.Tokens, "duration", time.Since(start))
	return asstMsg, nil
}

// fail pushes one error event, closes the stream, and returns the error.
func (o *Orchestrator) fail(ch chan<- haven.StreamEvent, err error) (haven.Message, error) {
	ch <- haven.StreamEvent{Type: haven.StreamError, Err: err}
	close(ch)
	return haven.Message{}, err
}

// authorize loads the session and checks chat access: the owner always
// passes; on team sessions any member at or above guest passes through
// the fabric's audited check.
func (o *Orchestrator) authorize(ctx context.Context, sessionID, userID string) (haven.Session, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return haven.Session{}, err
	}
	if session.OwnerID == userID {
		return session, nil
	}
	if session.TeamID != "" && o.fabric != nil {
		d, err := o.fabric.RequireRole(ctx, session.TeamID, userID, haven.RoleGuest, "chat.use")
		if err != nil {
			return haven.Session{}, err
		}
		if d.Allow {
			return session, nil
		}
		return haven.Session{}, haven.E(haven.CodeForbidden, d.Reason)
	}
	return haven.Session{}, haven.E(haven.CodeForbidden, "not the session owner")
}

// assemble converts history into the outgoing request, appending the
// document-context block to the last user turn when the session's
// uploads have relevant chunks. The block exists only in the outgoing
// body; the persisted message is untouched.
func (o *Orchestrator) assemble(ctx context.Context, sessionID string, history []haven.Message, userContent string) []haven.ChatMessage {
	out := make([]haven.ChatMessage, 0, len(history))
	for _, m := range history {
		out = append(out, haven.ChatMessage{Role: m.Role, Content: m.Content})
	}

	block := o.ragBlock(ctx, sessionID, userContent)
	if block != "" && len(out) > 0 && out[len(out)-1].Role == "user" {
		out[len(out)-1].Content += block
	}
	return out
}

// ragBlock retrieves the top document chunks for the query and renders
// the context block, or "" when nothing relevant is found. Retrieval
// failures degrade to no context rather than failing the chat.
func (o *Orchestrator) ragBlock(ctx context.Context, sessionID, query string) string {
	vecs, err := o.embedder.Embed(ctx, []string{query})
	if err != nil {
		o.logger.Warn("chat: rag query embed failed", "session_id", sessionID, "error", err)
		return ""
	}
	hits, err := o.index.SearchChunks(ctx, sessionID, vecs[0], RAGTopK)
	if err != nil {
		o.logger.Warn("chat: chunk search failed", "session_id", sessionID, "error", err)
		return ""
	}
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nRelevant document context:\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "[%s] %s\n", h.Chunk.Filename, h.Chunk.Content)
	}
	return b.String()
}

// indexAfterAppend notifies the semantic index of a stored message. The
// embedding runs in the background so a slow embedder never stalls the
// chat turn; search is eventually consistent with chat. Failures are
// logged, never surfaced.
func (o *Orchestrator) indexAfterAppend(ctx context.Context, msg haven.Message) {
	// The message is already committed, so indexing outlives the request.
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := o.index.IndexMessage(ctx, msg); err != nil {
			o.logger.Warn("chat: message indexing failed", "message_id", msg.ID, "error", err)
		}
	}()
}

// refreshSummary rebuilds the session's rolling summary from the last
// summary window of messages.
func (o *Orchestrator) refreshSummary(ctx context.Context, sessionID string) {
	msgs, err := o.store.GetRecentMessages(ctx, sessionID, haven.DefaultSummaryEvents)
	if err != nil {
		o.logger.Warn("chat: summary load failed", "session_id", sessionID, "error", err)
		return
	}
	sum := haven.BuildSummary(sessionID, msgs, haven.DefaultSummaryEvents, haven.DefaultSummaryChars)
	sum.UpdatedAt = o.now().Unix()
	if sum.CreatedAt == 0 {
		sum.CreatedAt = sum.UpdatedAt
	}
	if err := o.store.UpsertSummary(ctx, sum); err != nil {
		o.logger.Warn("chat: summary upsert failed", "session_id", sessionID, "error", err)
	}
}

// autoTitle synthesizes a session title from the first user message: the
// first sentence, or a hard rune cap with an ellipsis.
func autoTitle(content string) string {
	s := strings.TrimSpace(content)
	if i := strings.IndexFunc(s, func(r rune) bool { return r == '\n' }); i > 0 {
		s = s[:i]
	}
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			s = s[:i+len(string(r))]
			break
		}
	}
	runes := []rune(s)
	if len(runes) > TitleMax {
		return strings.TrimRightFunc(string(runes[:TitleMax]), unicode.IsSpace) + "…"
	}
	return s
}

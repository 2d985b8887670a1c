package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/havenlab/haven"
	"github.com/havenlab/haven/authz"

	"golang.org/x/crypto/argon2"
)

const (
	// AccessTTL is the lifetime of a bearer access token.
	AccessTTL = 7 * 24 * time.Hour
	// RefreshTTL is the lifetime of a refresh token.
	RefreshTTL = 30 * 24 * time.Hour
)

type ctxKey int

const userIDKey ctxKey = 0

// userIDFrom returns the authenticated user id placed by requireAuth.
func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

type account struct {
	ID       string
	Username string
	salt     []byte
	hash     []byte
}

type tokenInfo struct {
	userID  string
	expires time.Time
	refresh bool
}

// registry holds accounts and issued tokens. The service is local-first
// and single-process, so an in-memory registry guarded by one mutex is
// the whole identity layer; a restart invalidates sessions but not data.
type registry struct {
	mu     sync.Mutex
	byName map[string]*account
	tokens map[string]tokenInfo
	now    func() time.Time
}

func newRegistry() *registry {
	return &registry{
		byName: make(map[string]*account),
		tokens: make(map[string]tokenInfo),
		now:    time.Now,
	}
}

func hashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

func (rg *registry) register(username, password string) (*account, error) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if _, ok := rg.byName[username]; ok {
		return nil, haven.E(haven.CodeConflict, "username already taken")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, haven.Wrap(haven.CodeInternal, "generate salt", err)
	}
	a := &account{
		ID:       haven.NewID(),
		Username: username,
		salt:     salt,
		hash:     hashPassword(password, salt),
	}
	rg.byName[username] = a
	return a, nil
}

func (rg *registry) authenticate(username, password string) (*account, error) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	a, ok := rg.byName[username]
	if !ok {
		return nil, haven.E(haven.CodeAuth, "invalid username or password")
	}
	if subtle.ConstantTimeCompare(hashPassword(password, a.salt), a.hash) != 1 {
		return nil, haven.E(haven.CodeAuth, "invalid username or password")
	}
	return a, nil
}

// TokenPair is one issued access/refresh token set.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	AccessExpiresAt  string `json:"access_expires_at"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", haven.Wrap(haven.CodeInternal, "generate token", err)
	}
	return hex.EncodeToString(b), nil
}

func (rg *registry) issue(userID string) (TokenPair, error) {
	access, err := newToken()
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := newToken()
	if err != nil {
		return TokenPair{}, err
	}
	now := rg.now()
	accessExp := now.Add(AccessTTL)
	refreshExp := now.Add(RefreshTTL)

	rg.mu.Lock()
	rg.tokens[access] = tokenInfo{userID: userID, expires: accessExp}
	rg.tokens[refresh] = tokenInfo{userID: userID, expires: refreshExp, refresh: true}
	rg.mu.Unlock()

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp.UTC().Format(time.RFC3339),
		RefreshExpiresAt: refreshExp.UTC().Format(time.RFC3339),
	}, nil
}

// verify resolves an access token to a user id.
func (rg *registry) verify(token string) (string, bool) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	info, ok := rg.tokens[token]
	if !ok || info.refresh || rg.now().After(info.expires) {
		return "", false
	}
	return info.userID, true
}

// exchange rotates a refresh token into a fresh pair. The old refresh
// token is consumed; a replayed one fails.
func (rg *registry) exchange(refreshToken string) (TokenPair, error) {
	rg.mu.Lock()
	info, ok := rg.tokens[refreshToken]
	if !ok || !info.refresh || rg.now().After(info.expires) {
		rg.mu.Unlock()
		return TokenPair{}, haven.E(haven.CodeAuth, "invalid or expired refresh token")
	}
	delete(rg.tokens, refreshToken)
	rg.mu.Unlock()
	return rg.issue(info.userID)
}

// requireAuth gates a handler on a valid bearer token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeErr(w, haven.E(haven.CodeAuth, "missing bearer token"))
			return
		}
		userID, ok := s.registry.verify(token)
		if !ok {
			s.writeErr(w, haven.E(haven.CodeAuth, "invalid or expired token"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

// --- Handlers ---

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.allowRate(w, r, "register:"+ip, "anonymous:"+ip, "register", authz.DefaultLimits["register"]) {
		return
	}
	var in credentialsRequest
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || len(in.Password) < 8 {
		s.writeErr(w, haven.E(haven.CodeValidation, "username and a password of at least 8 characters are required"))
		return
	}
	a, err := s.registry.register(in.Username, in.Password)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	pair, err := s.registry.issue(a.ID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"user_id":  a.ID,
		"username": a.Username,
		"tokens":   pair,
	}, "registered")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	limit := authz.DefaultLimits["auth"]
	if s.dev {
		limit = authz.DevAuthLimit
	}
	if !s.allowRate(w, r, "auth:"+ip, "anonymous:"+ip, "auth", limit) {
		return
	}
	var in credentialsRequest
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	a, err := s.registry.authenticate(strings.TrimSpace(in.Username), in.Password)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	pair, err := s.registry.issue(a.ID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  a.ID,
		"username": a.Username,
		"tokens":   pair,
	}, "authenticated")
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &in, s.maxBody); err != nil {
		s.writeErr(w, err)
		return
	}
	pair, err := s.registry.exchange(in.RefreshToken)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pair, "token refreshed")
}

package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chatterm/internal/models"
)

const accessTokenTTL = 15 * time.Minute

// FakeChatService is an in-memory double of the remote chat service. It
// speaks the same wire contract: JWT bearer access tokens, single-use
// opaque refresh tokens, FastAPI style {detail} error bodies.
type FakeChatService struct {
	mu sync.Mutex

	// JWT signing key. Rotating it invalidates every outstanding access
	// token while refresh tokens stay valid, which is exactly the state
	// an expired access token puts a client in.
	secret string

	users    map[uuid.UUID]*fakeUser
	refresh  map[string]uuid.UUID
	sessions []*fakeSession

	refreshCalls int

	// Reply produces the assistant answer for a user message
	Reply func(content string) string

	failSendStatus int
	failSendDetail string
}

type fakeUser struct {
	user           models.User
	hashedPassword string
}

type fakeSession struct {
	session  models.ChatSession
	messages []models.Message
}

func NewFakeChatService() *FakeChatService {
	return &FakeChatService{
		secret:  randomHex(16),
		users:   make(map[uuid.UUID]*fakeUser),
		refresh: make(map[string]uuid.UUID),
		Reply: func(content string) string {
			return "Canned reply to: " + content
		},
	}
}

// Serve starts an httptest server around the fake and returns its base URL
func (f *FakeChatService) Serve(t *testing.T) string {
	t.Helper()

	srv := httptest.NewServer(f.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func (f *FakeChatService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", f.handleRegister)
	mux.HandleFunc("POST /auth/login", f.handleLogin)
	mux.HandleFunc("POST /auth/refresh", f.handleRefresh)
	mux.HandleFunc("GET /auth/me", f.authed(f.handleMe))
	mux.HandleFunc("GET /chat/sessions", f.authed(f.handleListSessions))
	mux.HandleFunc("POST /chat/sessions", f.authed(f.handleCreateSession))
	mux.HandleFunc("GET /chat/sessions/{id}", f.authed(f.handleGetSession))
	mux.HandleFunc("DELETE /chat/sessions/{id}", f.authed(f.handleDeleteSession))
	mux.HandleFunc("POST /chat/sessions/{id}/messages", f.authed(f.handleSendMessage))

	return mux
}

// MustRegister seeds a user directly, skipping the HTTP surface
func (f *FakeChatService) MustRegister(t *testing.T, email string, username string, password string) models.User {
	t.Helper()

	user, err := f.createUser(email, username, password)
	if err != nil {
		t.Fatalf("failed to seed user %q: %v", username, err)
	}
	return user
}

// IssueTokens mints a valid pair for the user, e.g. to seed a client store
func (f *FakeChatService) IssueTokens(t *testing.T, userID uuid.UUID) models.TokenPair {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	pair, err := f.issuePair(userID)
	if err != nil {
		t.Fatalf("failed to issue tokens: %v", err)
	}
	return pair
}

// ExpireAccessTokens rotates the signing key so every outstanding access
// token stops validating. Refresh tokens keep working.
func (f *FakeChatService) ExpireAccessTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secret = randomHex(16)
}

// RevokeRefreshTokens drops every refresh token, so the next refresh
// attempt is rejected and the client session is unrecoverable.
func (f *FakeChatService) RevokeRefreshTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh = make(map[string]uuid.UUID)
}

// RefreshCalls reports how many times the refresh endpoint was hit
func (f *FakeChatService) RefreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

// FailNextSend makes the next message send answer with the given error
func (f *FakeChatService) FailNextSend(status int, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSendStatus = status
	f.failSendDetail = detail
}

// Sessions returns a snapshot of all stored sessions, newest first
func (f *FakeChatService) Sessions() []models.ChatSession {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.ChatSession, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s.session)
	}
	return out
}

// ---- auth handlers ----

func (f *FakeChatService) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := f.createUser(req.Email, req.Username, req.Password)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (f *FakeChatService) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	u := f.findByUsername(req.Username)
	if u == nil || checkPassword(u.hashedPassword, req.Password) != nil {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	pair, err := f.issuePair(u.user.ID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Token generation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  pair.Access,
		"refresh_token": pair.Refresh,
		"token_type":    "bearer",
	})
}

func (f *FakeChatService) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshCalls++

	userID, ok := f.refresh[req.RefreshToken]
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token or session expired")
		return
	}

	// Single use: the old refresh token dies with the exchange
	delete(f.refresh, req.RefreshToken)

	pair, err := f.issuePair(userID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Token generation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  pair.Access,
		"refresh_token": pair.Refresh,
		"token_type":    "bearer",
	})
}

func (f *FakeChatService) handleMe(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[userID]
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, u.user)
}

// ---- chat handlers ----

func (f *FakeChatService) handleListSessions(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions := make([]models.ChatSession, 0)
	for _, s := range f.sessions {
		if s.session.UserID == userID {
			listed := s.session
			listed.Messages = nil
			sessions = append(sessions, listed)
		}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (f *FakeChatService) handleCreateSession(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	var req struct {
		Title *string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	session := models.ChatSession{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Newest first, matching the service list order
	f.sessions = append([]*fakeSession{{session: session}}, f.sessions...)

	writeJSON(w, http.StatusCreated, session)
}

func (f *FakeChatService) handleGetSession(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.findSession(r, userID)
	if s == nil {
		writeDetail(w, http.StatusNotFound, "Chat session not found")
		return
	}

	full := s.session
	full.Messages = append([]models.Message(nil), s.messages...)
	writeJSON(w, http.StatusOK, full)
}

func (f *FakeChatService) handleDeleteSession(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.findSession(r, userID)
	if s == nil {
		writeDetail(w, http.StatusNotFound, "Chat session not found")
		return
	}

	kept := f.sessions[:0]
	for _, stored := range f.sessions {
		if stored != s {
			kept = append(kept, stored)
		}
	}
	f.sessions = kept

	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeChatService) handleSendMessage(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSendStatus != 0 {
		status, detail := f.failSendStatus, f.failSendDetail
		f.failSendStatus, f.failSendDetail = 0, ""
		writeDetail(w, status, detail)
		return
	}

	s := f.findSession(r, userID)
	if s == nil {
		writeDetail(w, http.StatusNotFound, "Chat session not found")
		return
	}

	now := time.Now().UTC()
	userMsg := models.Message{
		ID:            uuid.New(),
		ChatSessionID: s.session.ID,
		Content:       req.Content,
		Role:          models.RoleUser,
		CreatedAt:     now,
	}
	reply := models.Message{
		ID:            uuid.New(),
		ChatSessionID: s.session.ID,
		Content:       f.Reply(req.Content),
		Role:          models.RoleAssistant,
		CreatedAt:     now,
	}

	s.messages = append(s.messages, userMsg, reply)
	s.session.UpdatedAt = now

	writeJSON(w, http.StatusOK, reply)
}

// ---- internals ----

type accessClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
}

// authed wraps a handler with bearer token validation
func (f *FakeChatService) authed(next func(http.ResponseWriter, *http.Request, uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		f.mu.Lock()
		secret := f.secret
		f.mu.Unlock()

		claims := &accessClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != "HS256" {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return []byte(secret), nil
		})
		if err != nil || !parsed.Valid {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		next(w, r, claims.UserID)
	}
}

func (f *FakeChatService) createUser(email string, username string, password string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.user.Email == email {
			return models.User{}, fmt.Errorf("Email already registered")
		}
		if u.user.Username == username {
			return models.User{}, fmt.Errorf("Username already taken")
		}
	}

	hash, err := hashPassword(password)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:        uuid.New(),
		Email:     email,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	f.users[user.ID] = &fakeUser{user: user, hashedPassword: hash}

	return user, nil
}

// issuePair mints a signed access token and a single-use refresh token.
// Callers must hold the lock.
func (f *FakeChatService) issuePair(userID uuid.UUID) (models.TokenPair, error) {
	var pair models.TokenPair
	now := time.Now().Truncate(time.Second)

	token := jwt.NewWithClaims(
		jwt.SigningMethodHS256,
		accessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenTTL)),
			},
			UserID: userID,
		},
	)
	access, err := token.SignedString([]byte(f.secret))
	if err != nil {
		return pair, fmt.Errorf("error while signing access token: %w", err)
	}

	refresh := randomHex(16)
	f.refresh[refresh] = userID

	pair.Access = access
	pair.Refresh = refresh
	return pair, nil
}

func (f *FakeChatService) findByUsername(username string) *fakeUser {
	for _, u := range f.users {
		if u.user.Username == username {
			return u
		}
	}
	return nil
}

// findSession resolves the {id} path value to a session owned by userID.
// Callers must hold the lock.
func (f *FakeChatService) findSession(r *http.Request, userID uuid.UUID) *fakeSession {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return nil
	}

	for _, s := range f.sessions {
		if s.session.ID == id && s.session.UserID == userID {
			return s
		}
	}
	return nil
}

// Passwords are pre-hashed with sha256 so bcrypt's 72 byte limit never bites
func hashPassword(password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.MinCost)
	return string(hash), err
}

func checkPassword(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

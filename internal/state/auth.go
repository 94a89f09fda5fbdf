package state

import (
	"context"
	"errors"
	"sync"

	"chatterm/internal/api"
	"chatterm/internal/credstore"
	"chatterm/internal/logger"
	"chatterm/internal/models"
)

// authAPI is the slice of the service client the auth machine needs
type authAPI interface {
	Login(ctx context.Context, username string, password string) (models.TokenPair, error)
	Register(ctx context.Context, email string, username string, password string) (models.User, error)
	Me(ctx context.Context) (models.User, error)
}

// Auth holds authentication status and user identity. It exclusively
// owns the User and the stored credential pair: login replaces them
// wholesale, logout and session expiry clear them.
//
// A session-expired signal leaves the machine anonymous but raises a
// flag so the UI can show a distinct notice. The flag resets on the next
// login attempt or explicitly via ClearSessionExpired.
type Auth struct {
	api    authAPI
	store  credstore.Store
	logger logger.Logger

	mu             sync.Mutex
	user           *models.User
	authenticated  bool
	sessionExpired bool
	loading        bool
	lastError      string
}

func NewAuth(api authAPI, store credstore.Store, log logger.Logger) *Auth {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Auth{
		api:    api,
		store:  store,
		logger: log,
	}
}

// Bootstrap derives the initial state from whatever credentials survived
// in durable storage: present means optimistically authenticated, and
// the user identity is fetched right away. The first 401 demotes the
// optimism through the session-expired signal.
func (a *Auth) Bootstrap(ctx context.Context) {
	if _, err := a.store.LoadTokens(ctx); err != nil {
		return
	}

	a.mu.Lock()
	a.authenticated = true
	a.mu.Unlock()

	user, err := a.api.Me(ctx)
	if err != nil {
		a.logger.Debug("Startup identity fetch failed", "error", err)
		return
	}

	a.mu.Lock()
	a.user = &user
	a.mu.Unlock()
}

// Login authenticates, persists the returned pair and loads the user
// identity. Any previous error and any session-expired notice are
// cleared before the attempt.
func (a *Auth) Login(ctx context.Context, username string, password string) error {
	a.beginAttempt()
	defer a.endAttempt()

	pair, err := a.api.Login(ctx, username, password)
	if err != nil {
		return a.fail(err)
	}

	if err := a.store.SaveTokens(ctx, pair); err != nil {
		return a.fail(err)
	}

	user, err := a.api.Me(ctx)
	if err != nil {
		// Keep the pair invariant honest: no user, no stored tokens
		_ = a.store.ClearTokens(ctx)
		return a.fail(err)
	}

	a.mu.Lock()
	a.user = &user
	a.authenticated = true
	a.mu.Unlock()

	a.logger.Info("Logged in", "username", user.Username)
	return nil
}

// Register creates the account and immediately logs it in
func (a *Auth) Register(ctx context.Context, email string, username string, password string) error {
	a.beginAttempt()

	_, err := a.api.Register(ctx, email, username, password)
	a.endAttempt()
	if err != nil {
		return a.fail(err)
	}

	return a.Login(ctx, username, password)
}

// Logout clears the user and the stored pair
func (a *Auth) Logout(ctx context.Context) {
	if err := a.store.ClearTokens(ctx); err != nil {
		a.logger.Error("Failed to clear tokens on logout", "error", err)
	}

	a.mu.Lock()
	a.user = nil
	a.authenticated = false
	a.lastError = ""
	a.mu.Unlock()

	a.logger.Info("Logged out")
}

// ExpireSession reacts to the session-expired signal from the request
// pipeline: the pipeline has already cleared the stored pair, this drops
// the in-memory identity and raises the notice flag.
func (a *Auth) ExpireSession() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.user = nil
	a.authenticated = false
	a.sessionExpired = true
}

// ClearSessionExpired drops the notice, e.g. when the user starts typing
// credentials again
func (a *Auth) ClearSessionExpired() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionExpired = false
}

func (a *Auth) User() (models.User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.user == nil {
		return models.User{}, false
	}
	return *a.user, true
}

func (a *Auth) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticated
}

func (a *Auth) SessionExpired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionExpired
}

func (a *Auth) IsLoading() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loading
}

// Err returns the user facing message of the last failed attempt
func (a *Auth) Err() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

func (a *Auth) beginAttempt() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.loading = true
	a.lastError = ""
	a.sessionExpired = false
}

func (a *Auth) endAttempt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loading = false
}

func (a *Auth) fail(err error) error {
	// The service supplied detail is what the user should see, the
	// status code is noise at this level
	text := err.Error()
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		text = apiErr.Detail
	}

	a.mu.Lock()
	a.lastError = text
	a.mu.Unlock()

	a.logger.Warn("Auth attempt failed", "error", err)
	return err
}

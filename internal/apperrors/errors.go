package apperrors

import (
	"errors"
)

var (
	// Raised by the request pipeline when credentials can't be refreshed.
	// Call sites check for it with errors.Is to suppress user messaging
	// while the app navigates back to login.
	ErrSessionExpired = errors.New("session expired")

	ErrNotAuthenticated = errors.New("not authenticated")

	ErrNoCurrentSession = errors.New("no chat session selected")
	ErrSessionNotFound  = errors.New("chat session not found")
	ErrEmptyMessage     = errors.New("message content is empty")
	ErrSendInFlight     = errors.New("another send is already in flight")

	ErrTokensNotFound = errors.New("stored tokens not found")
)

package credstore

import (
	"context"

	"chatterm/internal/models"
)

// Store is the durable client-side key-value state: the credential pair
// and the theme preference. It survives process restarts.
//
// Tokens are stored as a pair: either both are present or both are
// absent. Absence of either means "logged out".
type Store interface {
	// LoadTokens returns the stored pair or apperrors.ErrTokensNotFound
	LoadTokens(ctx context.Context) (models.TokenPair, error)

	// SaveTokens persists both values atomically
	SaveTokens(ctx context.Context, pair models.TokenPair) error

	// ClearTokens removes both values; clearing an empty store is not an error
	ClearTokens(ctx context.Context) error

	Theme(ctx context.Context) (string, error)
	SetTheme(ctx context.Context, theme string) error

	Close() error
}

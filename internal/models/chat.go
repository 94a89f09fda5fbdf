package models

import (
	"time"

	"github.com/google/uuid"
)

// Message roles as the service reports them
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type ChatSession struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Populated only when the session was fetched as the current one
	Messages []Message `json:"messages,omitempty"`
}

// Message is immutable once created. ChatSessionID binds it to exactly
// one session.
type Message struct {
	ID            uuid.UUID `json:"id"`
	ChatSessionID uuid.UUID `json:"chat_session_id"`
	Content       string    `json:"content"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
}

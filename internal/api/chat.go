package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"chatterm/internal/apperrors"
	"chatterm/internal/models"
)

// ListSessions fetches every chat session of the user, without messages
func (c *Client) ListSessions(ctx context.Context) ([]models.ChatSession, error) {
	resp, expired, err := c.send(ctx, http.MethodGet, "/chat/sessions", nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if expired {
		return nil, apperrors.ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp, "Failed to get chat sessions")
	}

	var sessions []models.ChatSession
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions response: %w", err)
	}
	return sessions, nil
}

// CreateSession creates a new chat session. A nil title lets the service
// keep it untitled.
func (c *Client) CreateSession(ctx context.Context, title *string) (models.ChatSession, error) {
	type createRequest struct {
		Title *string `json:"title,omitempty" validate:"omitempty,max=255"`
	}

	var session models.ChatSession

	payload := createRequest{Title: title}
	if err := checkRequest(payload); err != nil {
		return session, err
	}

	resp, expired, err := c.send(ctx, http.MethodPost, "/chat/sessions", payload)
	if err != nil {
		return session, err
	}
	defer drain(resp)

	if expired {
		return session, apperrors.ErrSessionExpired
	}
	if resp.StatusCode != http.StatusCreated {
		return session, responseError(resp, "Failed to create chat session")
	}

	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return session, fmt.Errorf("failed to decode session response: %w", err)
	}
	return session, nil
}

// GetSession fetches one session together with its messages
func (c *Client) GetSession(ctx context.Context, id uuid.UUID) (models.ChatSession, error) {
	var session models.ChatSession

	resp, expired, err := c.send(ctx, http.MethodGet, "/chat/sessions/"+id.String(), nil)
	if err != nil {
		return session, err
	}
	defer drain(resp)

	if expired {
		return session, apperrors.ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return session, responseError(resp, "Failed to get chat session")
	}

	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return session, fmt.Errorf("failed to decode session response: %w", err)
	}
	return session, nil
}

func (c *Client) DeleteSession(ctx context.Context, id uuid.UUID) error {
	resp, expired, err := c.send(ctx, http.MethodDelete, "/chat/sessions/"+id.String(), nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if expired {
		return apperrors.ErrSessionExpired
	}
	if resp.StatusCode != http.StatusNoContent {
		return responseError(resp, "Failed to delete chat session")
	}
	return nil
}

// SendMessage posts the user content and returns the assistant reply
// message generated for it.
func (c *Client) SendMessage(ctx context.Context, sessionID uuid.UUID, content string) (models.Message, error) {
	type sendRequest struct {
		Content string `json:"content" validate:"required"`
	}

	var message models.Message

	payload := sendRequest{Content: content}
	if err := checkRequest(payload); err != nil {
		return message, err
	}

	resp, expired, err := c.send(ctx, http.MethodPost, "/chat/sessions/"+sessionID.String()+"/messages", payload)
	if err != nil {
		return message, err
	}
	defer drain(resp)

	if expired {
		return message, apperrors.ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return message, responseError(resp, "Failed to send message")
	}

	if err := json.NewDecoder(resp.Body).Decode(&message); err != nil {
		return message, fmt.Errorf("failed to decode message response: %w", err)
	}
	return message, nil
}

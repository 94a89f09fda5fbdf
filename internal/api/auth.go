package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"chatterm/internal/apperrors"
	"chatterm/internal/models"
)

// Login exchanges credentials for a token pair. It goes out
// unauthenticated and outside the refresh cycle: a 401 here means wrong
// credentials, not an expired session. The caller owns persisting the
// returned pair.
func (c *Client) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	type loginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	type loginResponse struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	}

	var pair models.TokenPair

	payload := loginRequest{Username: username, Password: password}
	if err := checkRequest(payload); err != nil {
		return pair, err
	}

	body, err := marshalBody(payload)
	if err != nil {
		return pair, err
	}

	resp, err := c.issue(ctx, http.MethodPost, "/auth/login", body, "")
	if err != nil {
		return pair, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return pair, responseError(resp, "Login failed")
	}

	var decoded loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return pair, fmt.Errorf("failed to decode login response: %w", err)
	}

	pair.Access = decoded.AccessToken
	pair.Refresh = decoded.RefreshToken
	return pair, nil
}

// Register creates a new account. Like Login it is a public endpoint and
// does not authenticate the client by itself.
func (c *Client) Register(ctx context.Context, email string, username string, password string) (models.User, error) {
	type registerRequest struct {
		Email    string `json:"email" validate:"required,email,max=255"`
		Username string `json:"username" validate:"required,max=100"`
		Password string `json:"password" validate:"required,min=8,max=100"`
	}

	var user models.User

	payload := registerRequest{Email: email, Username: username, Password: password}
	if err := checkRequest(payload); err != nil {
		return user, err
	}

	body, err := marshalBody(payload)
	if err != nil {
		return user, err
	}

	resp, err := c.issue(ctx, http.MethodPost, "/auth/register", body, "")
	if err != nil {
		return user, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusCreated {
		return user, responseError(resp, "Registration failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return user, fmt.Errorf("failed to decode register response: %w", err)
	}
	return user, nil
}

// Me returns the authenticated user
func (c *Client) Me(ctx context.Context) (models.User, error) {
	var user models.User

	resp, expired, err := c.send(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return user, err
	}
	defer drain(resp)

	if expired {
		return user, apperrors.ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return user, responseError(resp, "Failed to get current user")
	}

	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return user, fmt.Errorf("failed to decode user response: %w", err)
	}
	return user, nil
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is a non-2xx answer from the chat service. Detail carries the
// service supplied message when the body had one, otherwise a generic
// per-operation fallback.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status: %d, detail: %s", e.Status, e.Detail)
}

func NewAPIError(status int, detail string) *APIError {
	return &APIError{Status: status, Detail: detail}
}

// errorDetail is the error body shape the service responds with
type errorDetail struct {
	Detail string `json:"detail"`
}

// responseError builds the error for a non-2xx response. The fallback
// text is used when the body carries no detail field.
func responseError(resp *http.Response, fallback string) *APIError {
	detail := fallback

	var body errorDetail
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Detail != "" {
		detail = body.Detail
	}

	return NewAPIError(resp.StatusCode, detail)
}

package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound is matched by APIErrors with status 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx backend response. Detail is the backend's own message.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Detail returns the backend detail carried by err, or "" when err is not an APIError.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

func newAPIError(status int, raw []byte) *APIError {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	e := &APIError{Status: status}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return e
	}

	var text string
	if err := json.Unmarshal(body.Detail, &text); err == nil {
		e.Detail = text
		return e
	}

	// Validation errors arrive as a list of {msg}.
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		e.Detail = strings.Join(msgs, "; ")
		return e
	}

	e.Detail = string(body.Detail)
	return e
}

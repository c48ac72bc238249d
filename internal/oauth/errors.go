package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrIncompleteSession is returned when the provider reports success but the
// token pair is missing or partial.
var ErrIncompleteSession = errors.New("identity provider returned no session")

// AuthError is a non-2xx identity provider response.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth error %d: %s", e.Status, e.Message)
}

// Unauthorized reports whether the provider rejected the credentials or token.
func (e *AuthError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden ||
		e.Code == "invalid_grant" || e.Code == "refresh_token_not_found"
}

// Message extracts a human-readable message from any error, preferring the
// provider's own wording.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	return err.Error()
}

func newAuthError(status int, raw []byte) *AuthError {
	var body struct {
		Error            string `json:"error"`
		ErrorCode        string `json:"error_code"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	_ = json.Unmarshal(raw, &body)

	e := &AuthError{Status: status, Code: body.ErrorCode}
	if e.Code == "" {
		e.Code = body.Error
	}

	for _, candidate := range []string{body.ErrorDescription, body.Msg, body.Message, body.Error} {
		if strings.TrimSpace(candidate) != "" {
			e.Message = candidate
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

package session

import "time"

// SessionData is the server-side session kept behind the opaque cookie id.
type SessionData struct {
	// AccessToken is the bearer token forwarded to the analysis backend.
	AccessToken string `json:"access_token"`

	// RefreshToken renews AccessToken near expiry.
	RefreshToken string `json:"refresh_token"`

	// ExpiresAt is the access token expiry (Unix seconds).
	ExpiresAt int64 `json:"expires_at"`

	// CSRFToken is bound to this session and echoed by the browser on mutations.
	CSRFToken string `json:"csrf_token"`

	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`

	// OnboardedAt mirrors user_metadata.onboarding_completed_at at sign-in time.
	OnboardedAt string `json:"onboarded_at,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// Complete reports whether both tokens are present. Anything else is treated
// as no session at all.
func (s *SessionData) Complete() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != ""
}

// ExpiresWithin reports whether the access token expires within d of now.
func (s *SessionData) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !now.Add(d).Before(time.Unix(s.ExpiresAt, 0))
}

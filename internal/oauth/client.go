package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// User is the identity record owned by the identity provider.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// OnboardingCompletedKey is the only metadata field this system writes.
const OnboardingCompletedKey = "onboarding_completed_at"

// OnboardingCompletedAt returns the onboarding completion marker, if set.
func (u *User) OnboardingCompletedAt() (string, bool) {
	if u == nil || u.UserMetadata == nil {
		return "", false
	}
	v, ok := u.UserMetadata[OnboardingCompletedKey].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Session represents an identity provider token response.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// Complete reports whether both halves of the token pair are present.
func (s *Session) Complete() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != ""
}

// Expiry returns the absolute access token expiry.
func (s *Session) Expiry(now time.Time) time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	return now.Add(time.Duration(s.ExpiresIn) * time.Second)
}

// UserAttributes is the body of an UpdateUser call. Exactly one of the fields is
// expected to be set by callers in this system.
type UserAttributes struct {
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Client talks to a GoTrue-compatible identity provider.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

// NewClient creates an identity provider client. baseURL is the provider origin;
// the auth API is expected under /auth/v1.
func NewClient(baseURL, anonKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/auth/v1",
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// AuthorizeURL builds the provider sign-in URL for an OAuth provider with PKCE.
func (c *Client) AuthorizeURL(provider, redirectTo, codeChallenge string) string {
	params := url.Values{
		"provider":              {provider},
		"redirect_to":           {redirectTo},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"s256"},
		"prompt":                {"select_account"},
	}
	return c.baseURL + "/authorize?" + params.Encode()
}

// ExchangeCodeForSession exchanges an authorization code for a session using the
// PKCE verifier stored at sign-in initiation.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code, codeVerifier string) (*Session, error) {
	body := map[string]string{
		"auth_code":     code,
		"code_verifier": codeVerifier,
	}
	return c.tokenRequest(ctx, "pkce", body)
}

// SignInWithPassword signs a user in with email and password.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	return c.tokenRequest(ctx, "password", body)
}

// RefreshSession exchanges a refresh token for a new token pair.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	return c.tokenRequest(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// SignUp registers a new user. The returned session is nil when the provider
// requires email confirmation first.
func (c *Client) SignUp(ctx context.Context, email, password string, data map[string]any) (*Session, *User, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(data) > 0 {
		payload["data"] = data
	}

	raw, err := c.do(ctx, http.MethodPost, "/signup", "", payload)
	if err != nil {
		return nil, nil, err
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, nil, fmt.Errorf("failed to parse signup response: %w", err)
	}
	if sess.AccessToken != "" {
		return &sess, sess.User, nil
	}

	// Without autoconfirm the provider answers with the bare user record.
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, nil, fmt.Errorf("failed to parse signup user: %w", err)
	}
	return nil, &user, nil
}

// ResetPasswordForEmail sends a password recovery link that lands on redirectTo.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?" + url.Values{"redirect_to": {redirectTo}}.Encode()
	}
	_, err := c.do(ctx, http.MethodPost, path, "", map[string]string{"email": email})
	return err
}

// GetUser returns the user the access token belongs to.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	raw, err := c.do(ctx, http.MethodGet, "/user", accessToken, nil)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	return &user, nil
}

// UpdateUser updates the password or metadata of the signed-in user.
func (c *Client) UpdateUser(ctx context.Context, accessToken string, attrs UserAttributes) (*User, error) {
	raw, err := c.do(ctx, http.MethodPut, "/user", accessToken, attrs)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	return &user, nil
}

// SignOut revokes the refresh tokens of the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, http.MethodPost, "/logout", accessToken, nil)
	return err
}

func (c *Client) tokenRequest(ctx context.Context, grantType string, body any) (*Session, error) {
	raw, err := c.do(ctx, http.MethodPost, "/token?grant_type="+url.QueryEscape(grantType), "", body)
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return &sess, nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAuthError(resp.StatusCode, raw)
	}
	return raw, nil
}

package handler

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/fixfirst/web/internal/oauth"
	"github.com/fixfirst/web/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeIdP is a scripted identity provider that records every call.
type fakeIdP struct {
	mu    sync.Mutex
	calls []string

	session    *oauth.Session
	err        error
	user       *oauth.User
	updated    []oauth.UserAttributes
	recovered  []string
	signupData map[string]any
}

func (f *fakeIdP) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeIdP) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeIdP) AuthorizeURL(provider, redirectTo, challenge string) string {
	return oauth.NewClient("https://auth.example.com", "anon", 0).AuthorizeURL(provider, redirectTo, challenge)
}

func (f *fakeIdP) ExchangeCodeForSession(_ context.Context, code, verifier string) (*oauth.Session, error) {
	f.record("exchange:" + code + ":" + verifier)
	return f.session, f.err
}

func (f *fakeIdP) SignInWithPassword(_ context.Context, email, _ string) (*oauth.Session, error) {
	f.record("password:" + email)
	return f.session, f.err
}

func (f *fakeIdP) SignUp(_ context.Context, email, _ string, data map[string]any) (*oauth.Session, *oauth.User, error) {
	f.record("signup:" + email)
	f.mu.Lock()
	f.signupData = data
	f.mu.Unlock()
	return f.session, f.user, f.err
}

func (f *fakeIdP) ResetPasswordForEmail(_ context.Context, email, redirectTo string) error {
	f.record("recover:" + email)
	f.mu.Lock()
	f.recovered = append(f.recovered, redirectTo)
	f.mu.Unlock()
	return f.err
}

func (f *fakeIdP) GetUser(context.Context, string) (*oauth.User, error) {
	f.record("get_user")
	if f.user == nil {
		return &oauth.User{ID: "user-1"}, nil
	}
	return f.user, nil
}

func (f *fakeIdP) UpdateUser(_ context.Context, token string, attrs oauth.UserAttributes) (*oauth.User, error) {
	f.record("update_user:" + token)
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.updated = append(f.updated, attrs)
	f.mu.Unlock()
	return &oauth.User{ID: "user-1", UserMetadata: attrs.Data}, nil
}

func (f *fakeIdP) SignOut(_ context.Context, token string) error {
	f.record("signout:" + token)
	return f.err
}

func completeSession() *oauth.Session {
	return &oauth.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresIn:    3600,
		User:         &oauth.User{ID: "user-1", Email: "a@example.com"},
	}
}

func newAccessor(t *testing.T, idp *fakeIdP) (*session.Accessor, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	acc := session.NewAccessor(store, refreshVia(idp), session.NewCookie(time.Hour, false),
		session.AccessorConfig{TTL: time.Hour}, nil)
	return acc, store
}

type refreshFunc func(ctx context.Context, token string) (*oauth.Session, error)

func (f refreshFunc) RefreshSession(ctx context.Context, token string) (*oauth.Session, error) {
	return f(ctx, token)
}

func refreshVia(idp *fakeIdP) session.Refresher {
	return refreshFunc(func(context.Context, string) (*oauth.Session, error) {
		idp.record("refresh")
		return nil, &oauth.AuthError{Status: http.StatusBadRequest, Code: "invalid_grant"}
	})
}

func seed(t *testing.T, store session.Store, token string, mutate func(*session.SessionData)) string {
	t.Helper()
	data := &session.SessionData{
		AccessToken:  token,
		RefreshToken: "refresh",
		CSRFToken:    "csrf-1",
		Email:        "a@example.com",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(data)
	}
	id, err := store.Create(context.Background(), data, time.Hour)
	require.NoError(t, err)
	return id
}

func cookieNamed(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

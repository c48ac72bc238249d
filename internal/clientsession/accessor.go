// Package clientsession is the client-held session accessor: the session lives
// in local storage and is re-read on every call.
package clientsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/fixfirst/web/internal/oauth"
)

// Event is an auth state change notification.
type Event string

const (
	EventInitialSession   Event = "INITIAL_SESSION"
	EventSignedIn         Event = "SIGNED_IN"
	EventSignedOut        Event = "SIGNED_OUT"
	EventTokenRefreshed   Event = "TOKEN_REFRESHED"
	EventUserUpdated      Event = "USER_UPDATED"
	EventPasswordRecovery Event = "PASSWORD_RECOVERY"
)

// DefaultRefreshMargin is how close to expiry a token gets refreshed on read.
const DefaultRefreshMargin = 60 * time.Second

// ErrNoSession is returned by operations that need a signed-in user.
var ErrNoSession = errors.New("no session")

// Session is the client-held token pair.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresAt    int64       `json:"expires_at"`
	User         *oauth.User `json:"user,omitempty"`
}

// Complete reports whether both tokens are present.
func (s *Session) Complete() bool {
	return s != nil && s.AccessToken != "" && s.RefreshToken != ""
}

// Listener receives auth state changes. session is nil on sign-out.
type Listener func(event Event, session *Session)

// IdentityProvider is the subset of the identity provider API the client uses.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*oauth.Session, error)
	SignUp(ctx context.Context, email, password string, data map[string]any) (*oauth.Session, *oauth.User, error)
	RefreshSession(ctx context.Context, refreshToken string) (*oauth.Session, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	GetUser(ctx context.Context, accessToken string) (*oauth.User, error)
	UpdateUser(ctx context.Context, accessToken string, attrs oauth.UserAttributes) (*oauth.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Accessor reads and mutates the client session.
type Accessor struct {
	idp     IdentityProvider
	storage Storage
	margin  time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// mu serializes storage read-refresh-write cycles.
	mu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

// NewAccessor creates a client session accessor.
func NewAccessor(idp IdentityProvider, storage Storage, logger *slog.Logger) *Accessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accessor{
		idp:       idp,
		storage:   storage,
		margin:    DefaultRefreshMargin,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
}

// GetSession returns the current session or nil. Absence is not an error: a
// missing, corrupt or partial record yields nil, and so does a failed refresh.
func (a *Accessor) GetSession(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	s, event := a.loadLocked(ctx)
	a.mu.Unlock()

	if event != "" {
		a.emit(event, s)
	}
	return s, nil
}

// AccessToken returns the current bearer token, if any.
func (a *Accessor) AccessToken(ctx context.Context) (string, bool) {
	s, _ := a.GetSession(ctx)
	if s == nil {
		return "", false
	}
	return s.AccessToken, true
}

func (a *Accessor) loadLocked(ctx context.Context) (*Session, Event) {
	s, err := a.storage.Load()
	if err != nil {
		a.logger.Warn("discarding unreadable session", slog.String("error", err.Error()))
		_ = a.storage.Clear()
		return nil, ""
	}
	if s == nil {
		return nil, ""
	}
	if !s.Complete() {
		_ = a.storage.Clear()
		return nil, ""
	}
	if a.now().Add(a.margin).Before(time.Unix(s.ExpiresAt, 0)) {
		return s, ""
	}

	fresh, err := a.idp.RefreshSession(ctx, s.RefreshToken)
	if err == nil && !fresh.Complete() {
		err = oauth.ErrIncompleteSession
	}
	if err != nil {
		a.logger.Warn("session refresh failed", slog.String("error", err.Error()))
		_ = a.storage.Clear()
		return nil, EventSignedOut
	}

	next := a.fromProvider(fresh)
	if next.User == nil {
		next.User = s.User
	}
	if err := a.storage.Save(next); err != nil {
		a.logger.Warn("failed to persist refreshed session", slog.String("error", err.Error()))
	}
	return next, EventTokenRefreshed
}

// OnAuthStateChange registers listener and immediately delivers
// INITIAL_SESSION with the current session. The returned func unsubscribes.
func (a *Accessor) OnAuthStateChange(ctx context.Context, listener Listener) func() {
	a.listenersMu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = listener
	a.listenersMu.Unlock()

	s, _ := a.GetSession(ctx)
	listener(EventInitialSession, s)

	return func() {
		a.listenersMu.Lock()
		delete(a.listeners, id)
		a.listenersMu.Unlock()
	}
}

func (a *Accessor) emit(event Event, s *Session) {
	a.listenersMu.Lock()
	ls := make([]Listener, 0, len(a.listeners))
	for _, l := range a.listeners {
		ls = append(ls, l)
	}
	a.listenersMu.Unlock()

	for _, l := range ls {
		l(event, s)
	}
}

// SignInWithPassword signs in and stores the new session.
func (a *Accessor) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	sess, err := a.idp.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return a.store(sess, EventSignedIn)
}

// SignUp registers a user. The session is nil when email confirmation is pending.
func (a *Accessor) SignUp(ctx context.Context, email, password string, data map[string]any) (*Session, *oauth.User, error) {
	sess, user, err := a.idp.SignUp(ctx, email, password, data)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, user, nil
	}
	s, err := a.store(sess, EventSignedIn)
	if err != nil {
		return nil, nil, err
	}
	return s, s.User, nil
}

// SignOut revokes the session at the provider (best effort) and clears storage.
func (a *Accessor) SignOut(ctx context.Context) error {
	a.mu.Lock()
	s, _ := a.storage.Load()
	if s != nil && s.AccessToken != "" {
		if err := a.idp.SignOut(ctx, s.AccessToken); err != nil {
			a.logger.Warn("provider sign-out failed", slog.String("error", err.Error()))
		}
	}
	err := a.storage.Clear()
	a.mu.Unlock()

	a.emit(EventSignedOut, nil)
	return err
}

// ResetPasswordForEmail sends a recovery link landing on redirectTo.
func (a *Accessor) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return a.idp.ResetPasswordForEmail(ctx, email, redirectTo)
}

// GetUser fetches the signed-in user from the provider. It returns nil when
// there is no session.
func (a *Accessor) GetUser(ctx context.Context) (*oauth.User, error) {
	s, _ := a.GetSession(ctx)
	if s == nil {
		return nil, nil
	}
	return a.idp.GetUser(ctx, s.AccessToken)
}

// UpdateUser changes the password or metadata of the signed-in user.
func (a *Accessor) UpdateUser(ctx context.Context, attrs oauth.UserAttributes) (*oauth.User, error) {
	s, _ := a.GetSession(ctx)
	if s == nil {
		return nil, ErrNoSession
	}

	user, err := a.idp.UpdateUser(ctx, s.AccessToken, attrs)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if current, _ := a.storage.Load(); current != nil && current.AccessToken == s.AccessToken {
		current.User = user
		if err := a.storage.Save(current); err != nil {
			a.logger.Warn("failed to persist updated user", slog.String("error", err.Error()))
		}
		s = current
	}
	a.mu.Unlock()

	a.emit(EventUserUpdated, s)
	return user, nil
}

// SetSessionFromURL installs the session carried in the fragment of an
// identity provider redirect (recovery or magic link).
func (a *Accessor) SetSessionFromURL(ctx context.Context, rawURL string) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redirect url: %w", err)
	}

	params, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil, fmt.Errorf("parse redirect fragment: %w", err)
	}
	if desc := params.Get("error_description"); desc != "" {
		return nil, &oauth.AuthError{Code: params.Get("error_code"), Message: desc}
	}

	sess := &oauth.Session{
		AccessToken:  params.Get("access_token"),
		RefreshToken: params.Get("refresh_token"),
		TokenType:    params.Get("token_type"),
	}
	if !sess.Complete() {
		return nil, oauth.ErrIncompleteSession
	}
	sess.ExpiresIn, _ = strconv.Atoi(params.Get("expires_in"))
	sess.ExpiresAt, _ = strconv.ParseInt(params.Get("expires_at"), 10, 64)

	user, err := a.idp.GetUser(ctx, sess.AccessToken)
	if err != nil {
		return nil, err
	}
	sess.User = user

	event := EventSignedIn
	if params.Get("type") == "recovery" {
		event = EventPasswordRecovery
	}
	return a.store(sess, event)
}

func (a *Accessor) store(sess *oauth.Session, event Event) (*Session, error) {
	if !sess.Complete() {
		return nil, oauth.ErrIncompleteSession
	}
	s := a.fromProvider(sess)

	a.mu.Lock()
	err := a.storage.Save(s)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	a.emit(event, s)
	return s, nil
}

func (a *Accessor) fromProvider(sess *oauth.Session) *Session {
	return &Session{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.Expiry(a.now()).Unix(),
		User:         sess.User,
	}
}

package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fixfirst/web/internal/oauth"
)

// DefaultRefreshMargin is how close to expiry a token gets refreshed on read.
const DefaultRefreshMargin = 60 * time.Second

// Refresher renews a token pair at the identity provider.
type Refresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (*oauth.Session, error)
}

// AccessorConfig tunes an Accessor.
type AccessorConfig struct {
	TTL           time.Duration
	RefreshMargin time.Duration
	Sliding       bool
}

// Accessor resolves the privileged (server-side) session for a request. Each
// call reads the store; nothing is cached between requests.
type Accessor struct {
	store     Store
	refresher Refresher
	cookie    Cookie
	cfg       AccessorConfig
	logger    *slog.Logger
	group     singleflight.Group
	now       func() time.Time
}

// NewAccessor creates an Accessor.
func NewAccessor(store Store, refresher Refresher, cookie Cookie, cfg AccessorConfig, logger *slog.Logger) *Accessor {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Accessor{
		store:     store,
		refresher: refresher,
		cookie:    cookie,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Cookie returns the session cookie policy.
func (a *Accessor) Cookie() Cookie {
	return a.cookie
}

// FromRequest resolves the session named by the request cookie. It returns
// nil with no error when the request carries no usable session.
func (a *Accessor) FromRequest(r *http.Request) (*SessionData, string, error) {
	id, ok := a.cookie.Read(r)
	if !ok {
		return nil, "", nil
	}
	data, err := a.Resolve(r.Context(), id)
	if err != nil || data == nil {
		return nil, "", err
	}
	return data, id, nil
}

// Resolve loads a session by id. Partial records are deleted and reported as
// absent. Tokens within the refresh margin of expiry are renewed and written
// back; a rejected refresh deletes the session.
func (a *Accessor) Resolve(ctx context.Context, id string) (*SessionData, error) {
	data, err := a.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	if !data.Complete() {
		a.logger.Warn("discarding partial session", slog.String("session_id", id))
		if err := a.store.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if !data.ExpiresWithin(a.now(), a.cfg.RefreshMargin) {
		if a.cfg.Sliding && a.cfg.TTL > 0 {
			_ = a.store.Touch(ctx, id, a.cfg.TTL)
		}
		return data, nil
	}

	v, err, _ := a.group.Do(id, func() (any, error) {
		return a.refresh(ctx, id, data)
	})
	if err != nil {
		return nil, err
	}
	refreshed, _ := v.(*SessionData)
	return refreshed, nil
}

func (a *Accessor) refresh(ctx context.Context, id string, data *SessionData) (*SessionData, error) {
	fresh, err := a.refresher.RefreshSession(ctx, data.RefreshToken)
	if err == nil && !fresh.Complete() {
		err = oauth.ErrIncompleteSession
	}
	if err != nil {
		a.logger.Warn("session refresh failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		if delErr := a.store.Delete(ctx, id); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}

	updated := *data
	updated.AccessToken = fresh.AccessToken
	updated.RefreshToken = fresh.RefreshToken
	updated.ExpiresAt = fresh.Expiry(a.now()).Unix()
	if fresh.User != nil {
		applyUser(&updated, fresh.User)
	}

	if err := a.store.Update(ctx, id, &updated, a.cfg.TTL); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Establish stores a freshly minted identity provider session and returns its id.
func (a *Accessor) Establish(ctx context.Context, sess *oauth.Session) (string, *SessionData, error) {
	if !sess.Complete() {
		return "", nil, oauth.ErrIncompleteSession
	}

	csrfToken, err := randomToken(32)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate csrf token: %w", err)
	}

	data := &SessionData{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.Expiry(a.now()).Unix(),
		CSRFToken:    csrfToken,
	}
	if sess.User != nil {
		applyUser(data, sess.User)
	}

	id, err := a.store.Create(ctx, data, a.cfg.TTL)
	if err != nil {
		return "", nil, err
	}
	return id, data, nil
}

// Destroy deletes the session. A missing session is not an error.
func (a *Accessor) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return a.store.Delete(ctx, id)
}

// MarkOnboarded records the onboarding completion marker on the stored session.
func (a *Accessor) MarkOnboarded(ctx context.Context, id, at string) error {
	data, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if data == nil {
		return ErrNotFound
	}
	data.OnboardedAt = at
	return a.store.Update(ctx, id, data, a.cfg.TTL)
}

// ErrNotFound is returned when a session id does not name a stored session.
var ErrNotFound = errors.New("session not found")

func applyUser(data *SessionData, user *oauth.User) {
	data.UserID = user.ID
	data.Email = user.Email
	if at, ok := user.OnboardingCompletedAt(); ok {
		data.OnboardedAt = at
	}
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

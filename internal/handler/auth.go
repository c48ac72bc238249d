package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fixfirst/web/internal/middleware"
	"github.com/fixfirst/web/internal/oauth"
	"github.com/fixfirst/web/internal/onboarding"
	"github.com/fixfirst/web/internal/session"
)

const (
	// verifierCookieName holds the PKCE code_verifier during the auth flow.
	verifierCookieName = "fixfirst_pkce_verifier"

	verifierMaxAge = 5 * time.Minute

	// DefaultProvider is the OAuth provider used when /auth/login names none.
	DefaultProvider = "google"

	checkEmailMsg    = "Check your email to confirm. When you sign in, you'll complete a short onboarding."
	resetSentMsg     = "Check your email for a link to reset your password."
	passwordSetMsg   = "Password updated. Sign in with your new password."
	linkExpiredMsg   = "Reset link expired. Request a new one."
	verifierLostMsg  = "Sign-in took too long. Please try again."
	mismatchMsg      = "Passwords don't match."
	credentialsMsg   = "Email and password are required."
	shortPasswordMsg = "Password must be at least 6 characters."
)

// IdentityProvider is the identity provider surface the handlers use.
type IdentityProvider interface {
	AuthorizeURL(provider, redirectTo, codeChallenge string) string
	ExchangeCodeForSession(ctx context.Context, code, codeVerifier string) (*oauth.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*oauth.Session, error)
	SignUp(ctx context.Context, email, password string, data map[string]any) (*oauth.Session, *oauth.User, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	GetUser(ctx context.Context, accessToken string) (*oauth.User, error)
	UpdateUser(ctx context.Context, accessToken string, attrs oauth.UserAttributes) (*oauth.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// AuthOptions configures the handshake endpoints.
type AuthOptions struct {
	// SiteURL is the public origin used to build redirect_to URLs.
	SiteURL      string
	Provider     string
	SecureCookie bool
}

// AuthHandler owns the sign-in handshake. It is the only code path that turns
// identity provider credentials into a cookie session.
type AuthHandler struct {
	idp      IdentityProvider
	sessions *session.Accessor
	claims   *oauth.ClaimsParser
	opts     AuthOptions
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	idp IdentityProvider,
	sessions *session.Accessor,
	claims *oauth.ClaimsParser,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthHandler {
	if opts.Provider == "" {
		opts.Provider = DefaultProvider
	}
	opts.SiteURL = strings.TrimSuffix(opts.SiteURL, "/")
	if claims == nil {
		claims = oauth.NewClaimsParser("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		idp:      idp,
		sessions: sessions,
		claims:   claims,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Login starts the OAuth sign-in with PKCE.
func (h *AuthHandler) Login(c *gin.Context) {
	pkce, err := oauth.NewPKCE()
	if err != nil {
		middleware.Logger(c, h.logger).Error("failed to generate PKCE", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "BFF_AUTH_PKCE_ERROR"})
		return
	}

	provider := c.DefaultQuery("provider", h.opts.Provider)
	next := SafeNext(c.Query("next"))
	redirectTo := h.opts.SiteURL + "/auth/callback?" + url.Values{"next": {next}}.Encode()

	h.setVerifier(c.Writer, pkce.Verifier, int(verifierMaxAge.Seconds()))
	c.Redirect(http.StatusFound, h.idp.AuthorizeURL(provider, redirectTo, pkce.Challenge))
}

// Callback exchanges the one-time code for a session. Cookies and the redirect
// are written to the same response.
func (h *AuthHandler) Callback(c *gin.Context) {
	logger := middleware.Logger(c, h.logger)
	next := SafeNext(c.Query("next"))

	code := c.Query("code")
	if code == "" {
		if idpErr := c.Query("error"); idpErr != "" {
			logger.Warn("identity provider returned an error",
				slog.String("error", idpErr),
				slog.String("description", c.Query("error_description")))
		}
		c.Redirect(http.StatusFound, next)
		return
	}

	verifier, err := c.Cookie(verifierCookieName)
	if err != nil || verifier == "" {
		logger.Warn("pkce verifier cookie missing")
		c.Redirect(http.StatusFound, authErrorURL(onboarding.SignInPath, verifierLostMsg))
		return
	}

	sess, err := h.idp.ExchangeCodeForSession(c.Request.Context(), code, verifier)
	if err != nil {
		logger.Warn("code exchange failed", slog.String("error", err.Error()))
		h.clearVerifier(c.Writer)
		c.Redirect(http.StatusFound, authErrorURL(onboarding.SignInPath, oauth.Message(err)))
		return
	}
	if !sess.Complete() {
		logger.Warn("code exchange returned no session")
		h.clearVerifier(c.Writer)
		c.Redirect(http.StatusFound, authErrorURL(onboarding.SignInPath, ""))
		return
	}

	if !h.establish(c, sess) {
		return
	}
	h.clearVerifier(c.Writer)
	c.Redirect(http.StatusFound, next)
}

type passwordForm struct {
	Email    string `form:"email" json:"email" binding:"required,email"`
	Password string `form:"password" json:"password" binding:"required"`
	Next     string `form:"next" json:"next"`
}

// Password signs in with email and password.
func (h *AuthHandler) Password(c *gin.Context) {
	var form passwordForm
	if err := c.ShouldBind(&form); err != nil {
		c.Redirect(http.StatusSeeOther, authErrorURL(onboarding.SignInPath, credentialsMsg))
		return
	}

	sess, err := h.idp.SignInWithPassword(c.Request.Context(), strings.TrimSpace(form.Email), form.Password)
	if err != nil {
		middleware.Logger(c, h.logger).Warn("password sign-in failed", slog.String("error", err.Error()))
		c.Redirect(http.StatusSeeOther, authErrorURL(onboarding.SignInPath, oauth.Message(err)))
		return
	}
	if !sess.Complete() {
		c.Redirect(http.StatusSeeOther, authErrorURL(onboarding.SignInPath, ""))
		return
	}

	if !h.establish(c, sess) {
		return
	}
	c.Redirect(http.StatusSeeOther, SafeNext(form.Next))
}

type signupForm struct {
	Email    string `form:"email" json:"email" binding:"required,email"`
	Password string `form:"password" json:"password" binding:"required,min=6"`
	OrgName  string `form:"org_name" json:"org_name"`
}

// Signup registers a user. With an immediate session the user goes straight to
// onboarding, carrying the organization name in the URL.
func (h *AuthHandler) Signup(c *gin.Context) {
	var form signupForm
	if err := c.ShouldBind(&form); err != nil {
		msg := credentialsMsg
		if form.Email != "" && form.Password != "" {
			msg = shortPasswordMsg
		}
		c.Redirect(http.StatusSeeOther, authErrorURL("/signup", msg))
		return
	}

	sess, _, err := h.idp.SignUp(c.Request.Context(), strings.TrimSpace(form.Email), form.Password, nil)
	if err != nil {
		middleware.Logger(c, h.logger).Warn("sign-up failed", slog.String("error", err.Error()))
		c.Redirect(http.StatusSeeOther, authErrorURL("/signup", oauth.Message(err)))
		return
	}
	if !sess.Complete() {
		c.Redirect(http.StatusSeeOther, onboarding.SignInPath+"?"+url.Values{"message": {checkEmailMsg}}.Encode())
		return
	}

	if !h.establish(c, sess) {
		return
	}
	target := "/onboarding"
	if name := strings.TrimSpace(form.OrgName); name != "" {
		target += "?" + url.Values{"org_name": {name}}.Encode()
	}
	c.Redirect(http.StatusSeeOther, target)
}

// Recover sends a password reset link landing on /reset-password.
func (h *AuthHandler) Recover(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	if email == "" {
		c.Redirect(http.StatusSeeOther, authErrorURL("/forgot-password", "Email is required."))
		return
	}

	if err := h.idp.ResetPasswordForEmail(c.Request.Context(), email, h.opts.SiteURL+"/reset-password"); err != nil {
		middleware.Logger(c, h.logger).Warn("password recovery failed", slog.String("error", err.Error()))
		c.Redirect(http.StatusSeeOther, authErrorURL("/forgot-password", oauth.Message(err)))
		return
	}
	c.Redirect(http.StatusSeeOther, "/forgot-password?"+url.Values{"message": {resetSentMsg}}.Encode())
}

type resetForm struct {
	AccessToken string `form:"access_token" binding:"required"`
	Password    string `form:"password" binding:"required"`
	Confirm     string `form:"confirm" binding:"required"`
}

// ResetPassword sets a new password with the recovery token from the email
// link. It does not sign the user in.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var form resetForm
	if err := c.ShouldBind(&form); err != nil {
		c.Redirect(http.StatusSeeOther, authErrorURL("/forgot-password", linkExpiredMsg))
		return
	}
	switch {
	case form.Password != form.Confirm:
		c.Redirect(http.StatusSeeOther, authErrorURL("/reset-password", mismatchMsg))
		return
	case len(form.Password) < 6:
		c.Redirect(http.StatusSeeOther, authErrorURL("/reset-password", shortPasswordMsg))
		return
	}

	if exp := h.claims.ExpiresAt(form.AccessToken); !exp.IsZero() && !exp.After(h.now()) {
		c.Redirect(http.StatusSeeOther, authErrorURL("/forgot-password", linkExpiredMsg))
		return
	}

	_, err := h.idp.UpdateUser(c.Request.Context(), form.AccessToken, oauth.UserAttributes{Password: form.Password})
	if err != nil {
		middleware.Logger(c, h.logger).Warn("password update failed", slog.String("error", err.Error()))
		c.Redirect(http.StatusSeeOther, authErrorURL("/reset-password", oauth.Message(err)))
		return
	}
	c.Redirect(http.StatusSeeOther, onboarding.SignInPath+"?"+url.Values{"message": {passwordSetMsg}}.Encode())
}

// Logout signs out at the identity provider (best effort), deletes the stored
// session and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	cookie := h.sessions.Cookie()
	if id, ok := cookie.Read(c.Request); ok {
		ctx := c.Request.Context()
		logger := middleware.Logger(c, h.logger)

		if data, err := h.sessions.Resolve(ctx, id); err == nil && data != nil {
			if err := h.idp.SignOut(ctx, data.AccessToken); err != nil {
				logger.Warn("identity provider sign-out failed", slog.String("error", err.Error()))
			}
		}
		if err := h.sessions.Destroy(ctx, id); err != nil {
			logger.Error("failed to delete session", slog.String("error", err.Error()))
		}
	}

	cookie.Clear(c.Writer)
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *AuthHandler) establish(c *gin.Context, sess *oauth.Session) bool {
	id, _, err := h.sessions.Establish(c.Request.Context(), sess)
	if err != nil {
		middleware.Logger(c, h.logger).Error("failed to create session", slog.String("error", err.Error()))
		c.Redirect(http.StatusFound, authErrorURL(onboarding.SignInPath, ""))
		return false
	}
	h.sessions.Cookie().Write(c.Writer, id)
	return true
}

func (h *AuthHandler) setVerifier(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     verifierCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearVerifier(w http.ResponseWriter) {
	h.setVerifier(w, "", -1)
}

// SafeNext returns raw when it is a same-origin relative path and the
// post-login destination otherwise.
func SafeNext(raw string) string {
	next := strings.TrimSpace(raw)
	if next == "" || !strings.HasPrefix(next, "/") ||
		strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return onboarding.PostLoginPath
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return onboarding.PostLoginPath
	}
	return next
}

// authErrorURL builds a sign-in page URL carrying the auth error marker and,
// when known, the provider message.
func authErrorURL(path, message string) string {
	q := url.Values{"error": {"auth"}}
	if message != "" {
		q.Set("message", message)
	}
	return path + "?" + q.Encode()
}

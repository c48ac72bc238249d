package middleware

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/fixfirst/web/internal/session"
)

const (
	// SessionDataKey is the gin context key where SessionData is stored.
	SessionDataKey = "bff_session"

	// SessionIDKey is the gin context key where the session ID is stored.
	SessionIDKey = "bff_session_id"

	// LoginPath is where page requests without a session are sent.
	LoginPath = "/login"
)

// Mode selects how a missing session is answered.
type Mode int

const (
	// ModeAPI answers 401 JSON.
	ModeAPI Mode = iota
	// ModePage redirects to the sign-in page, remembering the requested path.
	ModePage
)

// SessionMiddleware resolves the cookie session through the accessor (which
// refreshes tokens near expiry) and stores it in the gin context. Requests
// without a usable session are rejected according to mode.
func SessionMiddleware(acc *session.Accessor, mode Mode, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie := acc.Cookie()
		sessionID, ok := cookie.Read(c.Request)
		if !ok {
			reject(c, mode, "BFF_SESSION_MISSING", "Session cookie not found")
			return
		}

		sess, err := acc.Resolve(c.Request.Context(), sessionID)
		if err != nil {
			Logger(c, logger).Error("failed to resolve session", slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "BFF_SESSION_UNAVAILABLE",
				"message": "Session store unavailable",
			})
			return
		}
		if sess == nil {
			cookie.Clear(c.Writer)
			reject(c, mode, "BFF_SESSION_INVALID", "Session expired or invalid")
			return
		}

		c.Set(SessionDataKey, sess)
		c.Set(SessionIDKey, sessionID)
		c.Next()
	}
}

// OptionalSession loads the session when one exists and never aborts.
func OptionalSession(acc *session.Accessor, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, id, err := acc.FromRequest(c.Request)
		if err != nil {
			Logger(c, logger).Warn("failed to resolve optional session", slog.String("error", err.Error()))
		}
		if sess != nil {
			c.Set(SessionDataKey, sess)
			c.Set(SessionIDKey, id)
		}
		c.Next()
	}
}

// RedirectSignedIn sends requests that already carry a session to dest. It
// expects OptionalSession to have run.
func RedirectSignedIn(dest string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetSessionData(c); ok {
			c.Redirect(http.StatusFound, dest)
			c.Abort()
			return
		}
		c.Next()
	}
}

func reject(c *gin.Context, mode Mode, code, message string) {
	if mode == ModePage {
		target := LoginPath + "?" + url.Values{"next": {c.Request.URL.RequestURI()}}.Encode()
		c.Redirect(http.StatusFound, target)
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   code,
		"message": message,
	})
}

// GetSessionData retrieves SessionData from the gin context.
func GetSessionData(c *gin.Context) (*session.SessionData, bool) {
	val, exists := c.Get(SessionDataKey)
	if !exists {
		return nil, false
	}
	sess, ok := val.(*session.SessionData)
	return sess, ok && sess != nil
}

// GetSessionID retrieves the session ID from the gin context.
func GetSessionID(c *gin.Context) (string, bool) {
	val, exists := c.Get(SessionIDKey)
	if !exists {
		return "", false
	}
	id, ok := val.(string)
	return id, ok
}

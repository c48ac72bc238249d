package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultCSRFHeader is the default header name for CSRF tokens.
	DefaultCSRFHeader = "X-CSRF-Token"

	// CSRFFormField carries the token on server-rendered form posts.
	CSRFFormField = "csrf_token"
)

// CSRFMiddleware compares the CSRF header (or, for HTML forms, the csrf_token
// field) with the token bound to the session for state-changing methods. It
// must run after SessionMiddleware.
func CSRFMiddleware(headerName string) gin.HandlerFunc {
	if headerName == "" {
		headerName = DefaultCSRFHeader
	}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		sess, ok := GetSessionData(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "BFF_CSRF_NO_SESSION",
				"message": "Session not found",
			})
			return
		}

		token := c.GetHeader(headerName)
		if token == "" {
			token = c.PostForm(CSRFFormField)
		}
		if token == "" || sess.CSRFToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(sess.CSRFToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "BFF_CSRF_MISMATCH",
				"message": "CSRF token mismatch",
			})
			return
		}

		c.Next()
	}
}

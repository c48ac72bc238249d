package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newCSRFRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	acc, store := newTestAccessor(t)
	id := seedSession(t, store, nil)

	router := gin.New()
	router.Use(SessionMiddleware(acc, ModeAPI, nil), CSRFMiddleware(""))
	handler := func(c *gin.Context) { c.Status(http.StatusOK) }
	router.GET("/test", handler)
	router.POST("/test", handler)
	return router, id
}

func TestCSRFMiddleware_SafeMethodsExempt(t *testing.T) {
	router, id := newCSRFRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, withCookie(httptest.NewRequest(http.MethodGet, "/test", nil), id))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCSRFMiddleware_Tokens(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusForbidden},
		{"mismatch", "wrong-token", http.StatusForbidden},
		{"valid", "csrf-abc", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, id := newCSRFRouter(t)

			req := withCookie(httptest.NewRequest(http.MethodPost, "/test", nil), id)
			if tt.header != "" {
				req.Header.Set(DefaultCSRFHeader, tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestCSRFMiddleware_NoSession(t *testing.T) {
	router := gin.New()
	router.Use(CSRFMiddleware("X-CSRF-Token"))
	router.POST("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/test", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "BFF_CSRF_NO_SESSION")
}

func TestCSRFMiddleware_FormField(t *testing.T) {
	router, id := newCSRFRouter(t)

	req := withCookie(httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("csrf_token=csrf-abc")), id)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

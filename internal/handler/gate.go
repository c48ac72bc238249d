package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fixfirst/web/internal/middleware"
	"github.com/fixfirst/web/internal/views"
)

// GateHandler exposes the access gate of the cookie session.
type GateHandler struct {
	gate views.Gate
}

// NewGateHandler creates a new GateHandler.
func NewGateHandler(gate views.Gate) *GateHandler {
	return &GateHandler{gate: gate}
}

// Handle answers {organization, can_upload}. It expects SessionMiddleware in
// API mode.
func (h *GateHandler) Handle(c *gin.Context) {
	sess, ok := middleware.GetSessionData(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "BFF_SESSION_MISSING",
			"message": "Session not found",
		})
		return
	}
	c.JSON(http.StatusOK, h.gate.Resolve(c.Request.Context(), sess.AccessToken))
}

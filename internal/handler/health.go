package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// HealthHandler serves the health checks. Readiness depends on the session backend
// only; the identity provider and the analysis backend are not checked because
// pages degrade on their own when those are down.
type HealthHandler struct {
	redisClient redis.Cmdable
}

// NewHealthHandler creates the health checks. redisClient is nil when sessions are
// kept in memory.
func NewHealthHandler(redisClient redis.Cmdable) *HealthHandler {
	return &HealthHandler{redisClient: redisClient}
}

func (h *HealthHandler) sessionBackend() string {
	if h.redisClient == nil {
		return "memory"
	}
	return "redis"
}

// Healthz is the liveness check.
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz reports whether sessions can be read and written.
func (h *HealthHandler) Readyz(c *gin.Context) {
	if h.redisClient != nil {
		if err := h.redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "not_ready",
				"sessions": h.sessionBackend(),
				"reason":   "session store unreachable",
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "sessions": h.sessionBackend()})
}

package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// LoggerKey is the gin context key for the request-scoped logger.
const LoggerKey = "logger"

// OTelTraceIDMiddleware prefers the OpenTelemetry trace id over the generated
// one and stores a logger carrying trace_id and correlation_id for handlers.
// Must run after CorrelationMiddleware and otelgin.
func OTelTraceIDMiddleware(base *slog.Logger) gin.HandlerFunc {
	if base == nil {
		base = slog.Default()
	}
	return func(c *gin.Context) {
		spanCtx := trace.SpanContextFromContext(c.Request.Context())
		if spanCtx.HasTraceID() {
			traceID := spanCtx.TraceID().String()
			c.Set(TraceIDKey, traceID)
			c.Header(HeaderTraceID, traceID)
		}

		c.Set(LoggerKey, base.With(
			slog.String("trace_id", c.GetString(TraceIDKey)),
			slog.String("correlation_id", c.GetString(CorrelationIDKey)),
		))

		c.Next()
	}
}

// Logger returns the request-scoped logger, or fallback when none was set.
func Logger(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	if fallback == nil {
		return slog.Default()
	}
	return fallback
}

package handler

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fixfirst/web/internal/middleware"
)

// ProxyHandler forwards /api/* to the analysis backend, turning the cookie
// session into a bearer token. Token refresh already happened in the session
// middleware.
type ProxyHandler struct {
	upstream *url.URL
	proxy    *httputil.ReverseProxy
	logger   *slog.Logger
}

// NewProxyHandler creates a reverse proxy handler targeting upstreamURL.
func NewProxyHandler(upstreamURL string, timeout time.Duration, logger *slog.Logger) (*ProxyHandler, error) {
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &ProxyHandler{upstream: target, logger: logger}
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.URL.Path = joinPath(target.Path, strings.TrimPrefix(r.In.URL.Path, "/api"))
			r.Out.URL.RawPath = ""
			r.Out.Host = target.Host
		},
		Transport: otelhttp.NewTransport(&http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
		}),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Error("upstream request failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"BFF_PROXY_UPSTREAM_ERROR","message":"Upstream request failed"}`))
		},
	}
	return h, nil
}

// Handle proxies the request after attaching the session bearer token.
func (h *ProxyHandler) Handle(c *gin.Context) {
	sess, ok := middleware.GetSessionData(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "BFF_PROXY_NO_SESSION",
			"message": "Session not found",
		})
		return
	}

	req := c.Request
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	if cid := c.GetString(middleware.CorrelationIDKey); cid != "" {
		req.Header.Set(middleware.HeaderCorrelationID, cid)
	}
	if tid := c.GetString(middleware.TraceIDKey); tid != "" {
		req.Header.Set(middleware.HeaderTraceID, tid)
	}

	// The session cookie and CSRF token stay at the edge.
	req.Header.Del("Cookie")
	req.Header.Del(middleware.DefaultCSRFHeader)

	h.proxy.ServeHTTP(c.Writer, req)
}

func joinPath(base, rest string) string {
	if rest == "" {
		rest = "/"
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rest, "/")
}

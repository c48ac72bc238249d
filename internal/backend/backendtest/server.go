// Package backendtest runs an in-memory analysis backend for tests.
package backendtest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fixfirst/web/internal/backend"
)

// Token is the bearer token the fake backend accepts.
const Token = "test-token"

// Server is a fake analysis backend. Exported fields are set before the
// requests that read them and are not locked.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	requests []string

	Org       *backend.Organization
	OrgStatus int

	CreateStatus int
	CreateDetail string
	CreateDelay  time.Duration
	Created      []backend.CreateOrganizationRequest

	UploadResult  backend.UploadResult
	UploadedFiles []string

	Schema         *backend.Schema
	Insights       backend.InsightsResult
	InsightsStatus int
	InsightsDetail string
	Generated      backend.CardsGenerated
	Cards          map[string]*backend.DecisionCard
	Report         map[string]any
	CheckoutStatus int
	CheckoutBody   map[string]any
	Checkouts      []backend.CheckoutRequest
}

// New starts a fake backend that is closed with the test.
func New(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{Cards: make(map[string]*backend.DecisionCard)}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

// Requests returns "METHOD /path" for every authenticated request served.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Count returns how many served requests match "METHOD /path".
func (s *Server) Count(route string) int {
	n := 0
	for _, r := range s.Requests() {
		if r == route {
			n++
		}
	}
	return n
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(s.authenticate)

	r.GET("/organizations/me", s.getOrganization)
	r.POST("/organizations", s.createOrganization)
	r.POST("/ingestion/upload", s.upload)
	r.GET("/ingestion/schema", s.schema)
	r.POST("/insights/generate", s.generateInsights)
	r.GET("/decision_cards/list", s.listCards)
	r.POST("/decision_cards/generate", s.generateCards)
	r.GET("/decision_cards/:id", s.getCard)
	r.PATCH("/decision_cards/:id", s.patchCard)
	r.GET("/reports/weekly", s.weeklyReport)
	r.POST("/billing/checkout", s.checkout)
	return r
}

func (s *Server) authenticate(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid session."})
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, c.Request.Method+" "+c.Request.URL.Path)
	s.mu.Unlock()
	c.Next()
}

func (s *Server) getOrganization(c *gin.Context) {
	if s.OrgStatus != 0 {
		c.JSON(s.OrgStatus, gin.H{"detail": "unavailable"})
		return
	}
	// can_upload is echoed as the backend would compute it for an active org; the
	// client recomputes it.
	c.JSON(http.StatusOK, gin.H{"organization": s.Org, "can_upload": true})
}

func (s *Server) createOrganization(c *gin.Context) {
	var req backend.CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	s.Created = append(s.Created, req)
	s.mu.Unlock()
	if s.CreateDelay > 0 {
		time.Sleep(s.CreateDelay)
	}

	if s.CreateStatus != 0 {
		c.JSON(s.CreateStatus, gin.H{"detail": s.CreateDetail})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Organization name is required."})
		return
	}
	if s.Org != nil {
		c.JSON(http.StatusOK, gin.H{"id": s.Org.ID, "name": s.Org.Name, "message": "Already in an organization."})
		return
	}
	trial := "2099-01-01T00:00:00+00:00"
	s.Org = &backend.Organization{ID: "org-1", Name: req.Name, TrialEndsAt: &trial, SubscriptionStatus: "trialing"}
	c.JSON(http.StatusOK, s.Org)
}

func (s *Server) upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "file is required"})
		return
	}
	f, err := fh.Open()
	if err == nil {
		_, _ = io.Copy(io.Discard, f)
		_ = f.Close()
	}
	s.mu.Lock()
	s.UploadedFiles = append(s.UploadedFiles, fh.Filename)
	s.mu.Unlock()
	c.JSON(http.StatusOK, s.UploadResult)
}

func (s *Server) schema(c *gin.Context) {
	if s.Schema == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Server not configured."})
		return
	}
	c.JSON(http.StatusOK, s.Schema)
}

func (s *Server) generateInsights(c *gin.Context) {
	if s.InsightsStatus != 0 {
		c.JSON(s.InsightsStatus, gin.H{"detail": s.InsightsDetail})
		return
	}
	c.JSON(http.StatusOK, s.Insights)
}

func (s *Server) listCards(c *gin.Context) {
	cards := make([]backend.DecisionCard, 0, len(s.Cards))
	for _, card := range s.Cards {
		cards = append(cards, *card)
	}
	top := cards
	if len(top) > 3 {
		top = top[:3]
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards, "top_3_this_week": top})
}

func (s *Server) generateCards(c *gin.Context) {
	c.JSON(http.StatusOK, s.Generated)
}

func (s *Server) getCard(c *gin.Context) {
	card, ok := s.Cards[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Card not found."})
		return
	}
	c.JSON(http.StatusOK, card)
}

func (s *Server) patchCard(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || (body.Status != backend.CardOpen && body.Status != backend.CardDone) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "status must be 'open' or 'done'."})
		return
	}
	card, ok := s.Cards[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Card not found."})
		return
	}
	card.Status = body.Status
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": body.Status})
}

func (s *Server) weeklyReport(c *gin.Context) {
	if s.Report == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "report": nil, "message": "No decision cards yet."})
		return
	}
	c.JSON(http.StatusOK, s.Report)
}

func (s *Server) checkout(c *gin.Context) {
	var req backend.CheckoutRequest
	_ = c.ShouldBindJSON(&req)
	s.mu.Lock()
	s.Checkouts = append(s.Checkouts, req)
	s.mu.Unlock()

	status := s.CheckoutStatus
	if status == 0 {
		status = http.StatusOK
	}
	c.JSON(status, s.CheckoutBody)
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fixfirst/web/internal/accessgate"
	"github.com/fixfirst/web/internal/middleware"
	"github.com/fixfirst/web/internal/onboarding"
	"github.com/fixfirst/web/internal/session"
	"github.com/fixfirst/web/internal/views"
)

const authFailedMsg = "Authentication failed. Please try again."

// Backend is the analysis backend surface the pages use.
type Backend interface {
	views.API
	onboarding.Provisioner
}

// PageHandler renders the public and gated page shells. Gated pages expect
// SessionMiddleware in page mode; form posts expect CSRFMiddleware.
type PageHandler struct {
	idp      IdentityProvider
	sessions *session.Accessor
	gate     views.Gate
	api      Backend
	siteURL  string
	logger   *slog.Logger
	now      func() time.Time

	// Sessions with an onboarding submission in flight.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewPageHandler creates a new PageHandler.
func NewPageHandler(
	idp IdentityProvider,
	sessions *session.Accessor,
	gate views.Gate,
	api Backend,
	siteURL string,
	logger *slog.Logger,
) *PageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageHandler{
		idp:      idp,
		sessions: sessions,
		gate:     gate,
		api:      api,
		siteURL:  siteURL,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// sessionTokens hands the resolved session token to the views. The session
// middleware has already refreshed it for this request.
type sessionTokens struct {
	token string
}

func (t sessionTokens) AccessToken(context.Context) (string, bool) {
	return t.token, t.token != ""
}

func (h *PageHandler) views(c *gin.Context) *views.Views {
	var token string
	if sess, ok := middleware.GetSessionData(c); ok {
		token = sess.AccessToken
	}
	return views.New(sessionTokens{token: token}, h.gate, h.api, h.siteURL, middleware.Logger(c, h.logger))
}

func (h *PageHandler) page(c *gin.Context, title string) gin.H {
	data := gin.H{
		"Title":   title,
		"Message": c.Query("message"),
	}
	if c.Query("error") != "" {
		msg := c.Query("message")
		if msg == "" {
			msg = authFailedMsg
		}
		data["Error"] = msg
		data["Message"] = ""
	}
	if sess, ok := middleware.GetSessionData(c); ok {
		data["Email"] = sess.Email
		data["CSRF"] = sess.CSRFToken
	}
	return data
}

func (h *PageHandler) withGate(c *gin.Context, data gin.H) *accessgate.State {
	state, ok := h.views(c).Gate(c.Request.Context())
	if !ok {
		return nil
	}
	data["Gate"] = &state
	return &state
}

// Home is the landing page.
func (h *PageHandler) Home(c *gin.Context) {
	c.HTML(http.StatusOK, "home", h.page(c, "Home"))
}

// Login renders the sign-in form.
func (h *PageHandler) Login(c *gin.Context) {
	data := h.page(c, "Sign in")
	data["Next"] = SafeNext(c.Query("next"))
	c.HTML(http.StatusOK, "login", data)
}

// Signup renders the sign-up form.
func (h *PageHandler) Signup(c *gin.Context) {
	c.HTML(http.StatusOK, "signup", h.page(c, "Create account"))
}

// ForgotPassword renders the recovery request form.
func (h *PageHandler) ForgotPassword(c *gin.Context) {
	c.HTML(http.StatusOK, "forgot_password", h.page(c, "Reset password"))
}

// ResetPassword renders the new-password form the recovery link lands on.
func (h *PageHandler) ResetPassword(c *gin.Context) {
	c.HTML(http.StatusOK, "reset_password", h.page(c, "Set new password"))
}

// Cards renders the decision card list.
func (h *PageHandler) Cards(c *gin.Context) {
	data := h.page(c, "Decision cards")
	h.withGate(c, data)
	data["Cards"] = h.views(c).ListCards(c.Request.Context())
	c.HTML(http.StatusOK, "cards", data)
}

// GenerateCards turns insights into decision cards.
func (h *PageHandler) GenerateCards(c *gin.Context) {
	res, err := h.views(c).GenerateCards(c.Request.Context())
	if err != nil {
		redirectWith(c, views.CardsPath, "error", views.Message(err))
		return
	}
	redirectWith(c, views.CardsPath, "message", plural(res.Count, "new decision card"))
}

// Card renders one decision card.
func (h *PageHandler) Card(c *gin.Context) {
	card, err := h.views(c).Card(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, views.ErrCardNotFound) {
			status = http.StatusNotFound
		}
		h.renderError(c, status, views.Message(err))
		return
	}

	data := h.page(c, "Decision card")
	data["Card"] = card
	c.HTML(http.StatusOK, "card", data)
}

// CardStatus marks a card open or done and returns to it.
func (h *PageHandler) CardStatus(c *gin.Context) {
	id := c.Param("id")
	target := views.CardsPath + "/" + id
	if err := h.views(c).SetCardStatus(c.Request.Context(), id, c.PostForm("status")); err != nil {
		if errors.Is(err, views.ErrCardNotFound) {
			h.renderError(c, http.StatusNotFound, views.Message(err))
			return
		}
		redirectWith(c, target, "error", views.Message(err))
		return
	}
	c.Redirect(http.StatusSeeOther, target)
}

// Ingestion renders the upload form and the expected schema.
func (h *PageHandler) Ingestion(c *gin.Context) {
	data := h.page(c, "Upload logs")
	h.withGate(c, data)
	data["Schema"] = h.views(c).Schema(c.Request.Context())
	c.HTML(http.StatusOK, "ingestion", data)
}

// Upload stores an uploaded log file and renders the outcome in place.
func (h *PageHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	v := h.views(c)
	data := h.page(c, "Upload logs")
	h.withGate(c, data)
	data["Schema"] = v.Schema(ctx)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		data["Error"] = "Choose a .csv or .json file."
		c.HTML(http.StatusBadRequest, "ingestion", data)
		return
	}
	defer file.Close()

	outcome, err := v.Upload(ctx, header.Filename, file)
	if err != nil {
		data["Error"] = views.Message(err)
		c.HTML(statusFor(err), "ingestion", data)
		return
	}
	data["Lines"] = outcome.Lines()
	data["NextStep"] = outcome.NextStep()
	c.HTML(http.StatusOK, "ingestion", data)
}

// Insights renders the insight generation page.
func (h *PageHandler) Insights(c *gin.Context) {
	data := h.page(c, "Generate insights")
	h.withGate(c, data)
	c.HTML(http.StatusOK, "insights", data)
}

// GenerateInsights runs insight generation and renders the outcome in place.
func (h *PageHandler) GenerateInsights(c *gin.Context) {
	data := h.page(c, "Generate insights")
	h.withGate(c, data)

	outcome, err := h.views(c).GenerateInsights(c.Request.Context())
	if err != nil {
		data["Error"] = views.Message(err)
		c.HTML(statusFor(err), "insights", data)
		return
	}
	data["Lines"] = outcome.Lines()
	data["NextStep"] = outcome.NextStep()
	c.HTML(http.StatusOK, "insights", data)
}

// Report renders the weekly report.
func (h *PageHandler) Report(c *gin.Context) {
	outcome := h.views(c).WeeklyReport(c.Request.Context())
	data := h.page(c, "Weekly report")
	data["Lines"] = outcome.Lines()
	if outcome.Report != nil {
		data["Report"] = outcome.Report
	}
	c.HTML(http.StatusOK, "report", data)
}

// Settings renders the account and billing block.
func (h *PageHandler) Settings(c *gin.Context) {
	data := h.page(c, "Settings")
	switch c.Query("subscription") {
	case "success":
		data["Message"] = "Subscription active. Thanks for subscribing."
	case "canceled":
		data["Message"] = "Checkout canceled."
	}
	if state := h.withGate(c, data); state != nil {
		data["Status"] = views.OrganizationStatus(*state, h.now())
		data["HasOrganization"] = state.Organization != nil
	}
	c.HTML(http.StatusOK, "settings", data)
}

// Checkout sends the user to the payment provider.
func (h *PageHandler) Checkout(c *gin.Context) {
	target, err := h.views(c).Checkout(c.Request.Context())
	if err != nil {
		redirectWith(c, "/settings", "error", views.Message(err))
		return
	}
	c.Redirect(http.StatusSeeOther, target)
}

func (h *PageHandler) renderError(c *gin.Context, status int, msg string) {
	data := h.page(c, msg)
	c.HTML(status, "error", data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, views.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, views.ErrGateClosed):
		return http.StatusPaymentRequired
	case errors.Is(err, views.ErrUnsupportedFile):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

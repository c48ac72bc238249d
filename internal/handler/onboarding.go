package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fixfirst/web/internal/middleware"
	"github.com/fixfirst/web/internal/oauth"
	"github.com/fixfirst/web/internal/onboarding"
	"github.com/fixfirst/web/internal/session"
)

// wizardAuth is the onboarding view of the cookie session. A successful
// completion marker update is mirrored onto the stored session so the
// wizard is not offered again.
type wizardAuth struct {
	idp       IdentityProvider
	sessions  *session.Accessor
	sessionID string
	token     string
	logger    *slog.Logger
}

func (a *wizardAuth) AccessToken(context.Context) (string, bool) {
	return a.token, a.token != ""
}

func (a *wizardAuth) GetUser(ctx context.Context) (*oauth.User, error) {
	return a.idp.GetUser(ctx, a.token)
}

func (a *wizardAuth) UpdateUser(ctx context.Context, attrs oauth.UserAttributes) (*oauth.User, error) {
	user, err := a.idp.UpdateUser(ctx, a.token, attrs)
	if err != nil {
		return nil, err
	}
	if at, ok := user.OnboardingCompletedAt(); ok {
		if err := a.sessions.MarkOnboarded(ctx, a.sessionID, at); err != nil {
			a.logger.Warn("failed to mirror onboarding marker", slog.String("error", err.Error()))
		}
	}
	return user, nil
}

type onboardingForm struct {
	Action        string `form:"action"`
	SignupOrgName string `form:"signup_org_name"`
	AccountType   string `form:"account_type"`
	OrgName       string `form:"org_name"`
	TeamSize      string `form:"team_size"`
	Role          string `form:"role"`
	UseCase       string `form:"use_case"`
	HowHeard      string `form:"how_heard"`
	MainGoal      string `form:"main_goal"`
}

func (f onboardingForm) apply(d *onboarding.Draft) {
	d.OrgName = f.OrgName
	d.TeamSize = f.TeamSize
	d.Role = f.Role
	d.UseCase = f.UseCase
	d.HowHeard = f.HowHeard
	d.MainGoal = f.MainGoal
}

func (h *PageHandler) wizard(c *gin.Context, signupOrgName string) *onboarding.Machine {
	logger := middleware.Logger(c, h.logger)
	auth := &wizardAuth{idp: h.idp, sessions: h.sessions, logger: logger}
	if sess, ok := middleware.GetSessionData(c); ok {
		auth.token = sess.AccessToken
	}
	auth.sessionID, _ = middleware.GetSessionID(c)
	return onboarding.New(auth, h.api, strings.TrimSpace(signupOrgName), logger)
}

// Onboarding runs the entry guard and renders the questionnaire for
// first-time users. Returning users are sent on without seeing it.
func (h *PageHandler) Onboarding(c *gin.Context) {
	if sess, ok := middleware.GetSessionData(c); ok && sess.OnboardedAt != "" {
		c.Redirect(http.StatusFound, onboarding.PostLoginPath)
		return
	}

	signupOrgName := c.Query("org_name")
	m := h.wizard(c, signupOrgName)
	if _, err := m.Start(c.Request.Context()); err != nil {
		h.renderError(c, http.StatusInternalServerError, "Something went wrong.")
		return
	}
	if nav, ok := m.Exit(); ok {
		c.Redirect(http.StatusFound, nav.Path)
		return
	}

	data := h.wizardData(c, onboarding.StateAccountType, signupOrgName, onboarding.Draft{}, "")
	c.HTML(http.StatusOK, "onboarding", data)
}

// SubmitOnboarding drives the wizard with the posted answers. "choose" and
// "back" move between the account type step and the details step. "skip"
// submits whatever was filled in; "finish" has to pass every step guard.
// Only one submission per session runs at a time.
func (h *PageHandler) SubmitOnboarding(c *gin.Context) {
	var form onboardingForm
	_ = c.ShouldBind(&form)

	draft := onboarding.Draft{AccountType: onboarding.AccountType(form.AccountType)}
	form.apply(&draft)

	sessionID, _ := middleware.GetSessionID(c)
	if !h.claimSubmission(sessionID) {
		data := h.wizardData(c, stepFor(draft), form.SignupOrgName, draft, wizardMessage(onboarding.ErrSubmissionInFlight, draft.AccountType))
		data["Submitting"] = true
		data["Refresh"] = "2;url=" + onboardingPath(form.SignupOrgName)
		c.HTML(http.StatusConflict, "onboarding", data)
		return
	}
	defer h.releaseSubmission(sessionID)

	ctx := c.Request.Context()
	m := h.wizard(c, form.SignupOrgName)
	if _, err := m.Start(ctx); err != nil {
		h.renderError(c, http.StatusInternalServerError, "Something went wrong.")
		return
	}
	if nav, ok := m.Exit(); ok {
		c.Redirect(http.StatusSeeOther, nav.Path)
		return
	}

	switch form.Action {
	case "choose":
		if err := m.ChooseAccountType(draft.AccountType); err != nil {
			h.renderWizard(c, http.StatusUnprocessableEntity, onboarding.StateAccountType, form.SignupOrgName, draft, wizardMessage(errNoAccountType, ""))
			return
		}
		if strings.TrimSpace(draft.OrgName) == "" {
			draft.OrgName = strings.TrimSpace(form.SignupOrgName)
		}
		h.renderWizard(c, http.StatusOK, onboarding.StateDetails, form.SignupOrgName, draft, "")
		return
	case "back":
		h.renderWizard(c, http.StatusOK, onboarding.StateAccountType, form.SignupOrgName, draft, "")
		return
	}

	nav, err := h.runWizard(ctx, m, form)
	if err != nil {
		msg := wizardMessage(err, draft.AccountType)
		if last := m.LastError(); last != "" {
			msg = last
		}
		h.renderWizard(c, http.StatusUnprocessableEntity, stepFor(draft), form.SignupOrgName, draft, msg)
		return
	}

	data := h.page(c, "Welcome")
	data["Next"] = nav.Path
	data["Refresh"] = strconv.FormatFloat(nav.Delay.Seconds(), 'f', -1, 64) + ";url=" + nav.Path
	c.HTML(http.StatusOK, "onboarding_done", data)
}

// claimSubmission reports false when the session already has a submission
// running.
func (h *PageHandler) claimSubmission(sessionID string) bool {
	h.inflightMu.Lock()
	defer h.inflightMu.Unlock()
	if _, busy := h.inflight[sessionID]; busy {
		return false
	}
	h.inflight[sessionID] = struct{}{}
	return true
}

func (h *PageHandler) releaseSubmission(sessionID string) {
	h.inflightMu.Lock()
	delete(h.inflight, sessionID)
	h.inflightMu.Unlock()
}

func (h *PageHandler) runWizard(ctx context.Context, m *onboarding.Machine, form onboardingForm) (onboarding.Navigation, error) {
	accountType := onboarding.AccountType(form.AccountType)
	chosen := m.ChooseAccountType(accountType) == nil
	if err := m.Edit(form.apply); err != nil {
		return onboarding.Navigation{}, err
	}

	if form.Action == "skip" {
		return m.Skip(ctx)
	}
	if !chosen {
		return onboarding.Navigation{}, errNoAccountType
	}
	if err := m.Next(); err != nil {
		return onboarding.Navigation{}, err
	}
	return m.Finish(ctx)
}

var errNoAccountType = errors.New("account type not chosen")

func wizardMessage(err error, accountType onboarding.AccountType) string {
	switch {
	case errors.Is(err, errNoAccountType):
		return "Choose who this workspace is for."
	case errors.Is(err, onboarding.ErrBlocked) && accountType == onboarding.AccountOrganization:
		return "Organization name, role and use case are required."
	case errors.Is(err, onboarding.ErrBlocked):
		return "Role, use case and how you heard about us are required."
	case errors.Is(err, onboarding.ErrSubmissionInFlight):
		return "Already creating your workspace."
	default:
		return "Failed to create organization."
	}
}

// stepFor picks the page to show again: the details once an account type is
// known, the account type choice otherwise.
func stepFor(d onboarding.Draft) onboarding.State {
	if d.AccountType == onboarding.AccountOrganization || d.AccountType == onboarding.AccountIndividual {
		return onboarding.StateDetails
	}
	return onboarding.StateAccountType
}

func onboardingPath(signupOrgName string) string {
	if name := strings.TrimSpace(signupOrgName); name != "" {
		return "/onboarding?" + url.Values{"org_name": {name}}.Encode()
	}
	return "/onboarding"
}

func (h *PageHandler) wizardData(c *gin.Context, step onboarding.State, signupOrgName string, draft onboarding.Draft, errMsg string) gin.H {
	data := h.page(c, "Onboarding")
	data["Step"] = string(step)
	data["Draft"] = draft
	data["SignupOrgName"] = signupOrgName
	data["TeamSizes"] = onboarding.TeamSizes
	if errMsg != "" {
		data["Error"] = errMsg
	}
	return data
}

func (h *PageHandler) renderWizard(c *gin.Context, status int, step onboarding.State, signupOrgName string, draft onboarding.Draft, errMsg string) {
	c.HTML(status, "onboarding", h.wizardData(c, step, signupOrgName, draft, errMsg))
}

func redirectWith(c *gin.Context, path, key, value string) {
	c.Redirect(http.StatusSeeOther, path+"?"+url.Values{key: {value}}.Encode())
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun + "."
	}
	return strconv.Itoa(n) + " " + noun + "s."
}

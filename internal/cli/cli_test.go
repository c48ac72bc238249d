package cli

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixfirst/web/internal/backend"
	"github.com/fixfirst/web/internal/backend/backendtest"
	"github.com/fixfirst/web/internal/oauth"
	"github.com/fixfirst/web/internal/views"
)

// scriptedPrompter answers prompts from a fixed list, in order.
type scriptedPrompter struct {
	answers []string
	asked   []string
}

func (p *scriptedPrompter) next(title string) (string, error) {
	p.asked = append(p.asked, title)
	if len(p.answers) == 0 {
		return "", fmt.Errorf("unexpected prompt %q", title)
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

func (p *scriptedPrompter) Input(title, _ string, _ bool) (string, error) {
	return p.next(title)
}

func (p *scriptedPrompter) Select(title string, options []Option) (string, error) {
	answer, err := p.next(title)
	if err != nil {
		return "", err
	}
	for _, o := range options {
		if o.Value == answer {
			return answer, nil
		}
	}
	return "", fmt.Errorf("%q is not an option of %q", answer, title)
}

// fakeGoTrue is a minimal identity provider with a single account.
type fakeGoTrue struct {
	*httptest.Server

	mu         sync.Mutex
	password   string
	confirm    bool
	metadata   map[string]any
	signOuts   int
	recoveries []string
}

func newFakeGoTrue(t *testing.T) *fakeGoTrue {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fakeGoTrue{password: "secret1", metadata: map[string]any{}}
	r := gin.New()
	g := r.Group("/auth/v1")
	g.POST("/token", f.token)
	g.POST("/signup", f.signup)
	g.POST("/recover", f.recoverPassword)
	g.POST("/logout", f.logout)
	g.GET("/user", f.getUser)
	g.PUT("/user", f.updateUser)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGoTrue) user() oauth.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return oauth.User{ID: "user-1", Email: "a@example.com", UserMetadata: maps.Clone(f.metadata)}
}

func (f *fakeGoTrue) session() gin.H {
	return gin.H{
		"access_token":  backendtest.Token,
		"refresh_token": "refresh-1",
		"token_type":    "bearer",
		"expires_in":    3600,
		"user":          f.user(),
	}
}

func (f *fakeGoTrue) token(c *gin.Context) {
	var body struct {
		Password string `json:"password"`
	}
	_ = c.ShouldBindJSON(&body)

	f.mu.Lock()
	ok := body.Password == f.password
	f.mu.Unlock()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "Invalid login credentials"})
		return
	}
	c.JSON(http.StatusOK, f.session())
}

func (f *fakeGoTrue) signup(c *gin.Context) {
	var body struct {
		Data map[string]any `json:"data"`
	}
	_ = c.ShouldBindJSON(&body)

	f.mu.Lock()
	maps.Copy(f.metadata, body.Data)
	confirm := f.confirm
	f.mu.Unlock()

	if confirm {
		c.JSON(http.StatusOK, f.user())
		return
	}
	c.JSON(http.StatusOK, f.session())
}

func (f *fakeGoTrue) recoverPassword(c *gin.Context) {
	f.mu.Lock()
	f.recoveries = append(f.recoveries, c.Query("redirect_to"))
	f.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{})
}

func (f *fakeGoTrue) logout(c *gin.Context) {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (f *fakeGoTrue) getUser(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+backendtest.Token {
		c.JSON(http.StatusUnauthorized, gin.H{"msg": "invalid JWT"})
		return
	}
	c.JSON(http.StatusOK, f.user())
}

func (f *fakeGoTrue) updateUser(c *gin.Context) {
	var attrs oauth.UserAttributes
	if err := c.ShouldBindJSON(&attrs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	}
	f.mu.Lock()
	if attrs.Password != "" {
		f.password = attrs.Password
	}
	maps.Copy(f.metadata, attrs.Data)
	f.mu.Unlock()
	c.JSON(http.StatusOK, f.user())
}

func (f *fakeGoTrue) completedAt() (string, bool) {
	u := f.user()
	return u.OnboardingCompletedAt()
}

type harness struct {
	idp         *fakeGoTrue
	api         *backendtest.Server
	sessionFile string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		idp:         newFakeGoTrue(t),
		api:         backendtest.New(t),
		sessionFile: filepath.Join(t.TempDir(), "fixfirst", "session.json"),
	}
	t.Setenv("FIXFIRST_AUTH_URL", h.idp.URL)
	t.Setenv("FIXFIRST_AUTH_ANON_KEY", "anon-key")
	t.Setenv("FIXFIRST_API_URL", h.api.URL)
	t.Setenv("FIXFIRST_WEB_URL", "https://web.example.com/")
	t.Setenv("FIXFIRST_SESSION_FILE", h.sessionFile)
	return h
}

func (h *harness) run(t *testing.T, answers []string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	p := &scriptedPrompter{answers: answers}

	cmd := NewRootCommand(p, &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	assert.Empty(t, p.answers, "unused answers after prompts %v", p.asked)
	return out.String(), err
}

func (h *harness) login(t *testing.T) string {
	t.Helper()
	out, err := h.run(t, nil, "login", "--email", "a@example.com", "--password", "secret1")
	require.NoError(t, err)
	return out
}

func (h *harness) activeTrial() {
	end := "2099-01-01T00:00:00+00:00"
	h.api.Org = &backend.Organization{ID: "org-1", Name: "Acme", TrialEndsAt: &end, SubscriptionStatus: "trialing"}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLogin(t *testing.T) {
	h := newHarness(t)

	out := h.login(t)
	assert.Contains(t, out, "Signed in as a@example.com")
	assert.Contains(t, out, "fixfirst onboarding")

	info, err := os.Stat(h.sessionFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err = h.run(t, nil, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "a@example.com")
	assert.Contains(t, out, "Onboarded: no")
}

func TestLogin_PromptsForMissingCredentials(t *testing.T) {
	h := newHarness(t)
	h.activeTrial()

	out, err := h.run(t, []string{"a@example.com", "secret1"}, "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as a@example.com")
	assert.NotContains(t, out, "fixfirst onboarding")
}

func TestLogin_Rejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, nil, "login", "--email", "a@example.com", "--password", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid login credentials")

	_, statErr := os.Stat(h.sessionFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSignedOutCommands(t *testing.T) {
	h := newHarness(t)
	logs := writeFile(t, "logs.csv", "input,output\nhi,hello\n")

	_, err := h.run(t, nil, "upload", logs)
	require.Error(t, err)
	assert.Equal(t, "Not signed in.", err.Error())

	_, err = h.run(t, nil, "billing", "status")
	assert.ErrorIs(t, err, errNotSignedIn)

	out, err := h.run(t, nil, "cards", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No decision cards yet.")

	out, err = h.run(t, nil, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Not signed in.")

	_, err = h.run(t, nil, "onboarding")
	assert.ErrorIs(t, err, errNotSignedIn)

	assert.Empty(t, h.api.Requests())
}

func TestOnboarding_Organization(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	out, err := h.run(t, []string{
		"organization",
		"", "2-10", "next",
		"Acme", "2-10", "next",
		"PM", "Support bot", "", "finish",
	}, "onboarding")
	require.NoError(t, err)
	assert.Contains(t, out, "Organization name is required.")
	assert.Contains(t, out, "You're all set.")

	require.Len(t, h.api.Created, 1)
	created := h.api.Created[0]
	assert.Equal(t, "Acme", created.Name)
	assert.Equal(t, "organization", created.AccountType)
	require.NotNil(t, created.Survey)
	assert.Equal(t, "2-10", created.Survey.TeamSize)
	assert.Equal(t, "Support bot", created.Survey.UseCase)

	_, done := h.idp.completedAt()
	assert.True(t, done)

	out, err = h.run(t, nil, "onboarding")
	require.NoError(t, err)
	assert.Contains(t, out, "Your workspace is already set up.")
	assert.Len(t, h.api.Created, 1)
}

func TestOnboarding_IndividualRequiresHowHeard(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	out, err := h.run(t, []string{
		"individual", "", "next",
		"Founder", "Chatbot", "", "finish",
		"A friend", "next",
		"Founder", "Chatbot", "", "finish",
	}, "onboarding")
	require.NoError(t, err)
	assert.Contains(t, out, "Tell us how you heard about us.")

	require.Len(t, h.api.Created, 1)
	assert.Equal(t, "My workspace", h.api.Created[0].Name)
	assert.Equal(t, "individual", h.api.Created[0].AccountType)
	assert.Equal(t, "A friend", h.api.Created[0].Survey.HowHeard)
}

func TestOnboarding_GoalRequiresRoleAndUseCase(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	out, err := h.run(t, []string{
		"individual", "A friend", "next",
		"", "Chatbot", "", "finish",
		"Founder", "Chatbot", "", "finish",
	}, "onboarding")
	require.NoError(t, err)
	assert.Contains(t, out, "Role and use case are required.")
	assert.NotContains(t, out, "Tell us how you heard about us.")

	require.Len(t, h.api.Created, 1)
	assert.Equal(t, "Founder", h.api.Created[0].Survey.Role)
}

func TestOnboarding_BackReturnsToPreviousStep(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	_, err := h.run(t, []string{
		"individual", "", "back",
		"organization", "Acme", "", "next",
		"PM", "Support bot", "", "finish",
	}, "onboarding")
	require.NoError(t, err)

	require.Len(t, h.api.Created, 1)
	assert.Equal(t, "organization", h.api.Created[0].AccountType)
	assert.Empty(t, h.api.Created[0].Survey.TeamSize)
}

func TestOnboarding_SubmitErrorIsShownAndRetried(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.api.CreateStatus = http.StatusServiceUnavailable
	h.api.CreateDetail = "Database unavailable."

	out, err := h.run(t, []string{"skip", "skip"}, "onboarding")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected prompt")
	assert.Contains(t, out, "Database unavailable.")
	assert.Equal(t, 2, h.api.Count("POST /organizations"))

	_, done := h.idp.completedAt()
	assert.False(t, done)
}

func TestSignup_RunsWizardWithSignupName(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, []string{"skip"},
		"signup", "--email", "a@example.com", "--password", "secret1", "--org-name", "Acme Labs")
	require.NoError(t, err)
	assert.Contains(t, out, "Account created for a@example.com")
	assert.Contains(t, out, "You're all set.")

	require.Len(t, h.api.Created, 1)
	assert.Equal(t, "Acme Labs", h.api.Created[0].Name)
}

func TestSignup_ConfirmationRequired(t *testing.T) {
	h := newHarness(t)
	h.idp.confirm = true

	out, err := h.run(t, nil, "signup", "--email", "a@example.com", "--password", "secret1")
	require.NoError(t, err)
	assert.Contains(t, out, "Check your email to confirm.")
	assert.Empty(t, h.api.Created)

	_, statErr := os.Stat(h.sessionFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSignup_ShortPassword(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, nil, "signup", "--email", "a@example.com", "--password", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 6 characters")
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	out, err := h.run(t, nil, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out.")
	assert.Equal(t, 1, h.idp.signOuts)

	_, statErr := os.Stat(h.sessionFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRecoverAndResetPassword(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, nil, "recover", "--email", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Check your email for a link to reset your password.")
	assert.Equal(t, []string{"https://web.example.com/reset-password"}, h.idp.recoveries)

	link := "https://web.example.com/reset-password#access_token=" + backendtest.Token +
		"&refresh_token=refresh-1&expires_in=3600&token_type=bearer&type=recovery"

	t.Run("mismatch", func(t *testing.T) {
		_, err := h.run(t, []string{"newpass1", "newpass2"}, "reset-password", link)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "passwords don't match")
		assert.Equal(t, "secret1", h.idp.password)
	})

	t.Run("expired link", func(t *testing.T) {
		expired := "https://web.example.com/reset-password#error=access_denied&error_code=otp_expired" +
			"&error_description=Email+link+is+invalid+or+has+expired"
		_, err := h.run(t, nil, "reset-password", expired)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Email link is invalid or has expired")
	})

	t.Run("success", func(t *testing.T) {
		out, err := h.run(t, []string{"newpass1", "newpass1"}, "reset-password", link)
		require.NoError(t, err)
		assert.Contains(t, out, "Password updated.")
		assert.Equal(t, "newpass1", h.idp.password)

		_, statErr := os.Stat(h.sessionFile)
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestActions(t *testing.T) {
	h := newHarness(t)
	h.activeTrial()
	h.login(t)

	t.Run("upload", func(t *testing.T) {
		h.api.UploadResult = backend.UploadResult{OK: true, Stored: 42}
		out, err := h.run(t, nil, "upload", writeFile(t, "logs.csv", "input,output\n"))
		require.NoError(t, err)
		assert.Contains(t, out, "Stored 42 row(s).")
		assert.Contains(t, out, "fixfirst insights generate")
		assert.Equal(t, []string{"logs.csv"}, h.api.UploadedFiles)
	})

	t.Run("upload unsupported file", func(t *testing.T) {
		_, err := h.run(t, nil, "upload", writeFile(t, "notes.txt", "hi"))
		require.Error(t, err)
		assert.Equal(t, "File must be .csv or .json.", err.Error())
	})

	t.Run("upload validation errors", func(t *testing.T) {
		row := 3
		h.api.UploadResult = backend.UploadResult{OK: false, Errors: []backend.RowError{{Row: &row, Error: "missing output"}}}
		out, err := h.run(t, nil, "upload", writeFile(t, "logs.json", "[]"))
		require.NoError(t, err)
		assert.Contains(t, out, "Validation failed")
		assert.Contains(t, out, "Row 3: missing output")
		assert.NotContains(t, out, "Next:")
	})

	t.Run("insights", func(t *testing.T) {
		h.api.Insights = backend.InsightsResult{OK: true, Count: 1, Insights: []backend.Insight{{Title: "Lost context", Frequency: 7}}}
		out, err := h.run(t, nil, "insights", "generate")
		require.NoError(t, err)
		assert.Contains(t, out, "Generated 1 insight(s).")
		assert.Contains(t, out, "Lost context (7)")
		assert.Contains(t, out, "fixfirst cards generate")
	})

	h.api.Cards["c1"] = &backend.DecisionCard{
		ID:                "c1",
		Problem:           "Bot forgets context",
		RecommendedAction: "Add memory",
		ImpactLevel:       4,
		EffortEstimate:    2,
		ConfidenceScore:   0.8,
	}

	t.Run("cards", func(t *testing.T) {
		out, err := h.run(t, nil, "cards", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "Top 3 this week")
		assert.Contains(t, out, "Bot forgets context")
		assert.Contains(t, out, "High confidence")

		out, err = h.run(t, nil, "cards", "show", "c1")
		require.NoError(t, err)
		assert.Contains(t, out, "Add memory")

		out, err = h.run(t, nil, "cards", "done", "c1")
		require.NoError(t, err)
		assert.Contains(t, out, "Card c1 marked done.")
		assert.Equal(t, backend.CardDone, h.api.Cards["c1"].Status)

		_, err = h.run(t, nil, "cards", "show", "missing")
		require.Error(t, err)
		assert.Equal(t, "Card not found.", err.Error())
	})

	t.Run("cards generate without new cards", func(t *testing.T) {
		h.api.Generated = backend.CardsGenerated{OK: true, Count: 0, Message: "No insights yet."}
		_, err := h.run(t, nil, "cards", "generate")
		require.Error(t, err)
		assert.Equal(t, "No insights yet.", err.Error())
	})

	t.Run("report", func(t *testing.T) {
		out, err := h.run(t, nil, "report")
		require.NoError(t, err)
		assert.Contains(t, out, "No decision cards yet.")
		assert.Contains(t, out, views.ReportHint)
	})

	t.Run("billing", func(t *testing.T) {
		out, err := h.run(t, nil, "billing", "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Acme · Trial ends 2099-01-01")

		h.api.CheckoutBody = map[string]any{"url": "https://pay.example.com/s/1"}
		out, err = h.run(t, nil, "billing", "checkout")
		require.NoError(t, err)
		assert.Contains(t, out, "https://pay.example.com/s/1")
		require.Len(t, h.api.Checkouts, 1)
		assert.Equal(t, "https://web.example.com/settings?subscription=success", h.api.Checkouts[0].SuccessURL)
	})
}

func TestActions_TrialEnded(t *testing.T) {
	h := newHarness(t)
	end := "2000-01-01T00:00:00+00:00"
	h.api.Org = &backend.Organization{ID: "org-1", Name: "Acme", TrialEndsAt: &end, SubscriptionStatus: "trialing"}
	h.login(t)

	_, err := h.run(t, nil, "upload", writeFile(t, "logs.csv", "input,output\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Trial ended.")
	assert.Empty(t, h.api.UploadedFiles)

	out, err := h.run(t, nil, "billing", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Trial ended, subscribe to upload and generate")
}

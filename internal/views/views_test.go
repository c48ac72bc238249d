package views

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixfirst/web/internal/accessgate"
	"github.com/fixfirst/web/internal/backend"
	"github.com/fixfirst/web/internal/backend/backendtest"
)

type staticTokens struct {
	token string
	calls int
}

func (s *staticTokens) AccessToken(context.Context) (string, bool) {
	s.calls++
	return s.token, s.token != ""
}

func newViews(t *testing.T) (*Views, *backendtest.Server, *staticTokens) {
	t.Helper()
	srv := backendtest.New(t)
	api := backend.NewClient(srv.URL, 0)
	tokens := &staticTokens{token: backendtest.Token}
	return New(tokens, accessgate.NewResolver(api, nil), api, "https://app.example.com/", nil), srv, tokens
}

func TestUpload_StoredRowsWithWarning(t *testing.T) {
	v, srv, _ := newViews(t)
	srv.UploadResult = backend.UploadResult{
		OK:       true,
		Stored:   42,
		Errors:   []backend.RowError{},
		Warnings: []string{"3 rows missing optional tags"},
	}

	out, err := v.Upload(context.Background(), "logs.csv", strings.NewReader("session_id\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Stored 42 row(s).", "3 rows missing optional tags"}, out.Lines())
	assert.Equal(t, InsightsPath, out.NextStep())
	assert.Equal(t, []string{"GET /organizations/me", "POST /ingestion/upload"}, srv.Requests())
}

func TestUpload_ErrorsCappedInDisplayOnly(t *testing.T) {
	v, srv, _ := newViews(t)
	errs := make([]backend.RowError, 18)
	for i := range errs {
		row := i + 1
		errs[i] = backend.RowError{Row: &row, Error: "missing timestamp"}
	}
	srv.UploadResult = backend.UploadResult{OK: false, Errors: errs}

	out, err := v.Upload(context.Background(), "logs.json", strings.NewReader("[]"))
	require.NoError(t, err)
	assert.Len(t, out.Result.Errors, 18)

	lines := out.Lines()
	require.Len(t, lines, 1+maxShownErrors+1)
	assert.Equal(t, "Row 1: missing timestamp", lines[1])
	assert.Equal(t, "… and 3 more", lines[len(lines)-1])
	assert.Empty(t, out.NextStep())
}

func TestUpload_Guards(t *testing.T) {
	t.Run("signed out makes no call", func(t *testing.T) {
		v, srv, tokens := newViews(t)
		tokens.token = ""

		_, err := v.Upload(context.Background(), "logs.csv", strings.NewReader(""))
		assert.ErrorIs(t, err, ErrNotSignedIn)
		assert.Equal(t, "Not signed in.", Message(err))
		assert.Empty(t, srv.Requests())
	})

	t.Run("lapsed trial is stopped before upload", func(t *testing.T) {
		v, srv, _ := newViews(t)
		past := time.Now().Add(-48 * time.Hour).Format(time.RFC3339)
		srv.Org = &backend.Organization{ID: "o", Name: "Acme", TrialEndsAt: &past, SubscriptionStatus: "trialing"}

		_, err := v.Upload(context.Background(), "logs.csv", strings.NewReader(""))
		assert.ErrorIs(t, err, ErrGateClosed)
		assert.Zero(t, srv.Count("POST /ingestion/upload"))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		v, srv, _ := newViews(t)
		_, err := v.Upload(context.Background(), "logs.txt", strings.NewReader(""))
		assert.ErrorIs(t, err, ErrUnsupportedFile)
		assert.Empty(t, srv.Requests())
	})
}

func TestUpload_TransportFailureIsSynthesized(t *testing.T) {
	v, srv, _ := newViews(t)
	srv.Close()

	// The gate fails open, so the upload is attempted and fails in transport.
	out, err := v.Upload(context.Background(), "logs.csv", strings.NewReader(""))
	require.NoError(t, err)
	assert.False(t, out.Result.OK)
	assert.Zero(t, out.Result.Stored)
	require.Len(t, out.Result.Errors, 1)
	assert.Nil(t, out.Result.Errors[0].Row)
	assert.NotEmpty(t, out.Result.Errors[0].Error)
}

func TestSchema_FailureIsSilent(t *testing.T) {
	v, srv, _ := newViews(t)
	assert.Nil(t, v.Schema(context.Background()))

	srv.Schema = &backend.Schema{Required: []string{"session_id"}}
	schema := v.Schema(context.Background())
	require.NotNil(t, schema)
	assert.Equal(t, []string{"session_id"}, schema.Required)
}

func TestGenerateInsights(t *testing.T) {
	t.Run("detail surfaced", func(t *testing.T) {
		v, srv, _ := newViews(t)
		srv.InsightsStatus = http.StatusServiceUnavailable
		srv.InsightsDetail = "Insight generation failed. Please try again later."

		_, err := v.GenerateInsights(context.Background())
		require.Error(t, err)
		assert.Equal(t, "Insight generation failed. Please try again later.", Message(err))
	})

	t.Run("nothing found", func(t *testing.T) {
		v, srv, _ := newViews(t)
		srv.Insights = backend.InsightsResult{OK: true, Message: "No logs to analyze. Upload AI logs first."}

		out, err := v.GenerateInsights(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "No logs to analyze. Upload AI logs first.", out.Lines()[0])
		assert.Empty(t, out.NextStep())
	})

	t.Run("generated", func(t *testing.T) {
		v, srv, _ := newViews(t)
		srv.Insights = backend.InsightsResult{OK: true, Count: 1, Insights: []backend.Insight{{Title: "Wrong refunds", Frequency: 7}}}

		out, err := v.GenerateInsights(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"Generated 1 insight(s).", "Wrong refunds (7)"}, out.Lines())
		assert.Equal(t, CardsPath, out.NextStep())
	})
}

func TestCardStatusRoundTrip(t *testing.T) {
	v, srv, tokens := newViews(t)
	srv.Cards["c1"] = &backend.DecisionCard{ID: "c1", Problem: "Refund answers are wrong"}
	ctx := context.Background()

	card, err := v.Card(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, backend.CardOpen, card.Status)

	for _, status := range []string{backend.CardDone, backend.CardDone, backend.CardOpen, backend.CardOpen} {
		require.NoError(t, v.SetCardStatus(ctx, "c1", status))
		card, err := v.Card(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, status, card.Status)
	}

	// One token read per backend call.
	assert.Equal(t, 9, tokens.calls)
}

func TestCard_Errors(t *testing.T) {
	v, _, tokens := newViews(t)

	_, err := v.Card(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCardNotFound)
	assert.Equal(t, "Card not found.", Message(err))

	assert.ErrorIs(t, v.SetCardStatus(context.Background(), "c1", "archived"), ErrInvalidStatus)

	tokens.token = ""
	card, err := v.Card(context.Background(), "c1")
	assert.NoError(t, err)
	assert.Nil(t, card)
	assert.ErrorIs(t, v.SetCardStatus(context.Background(), "c1", backend.CardDone), ErrNotSignedIn)
}

func TestListCards_DegradesToEmpty(t *testing.T) {
	v, _, tokens := newViews(t)
	tokens.token = ""

	list := v.ListCards(context.Background())
	assert.Empty(t, list.Cards)
	assert.NotNil(t, list.TopThisWeek)
}

func TestGenerateCards_NoNewCards(t *testing.T) {
	v, srv, _ := newViews(t)
	srv.Generated = backend.CardsGenerated{OK: true}

	_, err := v.GenerateCards(context.Background())
	require.Error(t, err)
	assert.Equal(t, "No new cards. Generate insights first, then try again.", Message(err))
}

func TestWeeklyReport_MessageOnly(t *testing.T) {
	v, _, _ := newViews(t)

	out := v.WeeklyReport(context.Background())
	assert.Nil(t, out.Report)
	assert.Equal(t, []string{"No decision cards yet.", ReportHint}, out.Lines())
}

func TestWeeklyReport_Rendered(t *testing.T) {
	v, srv, _ := newViews(t)
	srv.Report = map[string]any{
		"ok": true,
		"report": map[string]any{
			"top_3_issues":        []map[string]any{{"id": "c1", "problem": "Wrong refunds", "recommended_action": "Ground answers in policy"}},
			"focus_fix":           map[string]any{"id": "c1", "problem": "Wrong refunds", "recommended_action": "Ground answers in policy"},
			"thing_not_to_change": "Keep the greeting.",
		},
	}

	lines := v.WeeklyReport(context.Background()).Lines()
	assert.Contains(t, lines, "1. Wrong refunds")
	assert.Contains(t, lines, "Keep the greeting.")
}

func TestCheckout(t *testing.T) {
	t.Run("url returned", func(t *testing.T) {
		v, srv, _ := newViews(t)
		srv.CheckoutBody = map[string]any{"url": "https://pay.example.com/s/1"}

		url, err := v.Checkout(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "https://pay.example.com/s/1", url)
		require.Len(t, srv.Checkouts, 1)
		assert.Equal(t, "https://app.example.com/settings?subscription=success", srv.Checkouts[0].SuccessURL)
		assert.Equal(t, "https://app.example.com/settings?subscription=canceled", srv.Checkouts[0].CancelURL)
	})

	t.Run("missing url", func(t *testing.T) {
		v, srv, _ := newViews(t)
		srv.CheckoutBody = map[string]any{}

		_, err := v.Checkout(context.Background())
		assert.Equal(t, "No checkout URL returned.", Message(err))
	})

	t.Run("failure without detail", func(t *testing.T) {
		v, srv, _ := newViews(t)
		srv.CheckoutStatus = http.StatusBadGateway
		srv.CheckoutBody = map[string]any{}

		_, err := v.Checkout(context.Background())
		assert.Equal(t, "Checkout failed.", Message(err))
	})
}

func TestConfidenceLabel(t *testing.T) {
	assert.Equal(t, "High", ConfidenceLabel(0.7))
	assert.Equal(t, "Medium", ConfidenceLabel(0.69))
	assert.Equal(t, "Medium", ConfidenceLabel(0.4))
	assert.Equal(t, "Low", ConfidenceLabel(0.39))
}

func TestOrganizationStatus(t *testing.T) {
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	future := "2026-05-20T00:00:00Z"
	past := "2026-05-01T00:00:00Z"

	tests := []struct {
		name  string
		state accessgate.State
		want  string
	}{
		{"no organization", accessgate.State{CanUpload: true}, "Create an organization to start your 14-day trial."},
		{"trialing", accessgate.State{Organization: &backend.Organization{Name: "Acme", SubscriptionStatus: "trialing", TrialEndsAt: &future}, CanUpload: true}, "Acme · Trial ends 2026-05-20 (no card required)"},
		{"active", accessgate.State{Organization: &backend.Organization{Name: "Acme", SubscriptionStatus: "active"}, CanUpload: true}, "Acme · Subscribed"},
		{"lapsed", accessgate.State{Organization: &backend.Organization{Name: "Acme", SubscriptionStatus: "trialing", TrialEndsAt: &past}}, "Acme · Trial ended, subscribe to upload and generate"},
		{"canceled", accessgate.State{Organization: &backend.Organization{Name: "Acme", SubscriptionStatus: "none"}}, "Acme · Trial ended, subscribe to upload and generate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OrganizationStatus(tt.state, now))
		})
	}
}

func TestMessage_Fallbacks(t *testing.T) {
	assert.Empty(t, Message(nil))
	assert.Equal(t, "Request failed.", Message(errors.New("boom")))
	assert.Equal(t, "Generation failed.", Message(failed("Generation failed.", errors.New("dial tcp"))))
}

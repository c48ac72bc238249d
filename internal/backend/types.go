package backend

import (
	"encoding/json"
	"strings"
	"time"
)

// Organization is the billing and ownership unit a user belongs to.
type Organization struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Slug               string  `json:"slug,omitempty"`
	TrialEndsAt        *string `json:"trial_ends_at"`
	SubscriptionStatus string  `json:"subscription_status"`
}

var trialLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02",
}

// TrialEnd parses trial_ends_at. ok is false when the field is null or unparseable.
// Timestamps without a zone are read as UTC.
func (o *Organization) TrialEnd() (t time.Time, ok bool) {
	if o == nil || o.TrialEndsAt == nil {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(*o.TrialEndsAt)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range trialLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// OrganizationState is the GET /organizations/me response.
type OrganizationState struct {
	Organization *Organization `json:"organization"`
	CanUpload    bool          `json:"can_upload"`
}

// Survey is the onboarding questionnaire submitted with organization creation.
type Survey struct {
	AccountType string `json:"account_type,omitempty"`
	OrgName     string `json:"org_name,omitempty"`
	TeamSize    string `json:"team_size,omitempty"`
	Role        string `json:"role,omitempty"`
	UseCase     string `json:"use_case,omitempty"`
	HowHeard    string `json:"how_heard,omitempty"`
	MainGoal    string `json:"main_goal,omitempty"`
}

// CreateOrganizationRequest is the POST /organizations body.
type CreateOrganizationRequest struct {
	Name        string  `json:"name"`
	AccountType string  `json:"account_type,omitempty"`
	Survey      *Survey `json:"survey,omitempty"`
}

// CreatedOrganization is the POST /organizations response. Message is set when
// the user already had an organization.
type CreatedOrganization struct {
	Organization
	Message string `json:"message,omitempty"`
}

// RowError is one rejected upload row. Row is nil for file-level errors.
type RowError struct {
	Row   *int   `json:"row,omitempty"`
	Error string `json:"error"`
}

// UploadResult is the POST /ingestion/upload response.
type UploadResult struct {
	OK       bool       `json:"ok"`
	Stored   int        `json:"stored"`
	Errors   []RowError `json:"errors"`
	Warnings []string   `json:"warnings"`
}

// Schema is the GET /ingestion/schema response.
type Schema struct {
	Required  []string       `json:"required"`
	Optional  []string       `json:"optional"`
	SampleRow map[string]any `json:"sample_row"`
}

// Insight is one clustered failure pattern.
type Insight struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Frequency   int     `json:"frequency"`
	RootCause   string  `json:"root_cause,omitempty"`
	AvgFeedback float64 `json:"avg_feedback,omitempty"`
}

// InsightsResult is the POST /insights/generate response.
type InsightsResult struct {
	OK       bool      `json:"ok"`
	Count    int       `json:"count"`
	Insights []Insight `json:"insights"`
	Message  string    `json:"message,omitempty"`
}

// Card status values accepted by PATCH /decision_cards/{id}.
const (
	CardOpen = "open"
	CardDone = "done"
)

// Snippet is one piece of card evidence: either free text or an
// input/output exchange.
type Snippet struct {
	Text   string `json:"-"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

func (s *Snippet) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err == nil {
		*s = Snippet{Text: text}
		return nil
	}
	type exchange Snippet
	var ex exchange
	if err := json.Unmarshal(b, &ex); err != nil {
		return err
	}
	*s = Snippet(ex)
	return nil
}

func (s Snippet) MarshalJSON() ([]byte, error) {
	if s.Input == "" && s.Output == "" {
		return json.Marshal(s.Text)
	}
	type exchange Snippet
	return json.Marshal(exchange(s))
}

// DecisionCard is one prioritized recommendation.
type DecisionCard struct {
	ID                string    `json:"id"`
	Problem           string    `json:"problem"`
	RecommendedAction string    `json:"recommended_action"`
	ImpactLevel       int       `json:"impact_level"`
	EffortEstimate    int       `json:"effort_estimate"`
	ConfidenceScore   float64   `json:"confidence_score"`
	EvidenceSnippets  []Snippet `json:"evidence_snippets"`
	Status            string    `json:"status,omitempty"`
	CreatedAt         string    `json:"created_at,omitempty"`
}

// IsDone reports whether the card is resolved. A missing status is open.
func (c *DecisionCard) IsDone() bool {
	return c.Status == CardDone
}

// CardList is the GET /decision_cards/list response.
type CardList struct {
	Cards       []DecisionCard `json:"cards"`
	TopThisWeek []DecisionCard `json:"top_3_this_week"`
}

// CardsGenerated is the POST /decision_cards/generate response.
type CardsGenerated struct {
	OK      bool           `json:"ok"`
	Count   int            `json:"count"`
	Cards   []DecisionCard `json:"cards"`
	Message string         `json:"message,omitempty"`
}

// ReportIssue is one entry of the weekly top issues.
type ReportIssue struct {
	ID                string `json:"id"`
	Problem           string `json:"problem"`
	RecommendedAction string `json:"recommended_action"`
	ImpactLevel       int    `json:"impact_level"`
	EffortEstimate    int    `json:"effort_estimate"`
}

// FocusFix is the single thing to fix this week.
type FocusFix struct {
	ID                string `json:"id"`
	Problem           string `json:"problem"`
	RecommendedAction string `json:"recommended_action"`
}

// WeeklyReport is the synthesized weekly report.
type WeeklyReport struct {
	TopIssues        []ReportIssue `json:"top_3_issues"`
	FocusFix         *FocusFix     `json:"focus_fix"`
	ThingNotToChange string        `json:"thing_not_to_change"`
	SummaryMarkdown  string        `json:"summary_markdown"`
	StandupCopy      string        `json:"standup_copy"`
}

// WeeklyReportResponse is the GET /reports/weekly response. Report is nil when
// there is nothing to report yet; Message explains why.
type WeeklyReportResponse struct {
	Report  *WeeklyReport `json:"report"`
	Message string        `json:"message,omitempty"`
}

// CheckoutRequest is the POST /billing/checkout body.
type CheckoutRequest struct {
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

// CheckoutResponse carries the payment-provider redirect URL.
type CheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id,omitempty"`
}

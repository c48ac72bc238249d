package views

import (
	"context"
	"fmt"

	"github.com/fixfirst/web/internal/backend"
)

// ReportHint follows the message when there is no report yet.
const ReportHint = "Generate decision cards first."

// ReportOutcome is a weekly report or the reason there is none.
type ReportOutcome struct {
	Report  *backend.WeeklyReport
	Message string
}

// Lines renders the report. Without a report only the message and the hint
// are rendered.
func (o *ReportOutcome) Lines() []string {
	if o.Report == nil {
		var lines []string
		if o.Message != "" {
			lines = append(lines, o.Message)
		}
		return append(lines, ReportHint)
	}

	r := o.Report
	var lines []string
	if len(r.TopIssues) > 0 {
		lines = append(lines, "Top 3 issues")
		for i, issue := range r.TopIssues {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, issue.Problem), "   "+issue.RecommendedAction)
		}
	}
	if r.FocusFix != nil {
		lines = append(lines, "1 thing to fix this week", r.FocusFix.Problem, r.FocusFix.RecommendedAction)
	}
	if r.ThingNotToChange != "" {
		lines = append(lines, "1 thing not to change", r.ThingNotToChange)
	}
	return lines
}

// WeeklyReport fetches the weekly report. Signed-out users get an empty outcome.
func (v *Views) WeeklyReport(ctx context.Context) *ReportOutcome {
	token, ok := v.tokens.AccessToken(ctx)
	if !ok {
		return &ReportOutcome{}
	}
	res, err := v.api.WeeklyReport(ctx, token)
	if err != nil {
		return &ReportOutcome{Message: Message(failed("Failed to load report.", err))}
	}
	return &ReportOutcome{Report: res.Report, Message: res.Message}
}

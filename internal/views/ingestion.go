package views

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fixfirst/web/internal/backend"
)

const (
	// maxShownErrors caps the row errors rendered; the result keeps all of them.
	maxShownErrors = 15

	// InsightsPath is the next step after a successful upload.
	InsightsPath = "/insights/generate"
)

// UploadOutcome is a rendered upload result.
type UploadOutcome struct {
	Result backend.UploadResult
}

// Lines renders the outcome for display.
func (o *UploadOutcome) Lines() []string {
	r := o.Result
	if r.OK {
		lines := []string{fmt.Sprintf("Stored %d row(s).", r.Stored)}
		return append(lines, r.Warnings...)
	}

	lines := []string{"Validation failed"}
	for i, e := range r.Errors {
		if i == maxShownErrors {
			lines = append(lines, fmt.Sprintf("… and %d more", len(r.Errors)-maxShownErrors))
			break
		}
		if e.Row != nil {
			lines = append(lines, fmt.Sprintf("Row %d: %s", *e.Row, e.Error))
		} else {
			lines = append(lines, e.Error)
		}
	}
	return lines
}

// NextStep is the link offered after a successful upload, or "".
func (o *UploadOutcome) NextStep() string {
	if o.Result.OK {
		return InsightsPath
	}
	return ""
}

// Upload submits a .csv or .json log file. Transport failures are folded into
// a single-error result rather than returned.
func (v *Views) Upload(ctx context.Context, filename string, r io.Reader) (*UploadOutcome, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".json":
	default:
		return nil, ErrUnsupportedFile
	}

	token, err := v.gated(ctx)
	if err != nil {
		return nil, err
	}

	res, err := v.api.UploadLogs(ctx, token, filename, r)
	if err != nil {
		msg := backend.Detail(err)
		var apiErr *backend.APIError
		if msg == "" && !errors.As(err, &apiErr) {
			msg = err.Error()
		}
		if msg == "" {
			msg = "Upload failed."
		}
		return &UploadOutcome{Result: backend.UploadResult{
			OK:     false,
			Stored: 0,
			Errors: []backend.RowError{{Error: msg}},
		}}, nil
	}
	return &UploadOutcome{Result: *res}, nil
}

// Schema returns the upload schema, or nil when signed out or on any failure.
func (v *Views) Schema(ctx context.Context) *backend.Schema {
	token, ok := v.tokens.AccessToken(ctx)
	if !ok {
		return nil
	}
	schema, err := v.api.GetSchema(ctx, token)
	if err != nil {
		return nil
	}
	return schema
}

// InsightsOutcome is a rendered insight generation result.
type InsightsOutcome struct {
	Result backend.InsightsResult
}

func (o *InsightsOutcome) Lines() []string {
	if o.Result.Count > 0 {
		lines := []string{fmt.Sprintf("Generated %d insight(s).", o.Result.Count)}
		for _, ins := range o.Result.Insights {
			lines = append(lines, fmt.Sprintf("%s (%d)", ins.Title, ins.Frequency))
		}
		return lines
	}
	msg := o.Result.Message
	if msg == "" {
		msg = "No insights generated."
	}
	return []string{msg, "Upload AI logs with some negative feedback (e.g. thumb_down or low scores), then try again."}
}

// NextStep is the link offered after insights were generated, or "".
func (o *InsightsOutcome) NextStep() string {
	if o.Result.Count > 0 {
		return CardsPath
	}
	return ""
}

// GenerateInsights runs insight generation behind the gate.
func (v *Views) GenerateInsights(ctx context.Context) (*InsightsOutcome, error) {
	token, err := v.gated(ctx)
	if err != nil {
		return nil, err
	}
	res, err := v.api.GenerateInsights(ctx, token)
	if err != nil {
		return nil, failed("Generation failed.", err)
	}
	return &InsightsOutcome{Result: *res}, nil
}

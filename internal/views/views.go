// Package views holds the thin action views. Each call fetches a fresh token
// from the client session right before talking to the backend, and every
// mutating view resolves the access gate first.
package views

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/fixfirst/web/internal/accessgate"
	"github.com/fixfirst/web/internal/backend"
)

var (
	ErrNotSignedIn     = errors.New("not signed in")
	ErrGateClosed      = errors.New("trial ended")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrCardNotFound    = errors.New("card not found")
	ErrInvalidStatus   = errors.New("invalid card status")
	ErrNoCheckoutURL   = errors.New("no checkout url returned")
)

// Tokens yields the current bearer token.
type Tokens interface {
	AccessToken(ctx context.Context) (string, bool)
}

// Gate resolves the access gate for a token.
type Gate interface {
	Resolve(ctx context.Context, token string) accessgate.State
}

// API is the analysis backend surface used by the views.
type API interface {
	UploadLogs(ctx context.Context, token, filename string, r io.Reader) (*backend.UploadResult, error)
	GetSchema(ctx context.Context, token string) (*backend.Schema, error)
	GenerateInsights(ctx context.Context, token string) (*backend.InsightsResult, error)
	ListDecisionCards(ctx context.Context, token string) (*backend.CardList, error)
	GenerateDecisionCards(ctx context.Context, token string) (*backend.CardsGenerated, error)
	GetDecisionCard(ctx context.Context, token, id string) (*backend.DecisionCard, error)
	SetDecisionCardStatus(ctx context.Context, token, id, status string) error
	WeeklyReport(ctx context.Context, token string) (*backend.WeeklyReportResponse, error)
	Checkout(ctx context.Context, token string, req backend.CheckoutRequest) (*backend.CheckoutResponse, error)
}

// Views wires the action views to the session, the gate and the backend.
type Views struct {
	tokens Tokens
	gate   Gate
	api    API
	webURL string
	logger *slog.Logger
}

// New creates the views. webURL is the public web origin used for billing
// return URLs.
func New(tokens Tokens, gate Gate, api API, webURL string, logger *slog.Logger) *Views {
	if logger == nil {
		logger = slog.Default()
	}
	return &Views{
		tokens: tokens,
		gate:   gate,
		api:    api,
		webURL: strings.TrimSuffix(webURL, "/"),
		logger: logger,
	}
}

// Gate resolves the access gate. ok is false when there is no session, in
// which case gated actions must stay disabled.
func (v *Views) Gate(ctx context.Context) (state accessgate.State, ok bool) {
	token, ok := v.tokens.AccessToken(ctx)
	if !ok {
		return accessgate.State{}, false
	}
	return v.gate.Resolve(ctx, token), true
}

// gated returns a token for a mutating action once the gate allows it.
func (v *Views) gated(ctx context.Context) (string, error) {
	token, ok := v.tokens.AccessToken(ctx)
	if !ok {
		return "", ErrNotSignedIn
	}
	if state := v.gate.Resolve(ctx, token); !state.CanUpload {
		return "", ErrGateClosed
	}
	// Each backend call takes a fresh token.
	token, ok = v.tokens.AccessToken(ctx)
	if !ok {
		return "", ErrNotSignedIn
	}
	return token, nil
}

// actionError carries the per-action fallback text for a failed call.
type actionError struct {
	fallback string
	err      error
}

func (e *actionError) Error() string { return e.fallback + " " + e.err.Error() }

func (e *actionError) Unwrap() error { return e.err }

func failed(fallback string, err error) error {
	return &actionError{fallback: fallback, err: err}
}

// Message turns a view error into the inline text shown next to the control.
// Backend detail is surfaced verbatim.
func Message(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotSignedIn):
		return "Not signed in."
	case errors.Is(err, ErrGateClosed):
		return "Trial ended. Subscribe in Settings to upload and generate."
	case errors.Is(err, ErrUnsupportedFile):
		return "File must be .csv or .json."
	case errors.Is(err, ErrCardNotFound):
		return "Card not found."
	case errors.Is(err, ErrInvalidStatus):
		return "Status must be open or done."
	case errors.Is(err, ErrNoCheckoutURL):
		return "No checkout URL returned."
	}

	var ae *actionError
	if errors.As(err, &ae) {
		if detail := backend.Detail(ae.err); detail != "" {
			return detail
		}
		return ae.fallback
	}
	if detail := backend.Detail(err); detail != "" {
		return detail
	}
	return "Request failed."
}

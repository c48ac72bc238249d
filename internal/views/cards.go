package views

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fixfirst/web/internal/backend"
)

// CardsPath is the canonical post-login destination.
const CardsPath = "/decision-cards"

// ConfidenceLabel buckets a confidence score.
func ConfidenceLabel(score float64) string {
	switch {
	case score >= 0.7:
		return "High"
	case score >= 0.4:
		return "Medium"
	default:
		return "Low"
	}
}

// ListCards returns the card list. Signed-out users and failed calls get
// empty lists.
func (v *Views) ListCards(ctx context.Context) *backend.CardList {
	empty := &backend.CardList{Cards: []backend.DecisionCard{}, TopThisWeek: []backend.DecisionCard{}}
	token, ok := v.tokens.AccessToken(ctx)
	if !ok {
		return empty
	}
	list, err := v.api.ListDecisionCards(ctx, token)
	if err != nil {
		v.logger.Debug("decision card list unavailable", slog.String("error", err.Error()))
		return empty
	}
	if list.Cards == nil {
		list.Cards = []backend.DecisionCard{}
	}
	if list.TopThisWeek == nil {
		list.TopThisWeek = []backend.DecisionCard{}
	}
	return list
}

// GenerateCards turns insights into cards behind the gate. A run that yields
// no new cards returns the backend message as the error text.
func (v *Views) GenerateCards(ctx context.Context) (*backend.CardsGenerated, error) {
	token, err := v.gated(ctx)
	if err != nil {
		return nil, err
	}
	res, err := v.api.GenerateDecisionCards(ctx, token)
	if err != nil {
		return nil, failed("Failed to generate cards.", err)
	}
	if res.Count == 0 {
		msg := res.Message
		if msg == "" {
			msg = "No new cards. Generate insights first, then try again."
		}
		return res, failed(msg, errors.New("no cards generated"))
	}
	return res, nil
}

// Card fetches one card. It returns nil, nil when signed out.
func (v *Views) Card(ctx context.Context, id string) (*backend.DecisionCard, error) {
	token, ok := v.tokens.AccessToken(ctx)
	if !ok {
		return nil, nil
	}
	card, err := v.api.GetDecisionCard(ctx, token, id)
	if errors.Is(err, backend.ErrNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, failed("Failed to load card.", err)
	}
	if card.Status == "" {
		card.Status = backend.CardOpen
	}
	return card, nil
}

// SetCardStatus marks a card open or done. Repeating the same status is a no-op
// on the backend.
func (v *Views) SetCardStatus(ctx context.Context, id, status string) error {
	if status != backend.CardOpen && status != backend.CardDone {
		return ErrInvalidStatus
	}
	token, ok := v.tokens.AccessToken(ctx)
	if !ok {
		return ErrNotSignedIn
	}
	err := v.api.SetDecisionCardStatus(ctx, token, id, status)
	if errors.Is(err, backend.ErrNotFound) {
		return ErrCardNotFound
	}
	if err != nil {
		return failed("Failed to update card.", err)
	}
	return nil
}

package views

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fixfirst/web/internal/accessgate"
	"github.com/fixfirst/web/internal/backend"
)

// Checkout obtains the payment-provider redirect URL. The provider returns the
// user to /settings with the subscription outcome.
func (v *Views) Checkout(ctx context.Context) (string, error) {
	token, ok := v.tokens.AccessToken(ctx)
	if !ok {
		return "", ErrNotSignedIn
	}
	res, err := v.api.Checkout(ctx, token, backend.CheckoutRequest{
		SuccessURL: v.webURL + "/settings?subscription=success",
		CancelURL:  v.webURL + "/settings?subscription=canceled",
	})
	if err != nil {
		return "", failed("Checkout failed.", err)
	}
	if res.URL == "" {
		return "", ErrNoCheckoutURL
	}
	return res.URL, nil
}

// OrganizationStatus renders the billing line of the settings page.
func OrganizationStatus(state accessgate.State, now time.Time) string {
	org := state.Organization
	if org == nil {
		return "Create an organization to start your 14-day trial."
	}

	line := org.Name
	end, hasEnd := org.TrialEnd()
	status := strings.ToLower(strings.TrimSpace(org.SubscriptionStatus))
	trialing := status == accessgate.StatusTrialing && hasEnd && end.After(now)
	active := status == accessgate.StatusActive || (status == accessgate.StatusTrialing && !hasEnd)

	if trialing {
		line += fmt.Sprintf(" · Trial ends %s (no card required)", end.Format("2006-01-02"))
	}
	if active && !trialing {
		line += " · Subscribed"
	}
	if !state.CanUpload {
		line += " · Trial ended, subscribe to upload and generate"
	}
	return line
}

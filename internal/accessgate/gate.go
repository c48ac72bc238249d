// Package accessgate decides whether an organization may run mutating actions
// (log upload, insight and card generation).
package accessgate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fixfirst/web/internal/backend"
)

const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
)

// CanUpload is the single place the trial comparison lives.
//
// No organization is never blocked (onboarding handles that stage). An active
// subscription is always allowed. A trial is allowed until trial_ends_at
// (inclusive); a trial without an end date is allowed. Anything else is denied.
func CanUpload(org *backend.Organization, now time.Time) bool {
	if org == nil {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(org.SubscriptionStatus)) {
	case StatusActive:
		return true
	case StatusTrialing:
		end, ok := org.TrialEnd()
		if !ok {
			return true
		}
		return !now.After(end)
	default:
		return false
	}
}

// State is the derived gate value. It is recomputed on every Resolve and never stored.
type State struct {
	Organization *backend.Organization `json:"organization"`
	CanUpload    bool                  `json:"can_upload"`
}

// OrganizationFetcher looks up the caller's organization.
type OrganizationFetcher interface {
	GetOrganization(ctx context.Context, token string) (*backend.OrganizationState, error)
}

// Resolver resolves the gate for a bearer token with exactly one lookup per call.
type Resolver struct {
	orgs   OrganizationFetcher
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(orgs OrganizationFetcher, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{orgs: orgs, logger: logger, now: time.Now}
}

// Resolve never fails: a lookup error yields no organization and can_upload
// true, so an outage never locks out a paying customer and never invents an
// organization.
func (r *Resolver) Resolve(ctx context.Context, token string) State {
	res, err := r.orgs.GetOrganization(ctx, token)
	if err != nil {
		r.logger.Warn("organization lookup failed, gate open", slog.String("error", err.Error()))
		return State{CanUpload: true}
	}
	return State{
		Organization: res.Organization,
		CanUpload:    CanUpload(res.Organization, r.now()),
	}
}

// Package onboarding is the first-run wizard as an explicit state machine:
//
//	CheckingOrg -> AccountType -> Details -> Goal -> Submitting -> Done
//
// Skip jumps from any questionnaire step straight to Submitting. Returning users
// leave through Skipped and signed-out users through SignInRequired.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fixfirst/web/internal/backend"
	"github.com/fixfirst/web/internal/oauth"
)

// State is a wizard state.
type State string

const (
	StateCheckingOrg    State = "checking_org"
	StateAccountType    State = "account_type"
	StateDetails        State = "details"
	StateGoal           State = "goal"
	StateSubmitting     State = "submitting"
	StateDone           State = "done"
	StateSignInRequired State = "sign_in_required"
	StateSkipped        State = "skipped"
)

// AccountType selects the Details branch.
type AccountType string

const (
	AccountOrganization AccountType = "organization"
	AccountIndividual   AccountType = "individual"
)

const (
	// DefaultOrgName is used when no name was given anywhere.
	DefaultOrgName = "My workspace"

	// PostLoginPath is the canonical post-login destination.
	PostLoginPath = "/decision-cards"

	// SignInPath is where signed-out users are sent.
	SignInPath = "/login"

	// DoneDelay is how long the confirmation is shown before navigating.
	DoneDelay = 1500 * time.Millisecond

	fallbackError  = "Failed to create organization."
	notSignedInMsg = "Not signed in."
)

// TeamSizes are the team size answers offered in Details.
var TeamSizes = []string{"1", "2-10", "11-50", "51-200", "200+"}

var (
	ErrInvalidTransition  = errors.New("onboarding: transition not allowed from current state")
	ErrBlocked            = errors.New("onboarding: required fields missing")
	ErrSubmissionInFlight = errors.New("onboarding: submission already in progress")
	ErrNotSignedIn        = errors.New("onboarding: not signed in")
)

// Navigation tells the caller where to go after the machine exits. Hard means a
// full navigation so that every dependent state is recomputed.
type Navigation struct {
	Path  string
	Delay time.Duration
	Hard  bool
}

// Draft is the client-only survey. It is only ever submitted whole, together
// with organization creation.
type Draft struct {
	AccountType AccountType
	OrgName     string
	TeamSize    string
	Role        string
	UseCase     string
	HowHeard    string
	MainGoal    string
}

func (d Draft) survey() *backend.Survey {
	return &backend.Survey{
		AccountType: string(d.AccountType),
		OrgName:     strings.TrimSpace(d.OrgName),
		TeamSize:    d.TeamSize,
		Role:        d.Role,
		UseCase:     d.UseCase,
		HowHeard:    d.HowHeard,
		MainGoal:    d.MainGoal,
	}
}

// Auth is the client session surface the wizard needs.
type Auth interface {
	AccessToken(ctx context.Context) (string, bool)
	GetUser(ctx context.Context) (*oauth.User, error)
	UpdateUser(ctx context.Context, attrs oauth.UserAttributes) (*oauth.User, error)
}

// Provisioner looks up and creates the caller's organization.
type Provisioner interface {
	GetOrganization(ctx context.Context, token string) (*backend.OrganizationState, error)
	CreateOrganization(ctx context.Context, token string, req backend.CreateOrganizationRequest) (*backend.CreatedOrganization, error)
}

// Machine is one run of the wizard. It is safe for concurrent use; at most one
// submission is outstanding at any time.
type Machine struct {
	auth          Auth
	orgs          Provisioner
	signupOrgName string
	logger        *slog.Logger
	now           func() time.Time

	mu         sync.Mutex
	state      State
	draft      Draft
	resumeAt   State
	submitting bool
	lastErr    string
}

// New creates a wizard. signupOrgName is the name carried over from the sign-up
// form (the org_name URL parameter), possibly empty.
func New(auth Auth, orgs Provisioner, signupOrgName string, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		auth:          auth,
		orgs:          orgs,
		signupOrgName: strings.TrimSpace(signupOrgName),
		logger:        logger,
		now:           time.Now,
		state:         StateCheckingOrg,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Draft returns a copy of the survey draft.
func (m *Machine) Draft() Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft
}

// LastError is the message of the last failed submission, verbatim from the backend.
func (m *Machine) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Submitting reports whether a submission is outstanding. Finish and Skip
// controls should be disabled while it is true.
func (m *Machine) Submitting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitting
}

// Start runs the entry guard. Returning users never reach AccountType.
func (m *Machine) Start(ctx context.Context) (State, error) {
	if m.State() != StateCheckingOrg {
		return m.State(), ErrInvalidTransition
	}

	token, ok := m.auth.AccessToken(ctx)
	if !ok {
		return m.set(StateSignInRequired), nil
	}

	user, err := m.auth.GetUser(ctx)
	if err != nil {
		m.logger.Warn("user lookup failed during onboarding", slog.String("error", err.Error()))
	}
	if _, done := user.OnboardingCompletedAt(); done {
		return m.set(StateSkipped), nil
	}

	res, err := m.orgs.GetOrganization(ctx, token)
	switch {
	case err != nil:
		// Creation is idempotent server-side, so the wizard is safe to show.
		m.logger.Warn("organization lookup failed during onboarding", slog.String("error", err.Error()))
	case res.Organization != nil:
		return m.set(StateSkipped), nil
	}

	return m.set(StateAccountType), nil
}

// Exit returns the navigation for the external exits and for Done.
func (m *Machine) Exit() (Navigation, bool) {
	switch m.State() {
	case StateSignInRequired:
		return Navigation{Path: SignInPath}, true
	case StateSkipped:
		return Navigation{Path: PostLoginPath}, true
	case StateDone:
		return Navigation{Path: PostLoginPath, Delay: DoneDelay, Hard: true}, true
	default:
		return Navigation{}, false
	}
}

// ChooseAccountType answers step one and moves to Details.
func (m *Machine) ChooseAccountType(t AccountType) error {
	if t != AccountOrganization && t != AccountIndividual {
		return fmt.Errorf("onboarding: unknown account type %q", t)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAccountType || m.submitting {
		return ErrInvalidTransition
	}
	m.draft.AccountType = t
	m.state = StateDetails
	return nil
}

// Edit changes draft fields. It is allowed on any questionnaire step.
func (m *Machine) Edit(fn func(d *Draft)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inQuestionnaire() {
		return ErrInvalidTransition
	}
	at := m.draft.AccountType
	fn(&m.draft)
	m.draft.AccountType = at
	return nil
}

// CanProceed evaluates the guard of the current step.
func (m *Machine) CanProceed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canProceed()
}

func (m *Machine) canProceed() bool {
	switch m.state {
	case StateAccountType:
		return m.draft.AccountType != ""
	case StateDetails:
		if m.draft.AccountType == AccountOrganization {
			return strings.TrimSpace(m.draft.OrgName) != ""
		}
		return true
	case StateGoal:
		if strings.TrimSpace(m.draft.Role) == "" || strings.TrimSpace(m.draft.UseCase) == "" {
			return false
		}
		if m.draft.AccountType == AccountIndividual {
			return strings.TrimSpace(m.draft.HowHeard) != ""
		}
		return true
	default:
		return false
	}
}

// Next moves Details to Goal when the Details guard passes.
func (m *Machine) Next() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDetails || m.submitting {
		return ErrInvalidTransition
	}
	if !m.canProceed() {
		return ErrBlocked
	}
	m.state = StateGoal
	return nil
}

// Back moves one questionnaire step backwards.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitting {
		return ErrInvalidTransition
	}
	switch m.state {
	case StateDetails:
		m.state = StateAccountType
	case StateGoal:
		m.state = StateDetails
	default:
		return ErrInvalidTransition
	}
	return nil
}

// Finish submits from Goal when its guard passes.
func (m *Machine) Finish(ctx context.Context) (Navigation, error) {
	return m.submit(ctx, true)
}

// Skip submits from any questionnaire step with whatever the draft holds.
func (m *Machine) Skip(ctx context.Context) (Navigation, error) {
	return m.submit(ctx, false)
}

func (m *Machine) submit(ctx context.Context, finishing bool) (Navigation, error) {
	m.mu.Lock()
	if m.submitting {
		m.mu.Unlock()
		return Navigation{}, ErrSubmissionInFlight
	}
	if finishing {
		if m.state != StateGoal {
			m.mu.Unlock()
			return Navigation{}, ErrInvalidTransition
		}
		if !m.canProceed() {
			m.mu.Unlock()
			return Navigation{}, ErrBlocked
		}
	} else if !m.inQuestionnaire() {
		m.mu.Unlock()
		return Navigation{}, ErrInvalidTransition
	}

	m.submitting = true
	m.resumeAt = m.state
	m.state = StateSubmitting
	m.lastErr = ""
	draft := m.draft
	m.mu.Unlock()

	err := m.provision(ctx, draft)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitting = false
	if err != nil {
		m.state = m.resumeAt
		m.lastErr = errorText(err)
		return Navigation{}, err
	}
	m.state = StateDone
	return Navigation{Path: PostLoginPath, Delay: DoneDelay, Hard: true}, nil
}

func (m *Machine) provision(ctx context.Context, draft Draft) error {
	token, ok := m.auth.AccessToken(ctx)
	if !ok {
		return ErrNotSignedIn
	}

	req := backend.CreateOrganizationRequest{
		Name:        m.orgName(draft),
		AccountType: string(draft.AccountType),
		Survey:      draft.survey(),
	}
	if _, err := m.orgs.CreateOrganization(ctx, token, req); err != nil {
		m.logger.Warn("organization creation failed", slog.String("error", err.Error()))
		return err
	}

	completedAt := m.now().UTC().Format(time.RFC3339)
	_, err := m.auth.UpdateUser(ctx, oauth.UserAttributes{
		Data: map[string]any{oauth.OnboardingCompletedKey: completedAt},
	})
	if err != nil {
		m.logger.Warn("failed to record onboarding completion", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (m *Machine) orgName(d Draft) string {
	if name := strings.TrimSpace(d.OrgName); name != "" {
		return name
	}
	if m.signupOrgName != "" {
		return m.signupOrgName
	}
	return DefaultOrgName
}

func (m *Machine) inQuestionnaire() bool {
	switch m.state {
	case StateAccountType, StateDetails, StateGoal:
		return true
	}
	return false
}

func (m *Machine) set(s State) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	return s
}

func errorText(err error) string {
	if errors.Is(err, ErrNotSignedIn) {
		return notSignedInMsg
	}
	if detail := backend.Detail(err); detail != "" {
		return detail
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return fallbackError
	}
	if msg := oauth.Message(err); msg != "" {
		return msg
	}
	return fallbackError
}

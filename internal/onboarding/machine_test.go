package onboarding

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixfirst/web/internal/backend"
	"github.com/fixfirst/web/internal/backend/backendtest"
	"github.com/fixfirst/web/internal/oauth"
)

type fakeAuth struct {
	mu      sync.Mutex
	token   string
	user    *oauth.User
	updates []oauth.UserAttributes
}

func (f *fakeAuth) AccessToken(context.Context) (string, bool) {
	return f.token, f.token != ""
}

func (f *fakeAuth) GetUser(context.Context) (*oauth.User, error) {
	return f.user, nil
}

func (f *fakeAuth) UpdateUser(_ context.Context, attrs oauth.UserAttributes) (*oauth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, attrs)
	return &oauth.User{ID: "u1", UserMetadata: attrs.Data}, nil
}

func newMachine(t *testing.T, signupName string) (*Machine, *fakeAuth, *backendtest.Server) {
	t.Helper()
	srv := backendtest.New(t)
	auth := &fakeAuth{token: backendtest.Token, user: &oauth.User{ID: "u1"}}
	m := New(auth, backend.NewClient(srv.URL, 0), signupName, nil)
	m.now = func() time.Time { return time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC) }
	return m, auth, srv
}

func TestStart_SignedOut(t *testing.T) {
	m, auth, _ := newMachine(t, "")
	auth.token = ""

	state, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSignInRequired, state)

	nav, ok := m.Exit()
	require.True(t, ok)
	assert.Equal(t, SignInPath, nav.Path)
}

func TestStart_CompletedUserNeverSeesQuestionnaire(t *testing.T) {
	m, auth, srv := newMachine(t, "")
	auth.user.UserMetadata = map[string]any{oauth.OnboardingCompletedKey: "2026-01-01T00:00:00Z"}

	state, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, state)
	assert.ErrorIs(t, m.ChooseAccountType(AccountOrganization), ErrInvalidTransition)

	nav, _ := m.Exit()
	assert.Equal(t, PostLoginPath, nav.Path)
	assert.Zero(t, srv.Count("GET /organizations/me"))
}

func TestStart_ExistingOrganizationSkips(t *testing.T) {
	m, _, srv := newMachine(t, "")
	srv.Org = &backend.Organization{ID: "org-1", Name: "Acme", SubscriptionStatus: "active"}

	state, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, state)
}

func TestStart_LookupFailureShowsWizard(t *testing.T) {
	m, _, srv := newMachine(t, "")
	srv.OrgStatus = http.StatusServiceUnavailable

	state, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAccountType, state)
}

func TestDetailsGuard(t *testing.T) {
	t.Run("organization path blocks on empty name", func(t *testing.T) {
		m, _, _ := newMachine(t, "")
		_, err := m.Start(context.Background())
		require.NoError(t, err)
		require.NoError(t, m.ChooseAccountType(AccountOrganization))

		require.NoError(t, m.Edit(func(d *Draft) { d.OrgName = "   " }))
		assert.False(t, m.CanProceed())
		assert.ErrorIs(t, m.Next(), ErrBlocked)
		assert.Equal(t, StateDetails, m.State())

		require.NoError(t, m.Edit(func(d *Draft) { d.OrgName = "Acme" }))
		require.NoError(t, m.Next())
		assert.Equal(t, StateGoal, m.State())
	})

	t.Run("individual path never blocks", func(t *testing.T) {
		m, _, _ := newMachine(t, "")
		_, err := m.Start(context.Background())
		require.NoError(t, err)
		require.NoError(t, m.ChooseAccountType(AccountIndividual))

		assert.True(t, m.CanProceed())
		require.NoError(t, m.Next())
		assert.Equal(t, StateGoal, m.State())
	})
}

func TestGoalGuard(t *testing.T) {
	tests := []struct {
		name    string
		account AccountType
		draft   func(d *Draft)
		want    bool
	}{
		{"organization missing role", AccountOrganization, func(d *Draft) { d.OrgName = "Acme"; d.UseCase = "support" }, false},
		{"organization complete", AccountOrganization, func(d *Draft) { d.OrgName = "Acme"; d.Role = "pm"; d.UseCase = "support" }, true},
		{"individual missing how heard", AccountIndividual, func(d *Draft) { d.Role = "eng"; d.UseCase = "chatbot" }, false},
		{"individual complete", AccountIndividual, func(d *Draft) { d.Role = "eng"; d.UseCase = "chatbot"; d.HowHeard = "friend" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newMachine(t, "")
			_, err := m.Start(context.Background())
			require.NoError(t, err)
			require.NoError(t, m.ChooseAccountType(tt.account))
			require.NoError(t, m.Edit(tt.draft))
			require.NoError(t, m.Next())

			assert.Equal(t, tt.want, m.CanProceed())
			if !tt.want {
				_, err := m.Finish(context.Background())
				assert.ErrorIs(t, err, ErrBlocked)
			}
		})
	}
}

func TestBack(t *testing.T) {
	m, _, _ := newMachine(t, "")
	_, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, m.Back(), ErrInvalidTransition)

	require.NoError(t, m.ChooseAccountType(AccountIndividual))
	require.NoError(t, m.Next())
	require.NoError(t, m.Back())
	assert.Equal(t, StateDetails, m.State())
	require.NoError(t, m.Back())
	assert.Equal(t, StateAccountType, m.State())
	assert.Equal(t, AccountIndividual, m.Draft().AccountType)
}

func TestFinish(t *testing.T) {
	m, auth, srv := newMachine(t, "")
	_, err := m.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.ChooseAccountType(AccountOrganization))
	require.NoError(t, m.Edit(func(d *Draft) { d.OrgName = " Acme "; d.TeamSize = "2-10" }))
	require.NoError(t, m.Next())
	require.NoError(t, m.Edit(func(d *Draft) { d.Role = "pm"; d.UseCase = "support"; d.MainGoal = "fewer refunds" }))

	nav, err := m.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Navigation{Path: PostLoginPath, Delay: DoneDelay, Hard: true}, nav)
	assert.Equal(t, StateDone, m.State())

	require.Len(t, srv.Created, 1)
	req := srv.Created[0]
	assert.Equal(t, "Acme", req.Name)
	assert.Equal(t, "organization", req.AccountType)
	require.NotNil(t, req.Survey)
	assert.Equal(t, "2-10", req.Survey.TeamSize)
	assert.Equal(t, "fewer refunds", req.Survey.MainGoal)

	require.Len(t, auth.updates, 1)
	assert.Equal(t, "2026-05-10T12:00:00Z", auth.updates[0].Data[oauth.OnboardingCompletedKey])
	assert.Empty(t, auth.updates[0].Password)
}

func TestSkip_FromEveryStep(t *testing.T) {
	tests := []struct {
		name       string
		signupName string
		advance    func(t *testing.T, m *Machine)
		wantName   string
	}{
		{
			name:     "account type, nothing given",
			advance:  func(*testing.T, *Machine) {},
			wantName: DefaultOrgName,
		},
		{
			name:       "account type, sign-up name carried over",
			signupName: "From Signup",
			advance:    func(*testing.T, *Machine) {},
			wantName:   "From Signup",
		},
		{
			name: "details, empty organization name",
			advance: func(t *testing.T, m *Machine) {
				require.NoError(t, m.ChooseAccountType(AccountOrganization))
			},
			wantName: DefaultOrgName,
		},
		{
			name:       "goal, survey name wins",
			signupName: "From Signup",
			advance: func(t *testing.T, m *Machine) {
				require.NoError(t, m.ChooseAccountType(AccountOrganization))
				require.NoError(t, m.Edit(func(d *Draft) { d.OrgName = "Survey Name" }))
				require.NoError(t, m.Next())
			},
			wantName: "Survey Name",
		},
		{
			name: "goal, individual",
			advance: func(t *testing.T, m *Machine) {
				require.NoError(t, m.ChooseAccountType(AccountIndividual))
				require.NoError(t, m.Next())
			},
			wantName: DefaultOrgName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, srv := newMachine(t, tt.signupName)
			_, err := m.Start(context.Background())
			require.NoError(t, err)
			tt.advance(t, m)

			_, err = m.Skip(context.Background())
			require.NoError(t, err)
			assert.Equal(t, StateDone, m.State())

			assert.Equal(t, 1, srv.Count("POST /organizations"))
			require.Len(t, srv.Created, 1)
			assert.Equal(t, tt.wantName, srv.Created[0].Name)
		})
	}
}

func TestSubmit_FailureReturnsToStep(t *testing.T) {
	m, auth, srv := newMachine(t, "")
	srv.CreateStatus = http.StatusBadRequest
	srv.CreateDetail = "Organization name is required."

	_, err := m.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.ChooseAccountType(AccountIndividual))
	require.NoError(t, m.Edit(func(d *Draft) { d.HowHeard = "podcast" }))

	_, err = m.Skip(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDetails, m.State())
	assert.Equal(t, "Organization name is required.", m.LastError())
	assert.Equal(t, "podcast", m.Draft().HowHeard)
	assert.Empty(t, auth.updates)
	assert.False(t, m.Submitting())

	// Retry succeeds once the backend recovers.
	srv.CreateStatus = 0
	_, err = m.Skip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, m.State())
	assert.Empty(t, m.LastError())
}

type blockingProvisioner struct {
	release chan struct{}
	entered chan struct{}
	mu      sync.Mutex
	creates int
}

func (b *blockingProvisioner) GetOrganization(context.Context, string) (*backend.OrganizationState, error) {
	return &backend.OrganizationState{CanUpload: true}, nil
}

func (b *blockingProvisioner) CreateOrganization(context.Context, string, backend.CreateOrganizationRequest) (*backend.CreatedOrganization, error) {
	b.mu.Lock()
	b.creates++
	b.mu.Unlock()
	b.entered <- struct{}{}
	<-b.release
	return &backend.CreatedOrganization{}, nil
}

func TestSubmit_OneOutstandingRequest(t *testing.T) {
	prov := &blockingProvisioner{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	auth := &fakeAuth{token: "t", user: &oauth.User{ID: "u1"}}
	m := New(auth, prov, "", nil)

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Skip(context.Background())
		done <- err
	}()

	<-prov.entered
	assert.True(t, m.Submitting())
	assert.Equal(t, StateSubmitting, m.State())

	_, err = m.Skip(context.Background())
	assert.ErrorIs(t, err, ErrSubmissionInFlight)
	_, err = m.Finish(context.Background())
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(prov.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, prov.creates)
	assert.Equal(t, StateDone, m.State())
}

func TestSubmit_SignedOutMidway(t *testing.T) {
	m, auth, srv := newMachine(t, "")
	_, err := m.Start(context.Background())
	require.NoError(t, err)

	auth.token = ""
	_, err = m.Skip(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.Equal(t, "Not signed in.", m.LastError())
	assert.Equal(t, StateAccountType, m.State())
	assert.Zero(t, srv.Count("POST /organizations"))
}

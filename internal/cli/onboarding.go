package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fixfirst/web/internal/onboarding"
)

const (
	actionNext   = "next"
	actionBack   = "back"
	actionSkip   = "skip"
	actionFinish = "finish"
)

func newOnboardingCmd(a *App) *cobra.Command {
	var orgName string

	cmd := &cobra.Command{
		Use:   "onboarding",
		Short: "Set up your workspace and start the trial",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runWizard(cmd.Context(), orgName)
		},
	}
	cmd.Flags().StringVar(&orgName, "org-name", "", "organization name carried over from sign-up")
	return cmd
}

// wizard drives one onboarding run from the terminal. Guard failures and
// submission errors are shown inline and the current step is asked again.
type wizard struct {
	app *App
	m   *onboarding.Machine
}

func (a *App) runWizard(ctx context.Context, signupOrgName string) error {
	w := &wizard{app: a, m: onboarding.New(a.sessions, a.api, signupOrgName, a.logger)}
	if _, err := w.m.Start(ctx); err != nil {
		return err
	}

	for {
		if _, ok := w.m.Exit(); ok {
			return w.exit()
		}

		var err error
		switch state := w.m.State(); state {
		case onboarding.StateAccountType:
			err = w.accountType(ctx)
		case onboarding.StateDetails:
			err = w.details(ctx)
		case onboarding.StateGoal:
			err = w.goal(ctx)
		default:
			return fmt.Errorf("onboarding stopped in state %s", state)
		}
		if err != nil {
			return err
		}
	}
}

func (w *wizard) exit() error {
	out := w.app.out
	switch w.m.State() {
	case onboarding.StateSignInRequired:
		return errNotSignedIn
	case onboarding.StateSkipped:
		printMuted(out, "Your workspace is already set up.")
	case onboarding.StateDone:
		printOK(out, "You're all set. Your 14-day trial has started.")
		printMuted(out, "Next: fixfirst upload <file>")
	}
	return nil
}

func (w *wizard) accountType(ctx context.Context) error {
	printTitle(w.app.out, "Welcome to FixFirst")
	choice, err := w.app.prompt.Select("Who is this workspace for?", []Option{
		{Label: "A team or company", Value: string(onboarding.AccountOrganization)},
		{Label: "Just me", Value: string(onboarding.AccountIndividual)},
		{Label: "Skip for now", Value: actionSkip},
	})
	if err != nil {
		return err
	}
	if choice == actionSkip {
		return w.skip(ctx)
	}
	return w.m.ChooseAccountType(onboarding.AccountType(choice))
}

func (w *wizard) details(ctx context.Context) error {
	p := w.app.prompt
	d := w.m.Draft()

	if d.AccountType == onboarding.AccountOrganization {
		name, err := p.Input("Organization name", d.OrgName, false)
		if err != nil {
			return err
		}
		options := make([]Option, 0, len(onboarding.TeamSizes)+1)
		options = append(options, Option{Label: "Prefer not to say", Value: ""})
		for _, size := range onboarding.TeamSizes {
			options = append(options, Option{Label: size, Value: size})
		}
		size, err := p.Select("Team size", options)
		if err != nil {
			return err
		}
		if err := w.m.Edit(func(d *onboarding.Draft) {
			d.OrgName = name
			d.TeamSize = size
		}); err != nil {
			return err
		}
	} else {
		howHeard, err := p.Input("How did you hear about us?", d.HowHeard, false)
		if err != nil {
			return err
		}
		if err := w.m.Edit(func(d *onboarding.Draft) { d.HowHeard = howHeard }); err != nil {
			return err
		}
	}

	action, err := p.Select("Continue?", []Option{
		{Label: "Next", Value: actionNext},
		{Label: "Back", Value: actionBack},
		{Label: "Skip for now", Value: actionSkip},
	})
	if err != nil {
		return err
	}

	switch action {
	case actionBack:
		return w.m.Back()
	case actionSkip:
		return w.skip(ctx)
	}
	if err := w.m.Next(); err != nil {
		if errors.Is(err, onboarding.ErrBlocked) {
			printError(w.app.out, "Organization name is required.")
			return nil
		}
		return err
	}
	return nil
}

func (w *wizard) goal(ctx context.Context) error {
	p := w.app.prompt
	d := w.m.Draft()

	role, err := p.Input("Your role", d.Role, false)
	if err != nil {
		return err
	}
	useCase, err := p.Input("What does your AI product do?", d.UseCase, false)
	if err != nil {
		return err
	}
	mainGoal, err := p.Input("Main goal (optional)", d.MainGoal, false)
	if err != nil {
		return err
	}
	if err := w.m.Edit(func(d *onboarding.Draft) {
		d.Role = role
		d.UseCase = useCase
		d.MainGoal = mainGoal
	}); err != nil {
		return err
	}

	action, err := p.Select("Ready?", []Option{
		{Label: "Finish", Value: actionFinish},
		{Label: "Back", Value: actionBack},
		{Label: "Skip for now", Value: actionSkip},
	})
	if err != nil {
		return err
	}

	switch action {
	case actionBack:
		return w.m.Back()
	case actionSkip:
		return w.skip(ctx)
	}
	if _, err := w.m.Finish(ctx); err != nil {
		if errors.Is(err, onboarding.ErrBlocked) {
			return w.goalBlocked()
		}
		return w.submitFailed(err)
	}
	return nil
}

// goalBlocked explains a refused Finish. A missing answer from the details
// step sends the user back there.
func (w *wizard) goalBlocked() error {
	d := w.m.Draft()
	if d.AccountType == onboarding.AccountIndividual && strings.TrimSpace(d.HowHeard) == "" {
		printError(w.app.out, "Tell us how you heard about us.")
		return w.m.Back()
	}
	printError(w.app.out, "Role and use case are required.")
	return nil
}

func (w *wizard) skip(ctx context.Context) error {
	if _, err := w.m.Skip(ctx); err != nil {
		return w.submitFailed(err)
	}
	return nil
}

// submitFailed shows the submission error. The machine is back on the step
// it submitted from, so the loop asks again. A lost session ends the run.
func (w *wizard) submitFailed(err error) error {
	if errors.Is(err, onboarding.ErrNotSignedIn) {
		return errNotSignedIn
	}
	printError(w.app.out, w.m.LastError())
	return nil
}

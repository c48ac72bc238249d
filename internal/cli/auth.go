package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fixfirst/web/internal/oauth"
	"github.com/fixfirst/web/internal/onboarding"
)

const minPasswordLen = 6

func newLoginCmd(a *App) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := promptIfEmpty(a.prompt, email, "Email", false)
			if err != nil {
				return err
			}
			pw, err := promptIfEmpty(a.prompt, password, "Password", true)
			if err != nil {
				return err
			}

			if _, err := a.sessions.SignInWithPassword(ctx, e, pw); err != nil {
				return fmt.Errorf("sign-in failed: %s", oauth.Message(err))
			}
			printOK(a.out, "Signed in as "+e)
			a.onboardingHint(ctx)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password, prompted when omitted")
	return cmd
}

// onboardingHint points first-time users at the wizard.
func (a *App) onboardingHint(ctx context.Context) {
	m := onboarding.New(a.sessions, a.api, "", a.logger)
	if state, _ := m.Start(ctx); state == onboarding.StateAccountType {
		printMuted(a.out, "Finish setting up your workspace with `fixfirst onboarding`.")
	}
}

func newSignupCmd(a *App) *cobra.Command {
	var email, password, orgName string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and start the 14-day trial",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := promptIfEmpty(a.prompt, email, "Email", false)
			if err != nil {
				return err
			}
			pw, err := promptIfEmpty(a.prompt, password, "Password", true)
			if err != nil {
				return err
			}
			if len(pw) < minPasswordLen {
				return fmt.Errorf("password must be at least %d characters", minPasswordLen)
			}

			var data map[string]any
			if name := strings.TrimSpace(orgName); name != "" {
				data = map[string]any{"org_name": name}
			}
			sess, _, err := a.sessions.SignUp(ctx, e, pw, data)
			if err != nil {
				return fmt.Errorf("sign-up failed: %s", oauth.Message(err))
			}
			if sess == nil {
				printOK(a.out, "Check your email to confirm. When you sign in, you'll complete a short onboarding.")
				return nil
			}

			printOK(a.out, "Account created for "+e)
			return a.runWizard(ctx, orgName)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password, prompted when omitted")
	cmd.Flags().StringVar(&orgName, "org-name", "", "organization name used during onboarding")
	return cmd
}

func newLogoutCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.sessions.SignOut(cmd.Context()); err != nil {
				return err
			}
			printOK(a.out, "Signed out.")
			return nil
		},
	}
}

func newRecoverCmd(a *App) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Email a password reset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := promptIfEmpty(a.prompt, email, "Email", false)
			if err != nil {
				return err
			}
			redirectTo := strings.TrimSuffix(a.cfg.WebURL, "/") + "/reset-password"
			if err := a.sessions.ResetPasswordForEmail(cmd.Context(), e, redirectTo); err != nil {
				return fmt.Errorf("recovery failed: %s", oauth.Message(err))
			}
			printOK(a.out, "Check your email for a link to reset your password.")
			printMuted(a.out, "Then run `fixfirst reset-password <link>` with the link from the email.")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func newResetPasswordCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <link>",
		Short: "Set a new password from a recovery link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.sessions.SetSessionFromURL(ctx, args[0]); err != nil {
				if errors.Is(err, oauth.ErrIncompleteSession) {
					return errors.New("reset link expired, request a new one")
				}
				return fmt.Errorf("reset link rejected: %s", oauth.Message(err))
			}

			pw, err := a.prompt.Input("New password", "", true)
			if err != nil {
				return err
			}
			confirm, err := a.prompt.Input("Confirm password", "", true)
			if err != nil {
				return err
			}
			switch {
			case pw != confirm:
				return errors.New("passwords don't match")
			case len(pw) < minPasswordLen:
				return fmt.Errorf("password must be at least %d characters", minPasswordLen)
			}

			if _, err := a.sessions.UpdateUser(ctx, oauth.UserAttributes{Password: pw}); err != nil {
				return fmt.Errorf("password update failed: %s", oauth.Message(err))
			}
			// The recovery session only authorizes the change.
			if err := a.sessions.SignOut(ctx); err != nil {
				a.logger.Warn("failed to clear recovery session", slog.String("error", err.Error()))
			}
			printOK(a.out, "Password updated. Sign in with your new password.")
			return nil
		},
	}
}

func newWhoamiCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, ok := a.sessions.AccessToken(ctx); !ok {
				printMuted(a.out, "Not signed in.")
				return nil
			}
			user, err := a.sessions.GetUser(ctx)
			if err != nil {
				return fmt.Errorf("user lookup failed: %s", oauth.Message(err))
			}

			printTitle(a.out, user.Email)
			fmt.Fprintln(a.out, "ID: "+user.ID)
			if at, done := user.OnboardingCompletedAt(); done {
				fmt.Fprintln(a.out, "Onboarded: "+at)
			} else {
				fmt.Fprintln(a.out, "Onboarded: no")
			}
			return nil
		},
	}
}

// Package cli is the fixfirst command line client. It signs in against the
// identity provider, keeps the session in a local file and drives the action
// views and the onboarding wizard from the terminal.
package cli

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/fixfirst/web/internal/accessgate"
	"github.com/fixfirst/web/internal/backend"
	"github.com/fixfirst/web/internal/clientsession"
	"github.com/fixfirst/web/internal/config"
	"github.com/fixfirst/web/internal/oauth"
	"github.com/fixfirst/web/internal/views"
)

var errNotSignedIn = errors.New("not signed in, run `fixfirst login` first")

// App is the runtime shared by every command.
type App struct {
	cfg      *config.ClientConfig
	logger   *slog.Logger
	sessions *clientsession.Accessor
	api      *backend.Client
	views    *views.Views
	prompt   Prompter
	out      io.Writer
	now      func() time.Time
}

func newApp(cfg *config.ClientConfig, prompt Prompter, out io.Writer, logger *slog.Logger) *App {
	timeout := config.ParseDuration(cfg.Timeout, 30*time.Second)

	idp := oauth.NewClient(cfg.AuthURL, cfg.AnonKey, timeout)
	sessions := clientsession.NewAccessor(idp, clientsession.NewFileStorage(cfg.SessionFile), logger)
	api := backend.NewClient(cfg.APIURL, timeout)
	gate := accessgate.NewResolver(api, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		api:      api,
		views:    views.New(sessions, gate, api, cfg.WebURL, logger),
		prompt:   prompt,
		out:      out,
		now:      time.Now,
	}
}

// NewRootCommand builds the fixfirst command tree. Prompts go through p and
// command output is written to out.
func NewRootCommand(p Prompter, out, errOut io.Writer) *cobra.Command {
	var debug bool
	app := &App{}

	root := &cobra.Command{
		Use:           "fixfirst",
		Short:         "Turn AI interaction logs into the fixes that matter first",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

			*app = *newApp(cfg, p, out, logger)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output to stderr")
	root.SetOut(out)
	root.SetErr(errOut)

	root.AddCommand(
		newLoginCmd(app),
		newSignupCmd(app),
		newLogoutCmd(app),
		newRecoverCmd(app),
		newResetPasswordCmd(app),
		newWhoamiCmd(app),
		newOnboardingCmd(app),
		newUploadCmd(app),
		newSchemaCmd(app),
		newInsightsCmd(app),
		newCardsCmd(app),
		newReportCmd(app),
		newBillingCmd(app),
	)
	return root
}

// viewError turns a view failure into the inline text the web pages show.
func viewError(err error) error {
	return errors.New(views.Message(err))
}

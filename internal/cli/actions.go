package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fixfirst/web/internal/backend"
	"github.com/fixfirst/web/internal/views"
)

func newUploadCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a .csv or .json interaction log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			outcome, err := a.views.Upload(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return viewError(err)
			}
			printLines(a.out, outcome.Lines(), outcome.Result.OK)
			if outcome.NextStep() != "" {
				printMuted(a.out, "Next: fixfirst insights generate")
			}
			return nil
		},
	}
}

func newSchemaCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the upload schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema := a.views.Schema(cmd.Context())
			if schema == nil {
				printMuted(a.out, "Schema unavailable.")
				return nil
			}

			printTitle(a.out, "Required")
			for _, f := range schema.Required {
				fmt.Fprintln(a.out, "  "+f)
			}
			printTitle(a.out, "Optional")
			for _, f := range schema.Optional {
				fmt.Fprintln(a.out, "  "+f)
			}
			if len(schema.SampleRow) > 0 {
				sample, err := json.MarshalIndent(schema.SampleRow, "", "  ")
				if err != nil {
					return err
				}
				printTitle(a.out, "Sample row")
				fmt.Fprintln(a.out, string(sample))
			}
			return nil
		},
	}
}

func newInsightsCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Work with failure insights",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Cluster uploaded logs into insights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outcome, err := a.views.GenerateInsights(cmd.Context())
			if err != nil {
				return viewError(err)
			}
			printLines(a.out, outcome.Lines(), outcome.Result.Count > 0)
			if outcome.NextStep() != "" {
				printMuted(a.out, "Next: fixfirst cards generate")
			}
			return nil
		},
	})
	return cmd
}

func newCardsCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cards",
		Short: "Work with decision cards",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List decision cards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cards := a.views.ListCards(cmd.Context())
			if len(cards.Cards) == 0 {
				printMuted(a.out, "No decision cards yet. Upload logs, then generate insights and cards.")
				return nil
			}
			if len(cards.TopThisWeek) > 0 {
				printTitle(a.out, "Top 3 this week")
				for _, c := range cards.TopThisWeek {
					fmt.Fprintln(a.out, cardSummary(c))
				}
			}
			printTitle(a.out, "All cards")
			for _, c := range cards.Cards {
				fmt.Fprintln(a.out, cardSummary(c))
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one decision card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := a.views.Card(cmd.Context(), args[0])
			if err != nil {
				return viewError(err)
			}
			if card == nil {
				return errNotSignedIn
			}
			fmt.Fprintln(a.out, renderCard(card))
			return nil
		},
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Turn insights into decision cards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.views.GenerateCards(cmd.Context())
			if err != nil {
				return viewError(err)
			}
			printOK(a.out, plural(res.Count, "new decision card"))
			for _, c := range res.Cards {
				fmt.Fprintln(a.out, cardSummary(c))
			}
			return nil
		},
	}

	cmd.AddCommand(list, show, generate,
		cardStatusCmd(a, backend.CardDone, "Mark a card done"),
		cardStatusCmd(a, backend.CardOpen, "Reopen a card"),
	)
	return cmd
}

func cardStatusCmd(a *App, status, short string) *cobra.Command {
	return &cobra.Command{
		Use:   status + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.views.SetCardStatus(cmd.Context(), args[0], status); err != nil {
				return viewError(err)
			}
			printOK(a.out, fmt.Sprintf("Card %s marked %s.", args[0], status))
			return nil
		},
	}
}

func newReportCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the weekly report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outcome := a.views.WeeklyReport(cmd.Context())
			if outcome.Report == nil {
				for _, line := range outcome.Lines() {
					printMuted(a.out, line)
				}
				return nil
			}

			printTitle(a.out, "Weekly report")
			for _, line := range outcome.Lines() {
				fmt.Fprintln(a.out, line)
			}
			if standup := outcome.Report.StandupCopy; standup != "" {
				printTitle(a.out, "Standup copy")
				fmt.Fprintln(a.out, standup)
			}
			return nil
		},
	}
}

func newBillingCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Trial and subscription",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the organization and trial status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				state, ok := a.views.Gate(cmd.Context())
				if !ok {
					return errNotSignedIn
				}
				fmt.Fprintln(a.out, views.OrganizationStatus(state, a.now()))
				return nil
			},
		},
		&cobra.Command{
			Use:   "checkout",
			Short: "Get a link to subscribe",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				url, err := a.views.Checkout(cmd.Context())
				if err != nil {
					return viewError(err)
				}
				printOK(a.out, "Open this link to subscribe:")
				fmt.Fprintln(a.out, url)
				return nil
			},
		},
	)
	return cmd
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun + "."
	}
	return strconv.Itoa(n) + " " + noun + "s."
}

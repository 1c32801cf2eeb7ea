package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"TableChat/internal/api"
	"TableChat/internal/apperr"
	"TableChat/internal/catalog"
	"TableChat/internal/chatbot"
	"TableChat/internal/conversation"
	"TableChat/internal/render"
	"TableChat/internal/telemetry"
)

const historyFile = ".tablechat_history"

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat (default)",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, telemetry.ServiceName)
	if err != nil {
		return err
	}
	defer s.Close()

	client, err := s.newClient()
	if err != nil {
		return err
	}
	app, err := s.newAppFor(client)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	startChat(ctx, app, client, s.cfg.ServerURL, render.New(cmd.ErrOrStderr(), s.cfg.PreviewRows))
	defer app.Stop()

	repl := chatbot.NewREPL(app, cmd.OutOrStdout(), s.cfg.PreviewRows, nil)
	return repl.Run(ctx, filepath.Join(s.cfg.LogDir, historyFile))
}

type healthChecker interface {
	Health(ctx context.Context) (api.HealthResponse, error)
}

// startChat checks the service, then loads the catalog and starts the refresh timers.
// The chat starts either way; failures are printed as warnings.
func startChat(ctx context.Context, app *chatbot.App, hc healthChecker, serverURL string, warn *render.Renderer) {
	healthErr := checkHealth(ctx, hc)
	startErr := app.Start(ctx)
	switch {
	case healthErr != nil:
		warn.Errorf("Warning: cannot reach the answering service at %s: %s", serverURL, apperr.UserMessage(healthErr, healthErr.Error()))
	case startErr != nil:
		warn.Errorf("Warning: could not load tables from %s: %s", serverURL, apperr.UserMessage(startErr, startErr.Error()))
	}
}

func checkHealth(ctx context.Context, hc healthChecker) error {
	resp, err := hc.Health(ctx)
	if err != nil {
		return err
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("service reports status %q", resp.Status)
	}
	return nil
}

func newTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List configured and uploaded tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, telemetry.ServiceName)
			if err != nil {
				return err
			}
			defer s.Close()

			app, err := s.newApp()
			if err != nil {
				return err
			}
			if err := app.Refresh(cmd.Context()); err != nil {
				return err
			}

			cat := app.Catalog()
			render.New(cmd.OutOrStdout(), s.cfg.PreviewRows).
				Catalog(cat.Resources(catalog.KindPersistent), cat.Resources(catalog.KindEphemeral))
			return nil
		},
	}
}

func newAskCommand() *cobra.Command {
	var (
		tables  []string
		showSQL bool
		allRows bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the answer",
		Example: `  tablechat ask --table orders "What was the revenue per month?"
  tablechat ask -t orders -t customers --sql "Which customers ordered in May?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, telemetry.ServiceName)
			if err != nil {
				return err
			}
			defer s.Close()

			app, err := s.newApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := app.Refresh(ctx); err != nil {
				return err
			}
			for _, name := range tables {
				if err := app.Catalog().SetSelected(name, true); err != nil {
					return err
				}
			}

			r := render.New(cmd.OutOrStdout(), s.cfg.PreviewRows)
			e, askErr := app.Ask(ctx, strings.Join(args, " "))
			if e.ID == 0 {
				return askErr
			}
			if e.Role == conversation.RoleAnswer {
				if showSQL {
					e, _ = app.Log().SetQueryVisible(e.ID, true)
				}
				if allRows {
					e, _ = app.Log().SetAllRowsVisible(e.ID, true)
				}
			}
			r.Exchange(e)
			if askErr != nil {
				return errReported
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&tables, "table", "t", nil, "table to query (repeatable)")
	cmd.Flags().BoolVar(&showSQL, "sql", false, "print the generated SQL")
	cmd.Flags().BoolVar(&allRows, "all-rows", false, "print every result row")
	return cmd
}

func newUploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.xlsx>",
		Short: "Upload a spreadsheet as a temporary table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, telemetry.ServiceName)
			if err != nil {
				return err
			}
			defer s.Close()

			app, err := s.newApp()
			if err != nil {
				return err
			}
			res, err := app.UploadEphemeral(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			r := render.New(cmd.OutOrStdout(), s.cfg.PreviewRows)
			r.Info("Uploaded %s as %s (%d rows).", res.Summary.Filename, res.Upload.Name, res.Summary.DataRows)
			if found, ok := app.Catalog().Find(res.Upload.Name); ok {
				r.Describe(found)
			}
			r.Table(res.Upload.PreviewData, s.cfg.PreviewRows)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "tablechat %s\n", telemetry.Version)
		},
	}
}

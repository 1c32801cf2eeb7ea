// Package cli provides the tablechat command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"TableChat/internal/api"
	"TableChat/internal/apperr"
	"TableChat/internal/chatbot"
	"TableChat/internal/config"
	"TableChat/internal/telemetry"
)

var cfgFile string

// errReported fails a command whose error was already printed
var errReported = errors.New("command failed")

type configKey struct{}

// NewRootCmd creates the root command. Without a subcommand it starts the chat REPL.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tablechat",
		Short: "Ask questions about your tables in plain language",
		Long: `tablechat is a terminal client for a natural-language-to-SQL answering service.

Select database tables or uploaded spreadsheets, ask a question, and get the answer
together with the generated SQL, the result rows and a chart when the data suits one.`,
		Version: telemetry.Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			loaded, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, loaded))
			return nil
		},
		RunE:          runChat,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./tablechat.yaml)")
	flags.String("server", "", "answering service URL (default "+config.DefaultServerURL+")")
	flags.Duration("timeout", 0, "per-request timeout, 0 for none")
	flags.Duration("poll-interval", 0, "how often pending table analyses are polled")
	flags.Duration("ephemeral-refresh-interval", 0, "how often the uploaded table list is refreshed")
	flags.String("log-dir", "", "directory for log files (default "+config.DefaultLogDir+")")
	flags.Bool("telemetry", false, "export traces and metrics to files in the log directory")
	flags.Int("preview-rows", 0, "result rows shown before collapsing")
	flags.Int("max-upload-mb", 0, "largest spreadsheet accepted for upload")
	flags.Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newTablesCommand())
	rootCmd.AddCommand(newAskCommand())
	rootCmd.AddCommand(newUploadCommand())
	rootCmd.AddCommand(newDevServerCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", apperr.UserMessage(err, err.Error()))
		}
		return err
	}
	return nil
}

func loadedConfig(cmd *cobra.Command) (*config.Loaded, error) {
	if l, ok := cmd.Context().Value(configKey{}).(*config.Loaded); ok {
		return l, nil
	}
	return nil, fmt.Errorf("configuration not loaded")
}

// session bundles what every client command needs: config, logging and telemetry
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	closers []func()
}

func openSession(cmd *cobra.Command, logName string) (*session, error) {
	loaded, err := loadedConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, logName, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if loaded.File != "" {
		logger.Debug("loaded config file", "path", loaded.File)
	}

	tracer, meter, cleanup, err := telemetry.InitTelemetry(cmd.Context(), cfg.LogDir, cfg.Telemetry)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &session{
		cfg:     cfg,
		logger:  logger,
		tracer:  tracer,
		meter:   meter,
		closers: []func(){closeLog, cleanup},
	}, nil
}

// Close flushes telemetry, then closes the log file
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *session) newClient() (*api.Client, error) {
	return api.NewClient(s.cfg.ServerURL, s.cfg.RequestTimeout, s.logger, s.tracer, s.meter)
}

func (s *session) newApp() (*chatbot.App, error) {
	client, err := s.newClient()
	if err != nil {
		return nil, err
	}
	return s.newAppFor(client)
}

func (s *session) newAppFor(client chatbot.Backend) (*chatbot.App, error) {
	return chatbot.NewApp(chatbot.Options{
		Backend:           client,
		Logger:            s.logger,
		Meter:             s.meter,
		PollInterval:      s.cfg.PollInterval,
		EphemeralInterval: s.cfg.EphemeralRefreshInterval,
		MaxUploadBytes:    s.cfg.MaxUploadBytes(),
	})
}

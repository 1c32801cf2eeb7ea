package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"TableChat/internal/config"
	"TableChat/internal/devserver"
)

func newDevServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local answering service backed by sqlite",
		Long: `Run a local implementation of the answering and catalog API for demos and testing.

Tables live in a sqlite database. Configured tables are analyzed in the background,
uploaded spreadsheets become temporary tables, and questions that are already SQL
(SELECT or WITH) are executed as-is.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, "devserver")
			if err != nil {
				return err
			}
			defer s.Close()

			dc := s.cfg.DevServer
			srv, err := devserver.New(devserver.Options{
				Database:       dc.Database,
				AnalysisDelay:  dc.AnalysisDelay,
				UploadTTL:      dc.UploadTTL,
				MaxUploadBytes: s.cfg.MaxUploadBytes(),
				Logger:         s.logger,
			})
			if err != nil {
				return fmt.Errorf("failed to start development backend: %w", err)
			}
			defer func() { _ = srv.Close() }()

			ctx := cmd.Context()
			if dc.Seed {
				if err := srv.Seed(ctx); err != nil {
					return err
				}
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Serving the tablechat API on %s (database %s)\n", dc.Addr, dc.Database)
			return srv.Serve(ctx, dc.Addr)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default "+config.DefaultDevServerAddr+")")
	cmd.Flags().String("db", "", "sqlite database file, or :memory:")
	cmd.Flags().Duration("analysis-delay", time.Duration(0), "time before a newly added table's description is ready")
	cmd.Flags().Duration("upload-ttl", time.Duration(0), "how long uploaded spreadsheets are kept")
	cmd.Flags().Bool("seed", false, "create demo tables on start")
	return cmd
}

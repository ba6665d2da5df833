package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-ingest/internal/export"
)

// newExportCmd creates the 'export' subcommand, which dumps the article table
// to CSV on the configured blob store.
func newExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports stored articles to CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			table := appInstance.Config().Store.Table
			if out == "" {
				out = export.DefaultPath(table, time.Now())
			}

			exporter, err := appInstance.NewExporter(cmd.Context())
			if err != nil {
				return fmt.Errorf("init exporter: %w", err)
			}
			summary, err := exporter.Export(cmd.Context(), table, out)
			if err != nil {
				return err
			}
			appInstance.Logger().Info("export finished", zap.String("uri", summary.URI), zap.Int("rows", summary.Rows))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows to %s (sha256 %s)\n", summary.Rows, summary.URI, summary.SHA256)
			return err
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "object path relative to the export backend (default <table>-<UTC timestamp>.csv)")
	return cmd
}

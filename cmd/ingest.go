package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/news-ingest/internal/crawler"
)

// newIngestCmd creates the 'ingest' subcommand, which performs one crawl and
// insert cycle and prints the run event as JSON.
func newIngestCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Crawls the listing and stores new articles",
		Long: `Walks the listing pages newest first. In incremental mode the walk stops
at the first article already stored; in full mode it stops at the first
article published before crawl.cutoff. Nothing is stored when the crawl
fails part way.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if mode == "" {
				mode = appInstance.Config().Crawl.Mode
			}
			parsed, err := crawler.ParseMode(mode)
			if err != nil {
				return err
			}

			driver, err := appInstance.NewDriver(parsed)
			if err != nil {
				return fmt.Errorf("build ingest driver: %w", err)
			}
			event, runErr := driver.Run(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			if err := enc.Encode(event); err != nil {
				return fmt.Errorf("write run event: %w", err)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "crawl mode: incremental or full (default from crawl.mode)")
	return cmd
}

// Package cmd defines and implements the CLI commands for the news-ingest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-ingest/internal/app"
	"github.com/JakeFAU/news-ingest/internal/config"
	"github.com/JakeFAU/news-ingest/internal/crawler"
	"github.com/JakeFAU/news-ingest/internal/export"
	"github.com/JakeFAU/news-ingest/internal/ingest"
	"github.com/JakeFAU/news-ingest/internal/logging"
)

// Exit codes returned by Execute.
const (
	exitFailure   = 1
	exitRetryable = 75 // EX_TEMPFAIL: a scheduler may rerun the job.
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the set of services commands use.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	NewDriver(mode crawler.Mode) (*ingest.Driver, error)
	NewExporter(ctx context.Context) (*export.Exporter, error)
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// session owns the App built for one invocation.
type session struct {
	app App
}

// close releases the App once. Cobra skips PersistentPostRun when RunE fails,
// so execute calls it as well.
func (s *session) close() {
	if s.app == nil {
		return
	}
	s.app.Close()
	_ = s.app.Logger().Sync()
	s.app = nil
}

// newRootCmd creates the root command with its subcommands.
func newRootCmd(s *session) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "news-ingest",
		Short: "Ingests news articles from fapl.ru into a relational table.",
		Long: `news-ingest walks the paginated news listing of fapl.ru, extracts every
article it has not stored yet and inserts the new ones in a single batch.
It runs once per invocation and is meant to be scheduled.`,
		SilenceUsage: true,

		// Build the services once and hand them to the subcommand via the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			s.close()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); env vars prefixed "+config.EnvPrefix+"_ override it")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	s := &session{}
	defer s.close()

	root := newRootCmd(s)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func exitCode(err error) int {
	if ingest.IsRetryable(err) {
		return exitRetryable
	}
	return exitFailure
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

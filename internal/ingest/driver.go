// Package ingest runs one ingestion pass: it loads the known ids, drives the
// crawl controller and hands the accumulated articles to the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-ingest/internal/crawler"
)

// Run statuses reported in RunEvent.Status.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

const finalizeTimeout = 30 * time.Second

// Runner is the crawl controller seen by the driver.
type Runner interface {
	Run(ctx context.Context, known crawler.KeySet) (crawler.Result, error)
}

// RunObserver receives the run outcome for metrics.
type RunObserver interface {
	ObserveInsert(result crawler.InsertResult)
	ObserveRun(mode crawler.Mode, reason crawler.StopReason, duration time.Duration, finishedAt time.Time, succeeded bool)
	Push(ctx context.Context, gatewayURL, job string) error
}

// Options tune a Driver.
type Options struct {
	Mode  crawler.Mode
	Table string
	// KnownIDsLimit loads only the newest N ids; zero loads every id.
	KnownIDsLimit int
	// Topic receives the RunEvent; empty disables publishing.
	Topic string
	// PushgatewayURL receives the run metrics; empty disables the push.
	PushgatewayURL string
	MetricsJob     string
}

// RunEvent is published when a run ends.
type RunEvent struct {
	RunID            string    `json:"run_id"`
	Mode             string    `json:"mode"`
	Table            string    `json:"table"`
	Status           string    `json:"status"`
	StopReason       string    `json:"stop_reason"`
	Pages            int       `json:"pages"`
	KnownIDs         int       `json:"known_ids"`
	Accumulated      int       `json:"accumulated"`
	Inserted         int       `json:"inserted"`
	Skipped          int       `json:"skipped"`
	ExtractionErrors int       `json:"extraction_errors"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Error            string    `json:"error,omitempty"`
}

// Driver wires the store, the controller and the run side effects.
type Driver struct {
	opts      Options
	store     crawler.ArticleStore
	runner    Runner
	publisher crawler.Publisher
	observer  RunObserver
	clock     crawler.Clock
	ids       crawler.IDGenerator
	logger    *zap.Logger
}

// Option customizes a Driver.
type Option func(*Driver)

// WithPublisher publishes a RunEvent to Options.Topic.
func WithPublisher(p crawler.Publisher) Option {
	return func(d *Driver) { d.publisher = p }
}

// WithObserver records metrics for the run.
func WithObserver(o RunObserver) Option {
	return func(d *Driver) { d.observer = o }
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(g crawler.IDGenerator) Option {
	return func(d *Driver) { d.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// NewDriver builds a Driver.
func NewDriver(opts Options, store crawler.ArticleStore, runner Runner, options ...Option) (*Driver, error) {
	if store == nil || runner == nil {
		return nil, fmt.Errorf("%w: store and runner are required", crawler.ErrConfiguration)
	}
	if opts.Table == "" {
		return nil, fmt.Errorf("%w: table is required", crawler.ErrConfiguration)
	}
	if opts.Mode == "" {
		opts.Mode = crawler.ModeIncremental
	}
	d := &Driver{
		opts:   opts,
		store:  store,
		runner: runner,
		clock:  systemClock{},
		ids:    uuidGenerator{},
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// Run performs one ingestion pass. Nothing is inserted when the crawl fails,
// so an incremental run never leaves a gap behind the newest stored article.
func (d *Driver) Run(ctx context.Context) (RunEvent, error) {
	runID, err := d.ids.NewID()
	if err != nil {
		return RunEvent{}, fmt.Errorf("generate run id: %w", err)
	}
	event := RunEvent{
		RunID:     runID,
		Mode:      string(d.opts.Mode),
		Table:     d.opts.Table,
		StartedAt: d.clock.Now(),
	}
	logger := d.logger.With(zap.String("run_id", runID), zap.String("mode", event.Mode))

	result, insert, runErr := d.run(ctx, logger, &event)

	event.FinishedAt = d.clock.Now()
	event.StopReason = string(result.StopReason)
	event.Pages = result.Pages
	event.Accumulated = len(result.Articles)
	event.ExtractionErrors = len(result.Skipped)
	event.Inserted = len(insert.Inserted)
	event.Skipped = len(insert.Skipped)
	event.Status = StatusSucceeded
	if runErr != nil {
		event.Status = StatusFailed
		event.Error = runErr.Error()
		if event.StopReason == "" {
			event.StopReason = string(crawler.StopFailed)
		}
	}

	d.finalize(ctx, logger, event, insert)

	if runErr != nil {
		logger.Error("ingest run failed", zap.Error(runErr))
		return event, runErr
	}
	logger.Info("ingest run finished",
		zap.String("stop_reason", event.StopReason),
		zap.Int("pages", event.Pages),
		zap.Int("inserted", event.Inserted),
		zap.Int("skipped", event.Skipped),
		zap.Int("extraction_errors", event.ExtractionErrors),
	)
	return event, nil
}

func (d *Driver) run(ctx context.Context, logger *zap.Logger, event *RunEvent) (crawler.Result, crawler.InsertResult, error) {
	if err := d.store.EnsureTable(ctx, d.opts.Table); err != nil {
		return crawler.Result{}, crawler.InsertResult{}, err
	}

	known, err := d.knownIDs(ctx)
	if err != nil {
		return crawler.Result{}, crawler.InsertResult{}, err
	}
	event.KnownIDs = len(known)
	logger.Info("known ids loaded", zap.Int("count", len(known)))

	result, err := d.runner.Run(ctx, known)
	if err != nil {
		logger.Warn("crawl failed, discarding partial result",
			zap.Int("accumulated", len(result.Articles)),
			zap.Error(err),
		)
		return result, crawler.InsertResult{}, fmt.Errorf("crawl: %w", err)
	}

	insert, err := d.store.InsertNew(ctx, d.opts.Table, result.Articles)
	if err != nil {
		return result, crawler.InsertResult{}, err
	}
	if len(insert.Skipped) > 0 {
		logger.Info("articles already stored", zap.Strings("ids", insert.Skipped))
	}
	return result, insert, nil
}

func (d *Driver) knownIDs(ctx context.Context) (crawler.KeySet, error) {
	if d.opts.KnownIDsLimit > 0 {
		return d.store.RecentIDs(ctx, d.opts.Table, d.opts.KnownIDsLimit)
	}
	return d.store.ExistingIDs(ctx, d.opts.Table)
}

// finalize records metrics and publishes the event. Failures here are logged
// and never change the run outcome.
func (d *Driver) finalize(ctx context.Context, logger *zap.Logger, event RunEvent, insert crawler.InsertResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if d.observer != nil {
		d.observer.ObserveInsert(insert)
		d.observer.ObserveRun(d.opts.Mode, crawler.StopReason(event.StopReason),
			event.FinishedAt.Sub(event.StartedAt), event.FinishedAt, event.Status == StatusSucceeded)
		if d.opts.PushgatewayURL != "" {
			if err := d.observer.Push(ctx, d.opts.PushgatewayURL, d.opts.MetricsJob); err != nil {
				logger.Warn("metrics push failed", zap.Error(err))
			}
		}
	}

	if d.publisher != nil && d.opts.Topic != "" {
		id, err := d.publisher.Publish(ctx, d.opts.Topic, event)
		if err != nil {
			logger.Warn("run event publish failed", zap.String("topic", d.opts.Topic), zap.Error(err))
			return
		}
		logger.Debug("run event published", zap.String("topic", d.opts.Topic), zap.String("message_id", id))
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type uuidGenerator struct{}

func (uuidGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// IsRetryable reports whether a failed run is worth scheduling again soon:
// transport exhaustion is, configuration and extraction errors are not.
func IsRetryable(err error) bool {
	return errors.Is(err, crawler.ErrTransientNetwork) || errors.Is(err, crawler.ErrPersistence)
}

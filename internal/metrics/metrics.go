// Package metrics exposes Prometheus collectors for ingest runs and pushes
// them to a Pushgateway when the run ends.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/JakeFAU/news-ingest/internal/crawler"
)

// Recorder implements crawler.Recorder on a private registry, so a run's
// counters start at zero and can be pushed as one group.
type Recorder struct {
	registry *prometheus.Registry
	site     string

	listingPages        *prometheus.CounterVec
	listingEntries      *prometheus.CounterVec
	articlesFetched     *prometheus.CounterVec
	articlesAccumulated *prometheus.CounterVec
	fetchRetries        *prometheus.CounterVec
	extractionErrors    *prometheus.CounterVec
	articlesStored      *prometheus.CounterVec
	runs                *prometheus.CounterVec
	runDurationSeconds  prometheus.Gauge
	lastSuccess         prometheus.Gauge
}

var _ crawler.Recorder = (*Recorder)(nil)

// NewRecorder registers the ingest collectors. site is the source URL or
// host and becomes the "site" label.
func NewRecorder(site string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	r := &Recorder{registry: reg, site: SanitizeSite(site)}

	r.listingPages = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_listing_pages_total",
		Help: "Listing pages fetched, labeled by site.",
	}, []string{"site"})
	r.listingEntries = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_listing_entries_total",
		Help: "Article entries found on listing pages, labeled by site.",
	}, []string{"site"})
	r.articlesFetched = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_articles_fetched_total",
		Help: "Article pages fetched, labeled by site.",
	}, []string{"site"})
	r.articlesAccumulated = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_articles_accumulated_total",
		Help: "Articles accepted into the run result, labeled by site.",
	}, []string{"site"})
	r.fetchRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_fetch_retries_total",
		Help: "Fetch attempts retried after a transport error, labeled by site.",
	}, []string{"site"})
	r.extractionErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_extraction_errors_total",
		Help: "Extraction failures, labeled by site and field.",
	}, []string{"site", "field"})
	r.articlesStored = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_articles_stored_total",
		Help: "Insert outcomes, labeled by site and outcome (inserted or skipped).",
	}, []string{"site", "outcome"})
	r.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_runs_total",
		Help: "Finished runs, labeled by mode and stop reason.",
	}, []string{"mode", "stop_reason"})
	r.runDurationSeconds = factory.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_run_duration_seconds",
		Help: "Wall time of the last run.",
	})
	r.lastSuccess = factory.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_last_success_timestamp_seconds",
		Help: "Unix time of the last run that persisted its result.",
	})
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ListingFetched counts one listing page and its entries.
func (r *Recorder) ListingFetched(entries int) {
	r.listingPages.WithLabelValues(r.site).Inc()
	r.listingEntries.WithLabelValues(r.site).Add(float64(entries))
}

// ArticleFetched counts one article page fetch.
func (r *Recorder) ArticleFetched() {
	r.articlesFetched.WithLabelValues(r.site).Inc()
}

// ArticleAccumulated counts one article added to the result.
func (r *Recorder) ArticleAccumulated() {
	r.articlesAccumulated.WithLabelValues(r.site).Inc()
}

// ExtractionFailed counts an extraction error for field.
func (r *Recorder) ExtractionFailed(field string) {
	r.extractionErrors.WithLabelValues(r.site, field).Inc()
}

// FetchRetried counts one retried fetch.
func (r *Recorder) FetchRetried() {
	r.fetchRetries.WithLabelValues(r.site).Inc()
}

// ObserveInsert records the outcome of a store insert.
func (r *Recorder) ObserveInsert(result crawler.InsertResult) {
	r.articlesStored.WithLabelValues(r.site, "inserted").Add(float64(len(result.Inserted)))
	r.articlesStored.WithLabelValues(r.site, "skipped").Add(float64(len(result.Skipped)))
}

// ObserveRun records a finished run. finishedAt is only recorded as the last
// success when succeeded is true.
func (r *Recorder) ObserveRun(mode crawler.Mode, reason crawler.StopReason, duration time.Duration, finishedAt time.Time, succeeded bool) {
	r.runs.WithLabelValues(string(mode), string(reason)).Inc()
	r.runDurationSeconds.Set(duration.Seconds())
	if succeeded {
		r.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// Push sends every collector of the recorder to a Pushgateway under job.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return fmt.Errorf("%w: metrics.pushgateway_url is required", crawler.ErrConfiguration)
	}
	pusher := push.New(gatewayURL, job).Gatherer(r.registry)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-ingest/internal/crawler"
)

// CharsetDetected is reported in Document.Charset when the encoding was
// sniffed from the body rather than declared.
const CharsetDetected = "detected"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements crawler.Fetcher using the Colly collector. Transport
// failures are retried according to the injected RetryPolicy.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	retry         crawler.RetryPolicy
	recorder      crawler.Recorder
	logger        *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. A nil retry policy uses the exponential defaults.
func New(cfg Config, retry crawler.RetryPolicy, recorder crawler.Recorder, logger *zap.Logger) *Fetcher {
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy(0, 0, 0)
	}
	if recorder == nil {
		recorder = crawler.NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := colly.NewCollector()
	// Retries hit the same URL and the listing is revisited across runs.
	c.AllowURLRevisit = true
	// Any status is a response; judging the page is the extractor's job.
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		retry:         retry,
		recorder:      recorder,
		logger:        logger,
	}
}

// Fetch performs a blocking GET, retrying transport errors until the policy
// gives up. Exhaustion yields a *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.Document, error) {
	for attempt := 1; ; attempt++ {
		doc, err := f.fetchOnce(ctx, request)
		if err == nil {
			return doc, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.Document{}, fmt.Errorf("fetch %s canceled: %w", request.URL, ctxErr)
		}
		if !f.retry.ShouldRetry(err, attempt) {
			if crawler.IsTransient(err) {
				return crawler.Document{}, &crawler.FetchError{URL: request.URL, Attempts: attempt, Err: err}
			}
			return crawler.Document{}, fmt.Errorf("fetch %s: %w", request.URL, err)
		}

		delay := f.retry.Backoff(attempt)
		f.logger.Warn("fetch failed, retrying",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		f.recorder.FetchRetried()
		if err := wait(ctx, delay); err != nil {
			return crawler.Document{}, fmt.Errorf("fetch %s canceled: %w", request.URL, err)
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, request crawler.FetchRequest) (crawler.Document, error) {
	var (
		result   crawler.Document
		fetchErr error
	)
	collector := f.buildCollector(request, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.Document{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request crawler.FetchRequest,
	result *crawler.Document,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.DetectCharset = request.DetectCharset && request.Charset == ""
	f.configureCollectorHooks(collector, request, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	result *crawler.Document,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if request.Charset != "" {
			r.ResponseCharacterEncoding = request.Charset
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.Document{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Charset:    appliedCharset(request, r.Headers),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// appliedCharset names the encoding colly used to decode the body.
func appliedCharset(request crawler.FetchRequest, headers *http.Header) string {
	if request.Charset != "" {
		return request.Charset
	}
	if headers != nil {
		if _, params, err := mime.ParseMediaType(headers.Get("Content-Type")); err == nil {
			if cs := params["charset"]; cs != "" {
				return cs
			}
		}
	}
	if request.DetectCharset {
		return CharsetDetected
	}
	return ""
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Controller walks paginated listing pages, extracts each article and stops
// according to the configured Mode.
type Controller struct {
	cfg       Config
	fetcher   Fetcher
	extractor Extractor
	recorder  Recorder
	logger    *zap.Logger
}

// NewController wires a Controller. A nil recorder or logger is replaced by a no-op.
func NewController(cfg Config, fetcher Fetcher, extractor Extractor, recorder Recorder, logger *zap.Logger) (*Controller, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, configErrorf("fetcher is required")
	}
	if extractor == nil {
		return nil, configErrorf("extractor is required")
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		recorder:  recorder,
		logger:    logger,
	}, nil
}

// Config returns the effective configuration after defaults were applied.
func (c *Controller) Config() Config {
	return c.cfg
}

// Run crawls until an empty listing page, the stop condition, or the page cap.
// known is the snapshot of persisted ids and is never re-queried.
//
// On error the partial result is returned alongside it; callers must not
// persist it in incremental mode, since the newest articles would then mask
// the older ones that were never reached.
func (c *Controller) Run(ctx context.Context, known KeySet) (Result, error) {
	result := Result{Articles: make(map[string]Article)}
	offset := 0

	c.logger.Info("crawl started",
		zap.String("mode", string(c.cfg.Mode)),
		zap.Int("known_ids", len(known)),
		zap.String("policy", string(c.cfg.ExtractionPolicy)),
	)

	for {
		if err := ctx.Err(); err != nil {
			result.StopReason = StopFailed
			return result, fmt.Errorf("crawl canceled at offset %d: %w", offset, err)
		}

		entries, err := c.fetchListing(ctx, offset)
		if err != nil {
			result.StopReason = StopFailed
			return result, err
		}
		result.Pages++
		if len(entries) == 0 {
			c.logger.Info("no articles on listing page", zap.Int("offset", offset))
			result.StopReason = StopEndOfContent
			break
		}

		stop, reason, err := c.processPage(ctx, offset, entries, known, &result)
		if err != nil {
			result.StopReason = StopFailed
			return result, err
		}

		offset += c.cfg.PageSize
		c.logger.Debug("listing page done",
			zap.Int("next_offset", offset),
			zap.Int("accumulated", len(result.Articles)),
		)
		if stop {
			result.StopReason = reason
			break
		}
		if c.cfg.MaxPages > 0 && result.Pages >= c.cfg.MaxPages {
			result.StopReason = StopMaxPages
			break
		}
	}

	c.logger.Info("crawl finished",
		zap.String("stop_reason", string(result.StopReason)),
		zap.Int("pages", result.Pages),
		zap.Int("accumulated", len(result.Articles)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (c *Controller) fetchListing(ctx context.Context, offset int) ([]ListingEntry, error) {
	listingURL, err := c.cfg.ListingURL(offset)
	if err != nil {
		return nil, err
	}
	doc, err := c.fetcher.Fetch(ctx, FetchRequest{URL: listingURL, Charset: c.cfg.ListingCharset})
	if err != nil {
		return nil, fmt.Errorf("fetch listing at offset %d: %w", offset, err)
	}
	entries, err := c.extractor.ExtractListing(doc)
	if err != nil {
		return nil, fmt.Errorf("extract listing at offset %d: %w", offset, err)
	}
	c.recorder.ListingFetched(len(entries))
	return entries, nil
}

// processPage handles the entries of one listing page in order. It reports
// whether the stop condition fired.
func (c *Controller) processPage(
	ctx context.Context,
	offset int,
	entries []ListingEntry,
	known KeySet,
	result *Result,
) (bool, StopReason, error) {
	for _, entry := range entries {
		// The listing already names the id, so a stored article ends an
		// incremental walk even when its entry failed to parse.
		if c.cfg.Mode == ModeIncremental && entry.ID != "" && known.Has(entry.ID) {
			c.logger.Info("stop condition reached",
				zap.Int("offset", offset),
				zap.String("id", entry.ID),
				zap.String("reason", string(StopKnownArticle)),
			)
			return true, StopKnownArticle, nil
		}

		article, err := c.fetchArticle(ctx, entry)
		if err != nil {
			var extractErr *ExtractionError
			if !errors.As(err, &extractErr) {
				return false, "", fmt.Errorf("page offset %d: %w", offset, err)
			}
			c.recorder.ExtractionFailed(extractErr.Field)
			if c.cfg.ExtractionPolicy == ExtractionPolicyAbort {
				return false, "", fmt.Errorf("page offset %d: %w", offset, err)
			}
			c.logger.Warn("skipping article",
				zap.Int("offset", offset),
				zap.String("url", extractErr.URL),
				zap.String("field", extractErr.Field),
				zap.Error(err),
			)
			result.Skipped = append(result.Skipped, extractErr)
			continue
		}

		if stop, reason := c.shouldStop(article, known); stop {
			c.logger.Info("stop condition reached",
				zap.Int("offset", offset),
				zap.String("id", article.ID),
				zap.String("reason", string(reason)),
			)
			return true, reason, nil
		}

		if _, seen := result.Articles[article.ID]; seen {
			continue
		}
		result.Articles[article.ID] = article
		result.Order = append(result.Order, article.ID)
		c.recorder.ArticleAccumulated()
	}
	return false, "", nil
}

func (c *Controller) fetchArticle(ctx context.Context, entry ListingEntry) (Article, error) {
	if entry.Err != nil {
		return Article{}, entry.Err
	}
	doc, err := c.fetcher.Fetch(ctx, FetchRequest{URL: entry.URL, DetectCharset: true})
	if err != nil {
		return Article{}, fmt.Errorf("fetch article %s: %w", entry.URL, err)
	}
	c.recorder.ArticleFetched()
	article, err := c.extractor.ExtractArticle(doc)
	if err != nil {
		return Article{}, err
	}
	article.ID = entry.ID
	article.CommentCount = entry.CommentCount
	return article, nil
}

func (c *Controller) shouldStop(article Article, known KeySet) (bool, StopReason) {
	switch c.cfg.Mode {
	case ModeIncremental:
		if known.Has(article.ID) {
			return true, StopKnownArticle
		}
	case ModeFull:
		if article.PublishedAt.Before(c.cfg.Cutoff) {
			return true, StopCutoff
		}
	}
	return false, ""
}

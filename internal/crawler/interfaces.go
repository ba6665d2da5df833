package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves a page and decodes its body.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Document, error)
}

// Extractor parses listing and article pages of one source layout.
type Extractor interface {
	ExtractListing(doc Document) ([]ListingEntry, error)
	// ExtractArticle returns every Article field except ID and CommentCount,
	// which come from the listing page.
	ExtractArticle(doc Document) (Article, error)
}

// ArticleStore is the Known-Key Store: it knows which ids are persisted and
// inserts only new ones.
type ArticleStore interface {
	EnsureTable(ctx context.Context, table string) error
	ExistingIDs(ctx context.Context, table string) (KeySet, error)
	RecentIDs(ctx context.Context, table string, limit int) (KeySet, error)
	InsertNew(ctx context.Context, table string, articles map[string]Article) (InsertResult, error)
	ListArticles(ctx context.Context, table string) ([]Article, error)
	Close()
}

// RetryPolicy decides whether and when a failed fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Recorder receives crawl progress for metrics.
type Recorder interface {
	ListingFetched(entries int)
	ArticleFetched()
	ArticleAccumulated()
	ExtractionFailed(field string)
	FetchRetried()
}

// Publisher pushes run events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes export artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// NopRecorder discards every observation.
type NopRecorder struct{}

func (NopRecorder) ListingFetched(int)      {}
func (NopRecorder) ArticleFetched()         {}
func (NopRecorder) ArticleAccumulated()     {}
func (NopRecorder) ExtractionFailed(string) {}
func (NopRecorder) FetchRetried()           {}

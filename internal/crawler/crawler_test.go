package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "http://news.test/news/"

// fakeSite serves listing pages keyed by offset and article pages keyed by URL.
type fakeSite struct {
	mu       sync.Mutex
	listings map[int][]ListingEntry
	articles map[string]Article
	// failures maps a URL to the error returned when it is fetched.
	failures map[string]error
	fetched  []FetchRequest
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		listings: make(map[int][]ListingEntry),
		articles: make(map[string]Article),
		failures: make(map[string]error),
	}
}

func (s *fakeSite) addPage(offset int, articles ...Article) {
	for _, a := range articles {
		u := testBase + a.ID + "/"
		s.listings[offset] = append(s.listings[offset], ListingEntry{ID: a.ID, URL: u, CommentCount: a.CommentCount})
		s.articles[u] = a
	}
}

func (s *fakeSite) Fetch(_ context.Context, req FetchRequest) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, req)
	if err, ok := s.failures[req.URL]; ok {
		return Document{}, err
	}
	return Document{URL: req.URL, StatusCode: 200}, nil
}

func (s *fakeSite) ExtractListing(doc Document) ([]ListingEntry, error) {
	offset := 0
	if _, after, ok := strings.Cut(doc.URL, "?skip="); ok {
		if _, err := fmt.Sscanf(after, "%d", &offset); err != nil {
			return nil, err
		}
	}
	return s.listings[offset], nil
}

func (s *fakeSite) ExtractArticle(doc Document) (Article, error) {
	a, ok := s.articles[doc.URL]
	if !ok {
		return Article{}, &ExtractionError{URL: doc.URL, Field: "header", Err: errors.New("element not found")}
	}
	// The controller fills these from the listing.
	a.ID = ""
	a.CommentCount = 0
	return a, nil
}

func (s *fakeSite) requestedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.fetched))
	for _, r := range s.fetched {
		out = append(out, r.URL)
	}
	return out
}

type tallyRecorder struct {
	NopRecorder
	listings    int
	accumulated int
	failed      map[string]int
}

func (r *tallyRecorder) ListingFetched(int)  { r.listings++ }
func (r *tallyRecorder) ArticleAccumulated() { r.accumulated++ }
func (r *tallyRecorder) ExtractionFailed(field string) {
	if r.failed == nil {
		r.failed = make(map[string]int)
	}
	r.failed[field]++
}

func article(id string, published time.Time) Article {
	return Article{
		ID:           id,
		Header:       "header " + id,
		Content:      "content " + id,
		PublishedAt:  published,
		VisitCount:   10,
		CommentCount: 2,
		Tags:         []string{"Арсенал"},
	}
}

func newTestController(t *testing.T, cfg Config, site *fakeSite, rec Recorder) *Controller {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = testBase
	}
	c, err := NewController(cfg, site, site, rec, nil)
	require.NoError(t, err)
	return c
}

var jan = time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)

func TestRunIncrementalStopsAtKnownArticle(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("1002", jan), article("1001", jan), article("1000", jan))

	c := newTestController(t, Config{Mode: ModeIncremental}, site, nil)
	result, err := c.Run(context.Background(), NewKeySet("1001"))
	require.NoError(t, err)

	require.Len(t, result.Articles, 1)
	got := result.Articles["1002"]
	assert.Equal(t, "1002", got.ID)
	assert.Equal(t, 2, got.CommentCount)
	assert.Equal(t, []string{"1002"}, result.Order)
	assert.Equal(t, StopKnownArticle, result.StopReason)
	assert.Equal(t, 1, result.Pages)
	assert.NotContains(t, site.requestedURLs(), testBase+"1000/")
}

func TestRunFullStopsAtCutoff(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	old := time.Date(2023, time.December, 31, 21, 15, 0, 0, time.UTC)
	site.addPage(0, article("2002", jan), article("2001", old), article("2000", jan))

	c := newTestController(t, Config{Mode: ModeFull, Cutoff: DefaultCutoff}, site, nil)
	result, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"2002"}, result.Order)
	assert.NotContains(t, result.Articles, "2001")
	assert.Equal(t, StopCutoff, result.StopReason)
}

func TestRunFullKeepsArticleAtCutoffInstant(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0,
		article("4002", DefaultCutoff),
		article("4001", DefaultCutoff.Add(-time.Minute)),
		article("4000", jan),
	)

	c := newTestController(t, Config{Mode: ModeFull, Cutoff: DefaultCutoff}, site, nil)
	result, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"4002"}, result.Order)
	assert.True(t, result.Articles["4002"].PublishedAt.Equal(DefaultCutoff))
	assert.NotContains(t, result.Articles, "4001")
	assert.Equal(t, StopCutoff, result.StopReason)
	assert.NotContains(t, site.requestedURLs(), testBase+"4000/")
}

func TestRunIncrementalStopsAtKnownEntryWithListingError(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("1002", jan), article("1001", jan), article("1000", jan))
	site.listings[0][1].Err = &ExtractionError{
		URL:   testBase,
		Field: "comments",
		Value: "n/a",
		Err:   errors.New("not a non-negative integer"),
	}

	rec := &tallyRecorder{}
	c := newTestController(t, Config{Mode: ModeIncremental, ExtractionPolicy: ExtractionPolicySkip}, site, rec)
	result, err := c.Run(context.Background(), NewKeySet("1001"))
	require.NoError(t, err)

	assert.Equal(t, []string{"1002"}, result.Order)
	assert.Equal(t, StopKnownArticle, result.StopReason)
	assert.Empty(t, result.Skipped)
	assert.Empty(t, rec.failed)
	assert.NotContains(t, site.requestedURLs(), testBase+"1001/")
	assert.NotContains(t, site.requestedURLs(), testBase+"1000/")
}

func TestRunFullModeIgnoresKnownIDs(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("3", jan), article("2", jan))

	c := newTestController(t, Config{Mode: ModeFull}, site, nil)
	result, err := c.Run(context.Background(), NewKeySet("3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2"}, result.Order)
	assert.Equal(t, StopEndOfContent, result.StopReason)
	assert.Equal(t, DefaultCutoff, c.Config().Cutoff)
}

func TestRunPaginatesUntilEmptyPage(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("5", jan), article("4", jan))
	site.addPage(2, article("3", jan), article("2", jan))

	rec := &tallyRecorder{}
	c := newTestController(t, Config{PageSize: 2}, site, rec)
	result, err := c.Run(context.Background(), NewKeySet())
	require.NoError(t, err)

	assert.Equal(t, []string{"5", "4", "3", "2"}, result.Order)
	assert.Equal(t, StopEndOfContent, result.StopReason)
	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, 3, rec.listings)
	assert.Equal(t, 4, rec.accumulated)

	urls := site.requestedURLs()
	assert.Equal(t, testBase, urls[0])
	assert.Contains(t, urls, testBase+"?skip=2")
	assert.Contains(t, urls, testBase+"?skip=4")
}

func TestRunUsesListingCharsetAndDetectsArticles(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("1", jan))

	c := newTestController(t, Config{}, site, nil)
	_, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(site.fetched), 2)
	assert.Equal(t, DefaultListingCharset, site.fetched[0].Charset)
	assert.False(t, site.fetched[0].DetectCharset)
	assert.Empty(t, site.fetched[1].Charset)
	assert.True(t, site.fetched[1].DetectCharset)
}

func TestRunKeepsFirstOccurrenceAcrossPages(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("9", jan), article("8", jan))
	// A new post shifted the listing, so "8" shows up again.
	shifted := article("8", jan)
	shifted.Header = "later copy"
	site.listings[2] = []ListingEntry{{ID: "8", URL: testBase + "8/?again"}, {ID: "7", URL: testBase + "7/"}}
	site.articles[testBase+"8/?again"] = shifted
	site.articles[testBase+"7/"] = article("7", jan)

	c := newTestController(t, Config{PageSize: 2}, site, nil)
	result, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"9", "8", "7"}, result.Order)
	assert.Equal(t, "header 8", result.Articles["8"].Header)
}

func TestRunIsIdempotentAgainstPersistedState(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("12", jan), article("11", jan), article("10", jan))

	c := newTestController(t, Config{}, site, nil)
	first, err := c.Run(context.Background(), NewKeySet("10"))
	require.NoError(t, err)
	require.Equal(t, []string{"12", "11"}, first.Order)

	known := NewKeySet("10")
	for _, id := range first.Order {
		known.Add(id)
	}
	second, err := c.Run(context.Background(), known)
	require.NoError(t, err)
	assert.Empty(t, second.Articles)
	assert.Equal(t, StopKnownArticle, second.StopReason)
}

func TestRunStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("4", jan))
	site.addPage(1, article("3", jan))
	site.addPage(2, article("2", jan))

	c := newTestController(t, Config{PageSize: 1, MaxPages: 2}, site, nil)
	result, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3"}, result.Order)
	assert.Equal(t, StopMaxPages, result.StopReason)
	assert.Equal(t, 2, result.Pages)
}

func TestRunSkipPolicyDropsBrokenArticle(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("3", jan))
	site.listings[0] = append(site.listings[0],
		ListingEntry{ID: "2", URL: testBase + "2/"},
		ListingEntry{URL: testBase + "broken", Err: &ExtractionError{URL: testBase, Field: "link"}},
	)
	site.addPage(0, article("1", jan))

	rec := &tallyRecorder{}
	c := newTestController(t, Config{ExtractionPolicy: ExtractionPolicySkip}, site, rec)
	result, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"3", "1"}, result.Order)
	require.Len(t, result.Skipped, 2)
	assert.Equal(t, "header", result.Skipped[0].Field)
	assert.Equal(t, "link", result.Skipped[1].Field)
	assert.Equal(t, map[string]int{"header": 1, "link": 1}, rec.failed)
}

func TestRunAbortPolicyFailsRun(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("3", jan))
	site.listings[0] = append(site.listings[0], ListingEntry{ID: "2", URL: testBase + "2/"})

	c := newTestController(t, Config{ExtractionPolicy: ExtractionPolicyAbort}, site, nil)
	result, err := c.Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)

	var extractErr *ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, "header", extractErr.Field)
	assert.Equal(t, StopFailed, result.StopReason)
	assert.Equal(t, []string{"3"}, result.Order)
}

func TestRunPropagatesFetchErrors(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("3", jan), article("2", jan))
	site.failures[testBase+"2/"] = &FetchError{URL: testBase + "2/", Attempts: 5, Err: errors.New("connection reset")}

	c := newTestController(t, Config{}, site, nil)
	result, err := c.Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransientNetwork)
	assert.Contains(t, err.Error(), "page offset 0")
	assert.Equal(t, StopFailed, result.StopReason)
}

func TestRunListingFetchError(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.failures[testBase] = errors.New("dial tcp: refused")

	c := newTestController(t, Config{}, site, nil)
	_, err := c.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch listing at offset 0")
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.addPage(0, article("1", jan))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestController(t, Config{}, site, nil)
	result, err := c.Run(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopFailed, result.StopReason)
	assert.Empty(t, site.requestedURLs())
}

func TestNewControllerValidates(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	_, err := NewController(Config{BaseURL: "/news/"}, site, site, nil, nil)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = NewController(Config{Mode: "sideways"}, site, site, nil, nil)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = NewController(Config{}, nil, site, nil, nil)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = NewController(Config{MaxPages: -1}, site, site, nil, nil)
	require.ErrorIs(t, err, ErrConfiguration)

	c, err := NewController(Config{}, site, site, nil, nil)
	require.NoError(t, err)
	cfg := c.Config()
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.Equal(t, ModeIncremental, cfg.Mode)
	assert.Equal(t, ExtractionPolicySkip, cfg.ExtractionPolicy)
}

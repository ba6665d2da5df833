package crawler

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Crawl defaults matching the source site.
const (
	DefaultBaseURL        = "http://fapl.ru/news/"
	DefaultPageSize       = 20
	DefaultListingCharset = "windows-1251"
	// SourceTimeLayout is the publication date format used on article pages.
	SourceTimeLayout = "02.01.2006 15:04"
)

// DefaultCutoff bounds a full backfill.
var DefaultCutoff = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Config captures every knob that influences a crawl run.
type Config struct {
	BaseURL          string
	PageSize         int
	ListingCharset   string
	Mode             Mode
	Cutoff           time.Time
	ExtractionPolicy ExtractionPolicy
	// MaxPages stops the run after this many listing pages; zero means no cap.
	MaxPages int
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return configErrorf("source.base_url must be an absolute URL, got %q", c.BaseURL)
	}
	if c.PageSize <= 0 {
		return configErrorf("source.page_size must be > 0")
	}
	switch c.Mode {
	case ModeIncremental:
	case ModeFull:
		if c.Cutoff.IsZero() {
			return configErrorf("crawl.cutoff must be set in full mode")
		}
	default:
		return configErrorf("unknown crawl mode %q", c.Mode)
	}
	switch c.ExtractionPolicy {
	case ExtractionPolicyAbort, ExtractionPolicySkip:
	default:
		return configErrorf("unknown extraction policy %q", c.ExtractionPolicy)
	}
	if c.MaxPages < 0 {
		return configErrorf("crawl.max_pages must be >= 0")
	}
	return nil
}

// ListingURL returns the listing page address for offset. The first page has
// no skip parameter.
func (c Config) ListingURL(offset int) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", configErrorf("parse base url %q: %v", c.BaseURL, err)
	}
	if offset <= 0 {
		return u.String(), nil
	}
	q := u.Query()
	q.Set("skip", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.ListingCharset == "" {
		c.ListingCharset = DefaultListingCharset
	}
	if c.Mode == "" {
		c.Mode = ModeIncremental
	}
	if c.Mode == ModeFull && c.Cutoff.IsZero() {
		c.Cutoff = DefaultCutoff
	}
	if c.ExtractionPolicy == "" {
		c.ExtractionPolicy = ExtractionPolicySkip
	}
	return c
}

// Package crawler defines core types shared across subsystems.
package crawler

import (
	"strings"
	"time"
)

// Mode selects the stop condition applied while walking listing pages.
type Mode string

// Supported crawl modes.
const (
	// ModeIncremental stops at the first article already present in the store.
	ModeIncremental Mode = "incremental"
	// ModeFull stops at the first article published before the cutoff.
	ModeFull Mode = "full"
)

// ParseMode converts a user supplied string into a Mode.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeIncremental:
		return ModeIncremental, nil
	case ModeFull:
		return ModeFull, nil
	default:
		return "", configErrorf("unknown crawl mode %q (want incremental or full)", raw)
	}
}

// ExtractionPolicy decides what happens when one article cannot be extracted.
type ExtractionPolicy string

// Supported extraction policies.
const (
	// ExtractionPolicyAbort fails the whole run on the first extraction error.
	ExtractionPolicyAbort ExtractionPolicy = "abort"
	// ExtractionPolicySkip records the error, drops the article and continues.
	ExtractionPolicySkip ExtractionPolicy = "skip"
)

// ParseExtractionPolicy converts a user supplied string into an ExtractionPolicy.
func ParseExtractionPolicy(raw string) (ExtractionPolicy, error) {
	switch ExtractionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case ExtractionPolicyAbort:
		return ExtractionPolicyAbort, nil
	case ExtractionPolicySkip, "":
		return ExtractionPolicySkip, nil
	default:
		return "", configErrorf("unknown extraction policy %q (want abort or skip)", raw)
	}
}

// StopReason explains why a crawl run terminated.
type StopReason string

// Terminal states of a crawl run.
const (
	StopEndOfContent StopReason = "end_of_content"
	StopKnownArticle StopReason = "known_article"
	StopCutoff       StopReason = "cutoff_reached"
	StopMaxPages     StopReason = "max_pages"
	StopFailed       StopReason = "failed"
)

// Article is the unit of ingestion.
type Article struct {
	ID           string    `json:"id"`
	Header       string    `json:"header"`
	Content      string    `json:"content"`
	PublishedAt  time.Time `json:"published_at"`
	VisitCount   int       `json:"visit_count"`
	CommentCount int       `json:"comment_count"`
	Tags         []string  `json:"tags"`
}

// TagsString returns the comma-joined tag labels used by the persisted schema.
func (a Article) TagsString() string {
	return strings.Join(a.Tags, ", ")
}

// SplitTags is the inverse of TagsString.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// KeySet is the set of article ids already durably stored.
type KeySet map[string]struct{}

// NewKeySet builds a KeySet from the provided ids.
func NewKeySet(ids ...string) KeySet {
	set := make(KeySet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports whether id is a member of the set. A nil set is empty.
func (s KeySet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set.
func (s KeySet) Add(id string) {
	s[id] = struct{}{}
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL string
	// Charset forces the response to be decoded from this encoding.
	Charset string
	// DetectCharset sniffs the encoding from the body when Charset is empty
	// and the response does not declare one.
	DetectCharset bool
}

// Document is a fetched page, already decoded to UTF-8.
type Document struct {
	URL        string
	StatusCode int
	Body       []byte
	// Charset names the encoding that was applied while decoding Body.
	Charset string
}

// ListingEntry is one article summary found on a listing page.
type ListingEntry struct {
	ID           string
	URL          string
	CommentCount int
	// Err is set when the entry could not be fully extracted.
	Err *ExtractionError
}

// Result is returned by Controller.Run.
type Result struct {
	Articles   map[string]Article
	Order      []string
	Pages      int
	StopReason StopReason
	Skipped    []*ExtractionError
}

// Ordered returns the accumulated articles in the order they were first seen.
func (r Result) Ordered() []Article {
	out := make([]Article, 0, len(r.Order))
	for _, id := range r.Order {
		out = append(out, r.Articles[id])
	}
	return out
}

// InsertResult reports what a store did with a batch of new articles.
type InsertResult struct {
	Inserted []string
	Skipped  []string
}

package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/news-ingest/internal/crawler"
)

// Extractor implements crawler.Extractor for the source site layout.
type Extractor struct {
	base     *url.URL
	location *time.Location
}

var _ crawler.Extractor = (*Extractor)(nil)

// New builds an Extractor. baseURL resolves relative article links; loc is
// the time zone the source prints publication dates in (UTC when nil).
func New(baseURL string, loc *time.Location) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid base url %q", crawler.ErrConfiguration, baseURL)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{base: base, location: loc}, nil
}

// ExtractListing returns the article entries of a listing page in page order.
// Entries whose link cannot be read carry the error in Err.
func (e *Extractor) ExtractListing(doc crawler.Document) ([]crawler.ListingEntry, error) {
	root, err := parse(doc)
	if err != nil {
		return nil, err
	}
	blocks := root.Find(listingBlockRule.selector)
	entries := make([]crawler.ListingEntry, 0, blocks.Length())
	blocks.Each(func(_ int, block *goquery.Selection) {
		entries = append(entries, e.listingEntry(doc.URL, block))
	})
	return entries, nil
}

func (e *Extractor) listingEntry(pageURL string, block *goquery.Selection) crawler.ListingEntry {
	link, err := linkRule.find(block)
	if err != nil {
		return crawler.ListingEntry{Err: fieldError(pageURL, linkRule.field, "", err)}
	}
	href := strings.TrimSpace(link.AttrOr("href", ""))
	articleURL, id, err := e.resolveArticle(href)
	if err != nil {
		return crawler.ListingEntry{URL: articleURL, Err: fieldError(pageURL, FieldID, href, err)}
	}

	entry := crawler.ListingEntry{ID: id, URL: articleURL}
	comments, _ := commentsRule.find(block)
	if comments.Length() > 0 {
		n, raw, err := commentCount(comments.Text())
		if err != nil {
			entry.Err = fieldError(pageURL, commentsRule.field, raw, err)
			return entry
		}
		entry.CommentCount = n
	}
	return entry
}

// resolveArticle turns a listing href into an absolute URL and the article id,
// which is the second path segment (/news/<id>/).
func (e *Extractor) resolveArticle(href string) (string, string, error) {
	if href == "" {
		return "", "", errEmpty
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", "", fmt.Errorf("parse href: %w", err)
	}
	abs := e.base.ResolveReference(ref)
	segments := strings.Split(strings.Trim(abs.Path, "/"), "/")
	if len(segments) < 2 || strings.TrimSpace(segments[1]) == "" {
		return abs.String(), "", fmt.Errorf("no id segment in path %q", abs.Path)
	}
	return abs.String(), segments[1], nil
}

// ExtractArticle parses an article page. ID and CommentCount are left zero.
func (e *Extractor) ExtractArticle(doc crawler.Document) (crawler.Article, error) {
	root, err := parse(doc)
	if err != nil {
		return crawler.Article{}, err
	}
	var article crawler.Article

	header, err := headerRule.find(root)
	if err != nil {
		return article, articleError(doc, headerRule.field, "", err)
	}
	if article.Header = cleanText(header.Text()); article.Header == "" {
		return article, articleError(doc, headerRule.field, "", errEmpty)
	}

	content, err := contentRule.find(root)
	if err != nil {
		return article, articleError(doc, contentRule.field, "", err)
	}
	article.Content = paragraphs(content)

	tags, err := tagsRule.find(root)
	if err != nil {
		return article, articleError(doc, tagsRule.field, "", err)
	}
	article.Tags = tagLabels(tags)

	visits, err := visitsRule.find(root)
	if err != nil {
		return article, articleError(doc, visitsRule.field, "", err)
	}
	n, raw, err := visitCount(visits.Text())
	if err != nil {
		return article, articleError(doc, visitsRule.field, raw, err)
	}
	article.VisitCount = n

	date, err := dateRule.find(root)
	if err != nil {
		return article, articleError(doc, dateRule.field, "", err)
	}
	rawDate := cleanText(date.Text())
	published, err := time.ParseInLocation(crawler.SourceTimeLayout, rawDate, e.location)
	if err != nil {
		return article, articleError(doc, dateRule.field, rawDate, err)
	}
	article.PublishedAt = published

	return article, nil
}

func paragraphs(content *goquery.Selection) string {
	parts := make([]string, 0, content.Find("p").Length())
	content.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := cleanText(p.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

func tagLabels(tags *goquery.Selection) []string {
	anchors := tags.Find("a")
	if anchors.Length() == 0 {
		return splitTagText(tags.Text())
	}
	out := make([]string, 0, anchors.Length())
	anchors.Each(func(_ int, a *goquery.Selection) {
		if label := cleanText(a.Text()); label != "" {
			out = append(out, label)
		}
	})
	return out
}

func parse(doc crawler.Document) (*goquery.Selection, error) {
	d, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, fieldError(doc.URL, FieldDocument, "", fmt.Errorf("parse html: %w", err))
	}
	return d.Selection, nil
}

func articleError(doc crawler.Document, field, value string, err error) *crawler.ExtractionError {
	if doc.StatusCode >= 400 {
		err = fmt.Errorf("%w (status %d)", err, doc.StatusCode)
	}
	return fieldError(doc.URL, field, value, err)
}

func fieldError(pageURL, field, value string, err error) *crawler.ExtractionError {
	return &crawler.ExtractionError{URL: pageURL, Field: field, Value: value, Err: err}
}

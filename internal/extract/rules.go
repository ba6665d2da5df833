// Package extract parses listing and article pages of the source site into
// crawler records using a fixed set of named goquery rules.
package extract

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Field names reported by extraction errors.
const (
	FieldDocument = "document"
	FieldLink     = "link"
	FieldID       = "id"
	FieldComments = "comments"
	FieldHeader   = "header"
	FieldContent  = "content"
	FieldTags     = "tags"
	FieldVisits   = "visits"
	FieldDate     = "date"
)

var (
	errNotFound = errors.New("element not found")
	errEmpty    = errors.New("element is empty")
	errNotCount = errors.New("not a non-negative integer")
)

// rule binds a field name to the selector that locates it.
type rule struct {
	field    string
	selector string
	required bool
}

// Listing page rules.
var (
	listingBlockRule = rule{field: FieldDocument, selector: "div.block.news"}
	linkRule         = rule{field: FieldLink, selector: "h3 a[href]", required: true}
	commentsRule     = rule{field: FieldComments, selector: "p.f-r"}
)

// Article page rules.
var (
	headerRule  = rule{field: FieldHeader, selector: "div.block h2", required: true}
	contentRule = rule{field: FieldContent, selector: "div.content", required: true}
	tagsRule    = rule{field: FieldTags, selector: "div.info p.tags", required: true}
	visitsRule  = rule{field: FieldVisits, selector: "p.visits.f-l", required: true}
	dateRule    = rule{field: FieldDate, selector: "p.date.f-r", required: true}
)

// Rules returns the selector of every named rule keyed by field.
func Rules() map[string]string {
	out := make(map[string]string)
	for _, r := range []rule{
		linkRule, commentsRule, headerRule, contentRule, tagsRule, visitsRule, dateRule,
	} {
		out[r.field] = r.selector
	}
	out["listing"] = listingBlockRule.selector
	return out
}

// find returns the first match of the rule below root. A missing optional
// element yields an empty selection and no error.
func (r rule) find(root *goquery.Selection) (*goquery.Selection, error) {
	sel := root.Find(r.selector).First()
	if sel.Length() == 0 && r.required {
		return sel, errNotFound
	}
	return sel, nil
}

var parenthesised = regexp.MustCompile(`\(([^()]*)\)`)

// commentCount reads the number in the last parenthesis of text. The source
// omits the count for some articles, which is 0.
func commentCount(text string) (int, string, error) {
	matches := parenthesised.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, "", nil
	}
	raw := matches[len(matches)-1][1]
	n, err := parseCount(raw)
	return n, raw, err
}

// visitCount reads the number after the label colon, e.g. "Просмотров: 1 234".
func visitCount(text string) (int, string, error) {
	raw := text
	if i := strings.LastIndex(text, ":"); i >= 0 {
		raw = text[i+1:]
	}
	n, err := parseCount(raw)
	return n, strings.TrimSpace(raw), err
}

// parseCount strips whitespace used as thousands separators and parses a
// non-negative integer.
func parseCount(raw string) (int, error) {
	digits := strings.Join(strings.Fields(raw), "")
	if digits == "" {
		return 0, errNotCount
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, errNotCount
	}
	return n, nil
}

// cleanText collapses runs of whitespace, including the CR/LF noise inside
// source paragraphs.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func splitTagText(text string) []string {
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = cleanText(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := ParseMode(" Full ")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, m)

	m, err = ParseMode("incremental")
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, m)

	_, err = ParseMode("")
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestParseExtractionPolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseExtractionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ExtractionPolicySkip, p)

	p, err = ParseExtractionPolicy("ABORT")
	require.NoError(t, err)
	assert.Equal(t, ExtractionPolicyAbort, p)

	_, err = ParseExtractionPolicy("retry")
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestTags(t *testing.T) {
	t.Parallel()

	a := Article{Tags: []string{"Арсенал", "Челси"}}
	assert.Equal(t, "Арсенал, Челси", a.TagsString())
	assert.Equal(t, a.Tags, SplitTags(a.TagsString()))
	assert.Nil(t, SplitTags("  "))
	assert.Equal(t, []string{"a", "b"}, SplitTags("a,, b ,"))
}

func TestKeySet(t *testing.T) {
	t.Parallel()

	var empty KeySet
	assert.False(t, empty.Has("1"))

	s := NewKeySet("1", "2")
	s.Add("3")
	assert.True(t, s.Has("3"))
	assert.Len(t, s, 3)
}

func TestResultOrdered(t *testing.T) {
	t.Parallel()

	r := Result{
		Articles: map[string]Article{"a": {ID: "a"}, "b": {ID: "b"}},
		Order:    []string{"b", "a"},
	}
	got := r.Ordered()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
}

func TestListingURL(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseURL: DefaultBaseURL}
	first, err := cfg.ListingURL(0)
	require.NoError(t, err)
	assert.Equal(t, "http://fapl.ru/news/", first)

	next, err := cfg.ListingURL(40)
	require.NoError(t, err)
	assert.Equal(t, "http://fapl.ru/news/?skip=40", next)
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	extractErr := &ExtractionError{URL: "http://x/1/", Field: "visits", Value: "n/a"}
	assert.ErrorIs(t, extractErr, ErrExtraction)
	assert.Equal(t, `extract "visits" from http://x/1/ (value "n/a")`, extractErr.Error())

	fetchErr := &FetchError{URL: "http://x/", Attempts: 3}
	assert.ErrorIs(t, fetchErr, ErrTransientNetwork)
	assert.NotErrorIs(t, fetchErr, ErrExtraction)
}

package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-ingest/internal/crawler"
	"github.com/JakeFAU/news-ingest/internal/storage/memory"
)

type mockStore struct {
	mock.Mock
	crawler.ArticleStore
}

func (m *mockStore) ListArticles(ctx context.Context, table string) ([]crawler.Article, error) {
	args := m.Called(ctx, table)
	articles, _ := args.Get(0).([]crawler.Article)
	return articles, args.Error(1)
}

func TestExportWritesCSV(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("ListArticles", mock.Anything, "fapl_news").Return([]crawler.Article{
		{
			ID:           "1002",
			Header:       "Арсенал обыграл Челси",
			Content:      "Первый абзац, с запятой.",
			PublishedAt:  time.Date(2024, time.January, 5, 21, 15, 0, 0, time.UTC),
			VisitCount:   1234,
			CommentCount: 12,
			Tags:         []string{"Арсенал", "Челси"},
		},
		{ID: "1001", Header: "Второй", PublishedAt: time.Date(2024, time.January, 4, 9, 0, 0, 0, time.UTC)},
	}, nil)
	blobs := memory.NewBlobStore()

	summary, err := New(store, blobs, nil).Export(context.Background(), "fapl_news", "exports/news.csv")
	require.NoError(t, err)
	assert.Equal(t, "memory://exports/news.csv", summary.URI)
	assert.Equal(t, 2, summary.Rows)

	body, ok := blobs.Object("exports/news.csv")
	require.True(t, ok)
	digest := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(digest[:]), summary.SHA256)

	var rows []*ArticleRow
	require.NoError(t, gocsv.UnmarshalBytes(body, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "1002", rows[0].ID)
	assert.Equal(t, "Первый абзац, с запятой.", rows[0].Content)
	assert.Equal(t, "2024-01-05 21:15:00", rows[0].Time)
	assert.Equal(t, 1234, rows[0].Visits)
	assert.Equal(t, "Арсенал, Челси", rows[0].Tags)
	assert.Equal(t, "1001", rows[1].ID)
	store.AssertExpectations(t)
}

func TestExportPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("ListArticles", mock.Anything, "fapl_news").Return(nil, crawler.ErrPersistence)

	_, err := New(store, memory.NewBlobStore(), nil).Export(context.Background(), "fapl_news", "x.csv")
	require.True(t, errors.Is(err, crawler.ErrPersistence))
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, time.March, 9, 8, 7, 6, 0, time.FixedZone("MSK", 3*60*60))
	assert.Equal(t, "fapl_news-20240309T050706Z.csv", DefaultPath("fapl_news", at))
}

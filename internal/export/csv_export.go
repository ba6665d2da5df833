// Package export writes stored articles to CSV in a blob store.
package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-ingest/internal/crawler"
)

// TimeLayout formats the publication time column.
const TimeLayout = "2006-01-02 15:04:05"

// ArticleRow is one CSV line. Column names follow the table schema.
type ArticleRow struct {
	ID       string `csv:"post_id"`
	Header   string `csv:"header"`
	Content  string `csv:"content"`
	Time     string `csv:"time"`
	Visits   int    `csv:"post_visits"`
	Comments int    `csv:"post_comments"`
	Tags     string `csv:"post_tags"`
}

// Summary describes a finished export.
type Summary struct {
	URI  string
	Rows int
	// SHA256 is the hex digest of the written CSV.
	SHA256 string
}

// Exporter reads a table and writes it as CSV.
type Exporter struct {
	store  crawler.ArticleStore
	blobs  crawler.BlobStore
	logger *zap.Logger
}

// New wires an Exporter.
func New(store crawler.ArticleStore, blobs crawler.BlobStore, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: store, blobs: blobs, logger: logger}
}

// Export dumps every article in table to path, newest first.
func (e *Exporter) Export(ctx context.Context, table, path string) (Summary, error) {
	articles, err := e.store.ListArticles(ctx, table)
	if err != nil {
		return Summary{}, err
	}
	rows := make([]*ArticleRow, 0, len(articles))
	for _, a := range articles {
		rows = append(rows, toRow(a))
	}

	body, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return Summary{}, fmt.Errorf("encode csv: %w", err)
	}
	uri, err := e.blobs.PutObject(ctx, path, "text/csv; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		return Summary{}, fmt.Errorf("write export %s: %w", path, err)
	}

	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])
	e.logger.Info("export written",
		zap.String("table", table),
		zap.String("uri", uri),
		zap.Int("rows", len(rows)),
		zap.String("sha256", digest),
	)
	return Summary{URI: uri, Rows: len(rows), SHA256: digest}, nil
}

// DefaultPath names an export file after the table and the export time.
func DefaultPath(table string, now time.Time) string {
	return fmt.Sprintf("%s-%s.csv", table, now.UTC().Format("20060102T150405Z"))
}

func toRow(a crawler.Article) *ArticleRow {
	return &ArticleRow{
		ID:       a.ID,
		Header:   a.Header,
		Content:  a.Content,
		Time:     a.PublishedAt.Format(TimeLayout),
		Visits:   a.VisitCount,
		Comments: a.CommentCount,
		Tags:     a.TagsString(),
	}
}

// Package boltstore provides a single-file article store backed by bbolt, for
// running the ingester without a database server.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/JakeFAU/news-ingest/internal/crawler"
)

// ArticleStore keeps one bucket per table, keyed by article id with JSON values.
type ArticleStore struct {
	db *bolt.DB
}

var _ crawler.ArticleStore = (*ArticleStore)(nil)

// Open creates or opens the database file at path.
func Open(path string) (*ArticleStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: store.bolt.path is required", crawler.ErrConfiguration)
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: create storage directory: %w", crawler.ErrPersistence, err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open bbolt db: %w", crawler.ErrPersistence, err)
	}
	return &ArticleStore{db: db}, nil
}

// Close closes the database file.
func (s *ArticleStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// EnsureTable creates the bucket for table.
func (s *ArticleStore) EnsureTable(ctx context.Context, table string) error {
	if err := check(ctx, table); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(table))
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: create bucket %s: %w", crawler.ErrPersistence, table, err)
	}
	return nil
}

// ExistingIDs returns every key in the table bucket.
func (s *ArticleStore) ExistingIDs(ctx context.Context, table string) (crawler.KeySet, error) {
	if err := check(ctx, table); err != nil {
		return nil, err
	}
	ids := crawler.NewKeySet()
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket, err := lookup(tx, table)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, _ []byte) error {
			ids.Add(string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read ids: %w", crawler.ErrPersistence, err)
	}
	return ids, nil
}

// RecentIDs returns the ids of the newest limit articles by publication time.
func (s *ArticleStore) RecentIDs(ctx context.Context, table string, limit int) (crawler.KeySet, error) {
	if limit <= 0 {
		return s.ExistingIDs(ctx, table)
	}
	articles, err := s.ListArticles(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(articles) > limit {
		articles = articles[:limit]
	}
	ids := crawler.NewKeySet()
	for _, a := range articles {
		ids.Add(a.ID)
	}
	return ids, nil
}

// InsertNew writes articles whose id is not yet in the bucket, in one
// transaction.
func (s *ArticleStore) InsertNew(ctx context.Context, table string, articles map[string]crawler.Article) (crawler.InsertResult, error) {
	var result crawler.InsertResult
	if err := check(ctx, table); err != nil {
		return result, err
	}
	if len(articles) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(articles))
	for id := range articles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := lookup(tx, table)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if bucket.Get([]byte(id)) != nil {
				result.Skipped = append(result.Skipped, id)
				continue
			}
			a := articles[id]
			a.ID = id
			value, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("encode article %s: %w", id, err)
			}
			if err := bucket.Put([]byte(id), value); err != nil {
				return fmt.Errorf("put article %s: %w", id, err)
			}
			result.Inserted = append(result.Inserted, id)
		}
		return nil
	})
	if err != nil {
		return crawler.InsertResult{}, fmt.Errorf("%w: insert: %w", crawler.ErrPersistence, err)
	}
	return result, nil
}

// ListArticles returns every article, newest first.
func (s *ArticleStore) ListArticles(ctx context.Context, table string) ([]crawler.Article, error) {
	if err := check(ctx, table); err != nil {
		return nil, err
	}
	var out []crawler.Article
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket, err := lookup(tx, table)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, v []byte) error {
			var a crawler.Article
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("decode article %s: %w", k, err)
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list articles: %w", crawler.ErrPersistence, err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func lookup(tx *bolt.Tx, table string) (*bolt.Bucket, error) {
	bucket := tx.Bucket([]byte(table))
	if bucket == nil {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	return bucket, nil
}

func check(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(table) == "" {
		return fmt.Errorf("%w: table name is required", crawler.ErrConfiguration)
	}
	return nil
}

// Package postgres provides the Postgres-backed article store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/news-ingest/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// ArticleStore persists articles keyed by post_id.
type ArticleStore struct {
	pool pool
}

var _ crawler.ArticleStore = (*ArticleStore)(nil)

// NewArticleStore connects a pool using the provided config.
func NewArticleStore(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: store.postgres.dsn is required", crawler.ErrConfiguration)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: parse postgres dsn: %w", crawler.ErrConfiguration, err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %w", crawler.ErrPersistence, err)
	}
	return &ArticleStore{pool: p}, nil
}

// NewArticleStoreWithPool wraps an existing pool (primarily for testing).
func NewArticleStoreWithPool(p pool) (*ArticleStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ArticleStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureTable creates the article table when missing.
func (s *ArticleStore) EnsureTable(ctx context.Context, table string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	post_id VARCHAR(255) PRIMARY KEY,
	header TEXT NOT NULL,
	content TEXT NOT NULL,
	"time" TIMESTAMP NOT NULL,
	post_visits INTEGER NOT NULL,
	post_comments INTEGER NOT NULL,
	post_tags TEXT NOT NULL
)`, table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("%w: create table %s: %w", crawler.ErrPersistence, table, err)
	}
	return nil
}

// ExistingIDs returns every persisted post_id.
func (s *ArticleStore) ExistingIDs(ctx context.Context, table string) (crawler.KeySet, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return s.queryIDs(ctx, fmt.Sprintf(`SELECT post_id FROM %s`, table))
}

// RecentIDs returns the ids of the newest limit articles by publication time.
func (s *ArticleStore) RecentIDs(ctx context.Context, table string, limit int) (crawler.KeySet, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return s.ExistingIDs(ctx, table)
	}
	query := fmt.Sprintf(`SELECT post_id FROM %s ORDER BY "time" DESC LIMIT $1`, table)
	return s.queryIDs(ctx, query, limit)
}

func (s *ArticleStore) queryIDs(ctx context.Context, query string, args ...any) (crawler.KeySet, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query ids: %w", crawler.ErrPersistence, err)
	}
	defer rows.Close()

	ids := crawler.NewKeySet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan id: %w", crawler.ErrPersistence, err)
		}
		ids.Add(id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate ids: %w", crawler.ErrPersistence, err)
	}
	return ids, nil
}

// InsertNew writes the articles in one transaction, in id order. Rows whose
// post_id already exists are left untouched and reported as skipped.
func (s *ArticleStore) InsertNew(ctx context.Context, table string, articles map[string]crawler.Article) (crawler.InsertResult, error) {
	var result crawler.InsertResult
	if err := checkTable(table); err != nil {
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

	query := fmt.Sprintf(`
INSERT INTO %s (post_id, header, content, "time", post_visits, post_comments, post_tags)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (post_id) DO NOTHING`, table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: begin insert: %w", crawler.ErrPersistence, err)
	}
	for _, id := range ids {
		a := articles[id]
		tag, err := tx.Exec(ctx, query,
			id,
			a.Header,
			a.Content,
			a.PublishedAt,
			a.VisitCount,
			a.CommentCount,
			a.TagsString(),
		)
		if err != nil {
			_ = tx.Rollback(ctx)
			return crawler.InsertResult{}, fmt.Errorf("%w: insert article %s: %w", crawler.ErrPersistence, id, err)
		}
		if tag.RowsAffected() == 0 {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		result.Inserted = append(result.Inserted, id)
	}
	if err := tx.Commit(ctx); err != nil {
		return crawler.InsertResult{}, fmt.Errorf("%w: commit insert: %w", crawler.ErrPersistence, err)
	}
	return result, nil
}

// ListArticles returns every article, newest first.
func (s *ArticleStore) ListArticles(ctx context.Context, table string) ([]crawler.Article, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT post_id, header, content, "time", post_visits, post_comments, post_tags
FROM %s
ORDER BY "time" DESC, post_id DESC`, table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list articles: %w", crawler.ErrPersistence, err)
	}
	defer rows.Close()

	var out []crawler.Article
	for rows.Next() {
		var (
			a    crawler.Article
			tags string
		)
		if err := rows.Scan(&a.ID, &a.Header, &a.Content, &a.PublishedAt, &a.VisitCount, &a.CommentCount, &tags); err != nil {
			return nil, fmt.Errorf("%w: scan article: %w", crawler.ErrPersistence, err)
		}
		a.Tags = crawler.SplitTags(tags)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate articles: %w", crawler.ErrPersistence, err)
	}
	return out, nil
}

func checkTable(table string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("%w: invalid table name %q", crawler.ErrConfiguration, table)
	}
	return nil
}

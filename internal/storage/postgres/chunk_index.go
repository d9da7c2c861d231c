// Package postgres provides a Postgres-backed chunk index ranked with
// full-text search.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/JakeFAU/disclosure-miner/internal/crawler"
	"github.com/JakeFAU/disclosure-miner/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	insertChunkSQL = `
INSERT INTO document_chunks (collection, id, url, doc_type, ordinal, body)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (collection, id) DO NOTHING`

	countChunksSQL = `SELECT count(*) FROM document_chunks WHERE collection = $1`

	rankChunksSQL = `
SELECT url, doc_type, body, ts_rank_cd(tsv, to_tsquery('simple', $2))::float8 AS rank
FROM document_chunks
WHERE collection = $1
ORDER BY rank DESC, seq
LIMIT $3`

	listChunksSQL = `
SELECT url, doc_type, body, 0::float8 AS rank
FROM document_chunks
WHERE collection = $1
ORDER BY seq
LIMIT $2`

	deleteChunksSQL = `DELETE FROM document_chunks WHERE collection = $1`
)

// Config controls the Postgres connection pool used by the chunk index.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ChunkWords      int
	// Migrate applies the embedded goose migrations on startup.
	Migrate bool
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ChunkIndex stores chunks in the document_chunks table. Retrieval ranks
// chunks with ts_rank_cd against an OR query of the question's terms;
// distance is 1/(1+rank).
type ChunkIndex struct {
	pool  pool
	words int
}

// New connects to Postgres, optionally migrates, and returns a ChunkIndex.
func New(ctx context.Context, cfg Config) (*ChunkIndex, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("index.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
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
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Migrate {
		if err := Migrate(ctx, p); err != nil {
			p.Close()
			return nil, err
		}
	}
	return NewWithPool(p, cfg.ChunkWords)
}

// NewWithPool constructs an index from an existing pool (primarily for testing).
func NewWithPool(p pool, words int) (*ChunkIndex, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if words <= 0 {
		words = storage.DefaultChunkWords
	}
	return &ChunkIndex{pool: p, words: words}, nil
}

// Migrate applies the embedded migrations through a database/sql handle
// borrowed from the pool.
func Migrate(ctx context.Context, p *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(p)
	defer func() { _ = db.Close() }()
	return migrateDB(ctx, db)
}

func migrateDB(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (c *ChunkIndex) Close() {
	if c == nil || c.pool == nil {
		return
	}
	c.pool.Close()
}

// Index inserts the documents' chunks in one transaction.
func (c *ChunkIndex) Index(ctx context.Context, collection string, docs []crawler.Document) (int, int, error) {
	chunks := storage.SplitDocuments(docs, c.words)
	added := 0
	if len(chunks) > 0 {
		tx, err := c.pool.Begin(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("begin index tx: %w", err)
		}
		for _, ch := range chunks {
			tag, err := tx.Exec(ctx, insertChunkSQL,
				collection, ch.ID, ch.URL, string(ch.Type), ch.Ordinal, ch.Text)
			if err != nil {
				return 0, 0, errors.Join(fmt.Errorf("insert chunk: %w", err), tx.Rollback(ctx))
			}
			added += int(tag.RowsAffected())
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, 0, fmt.Errorf("commit index tx: %w", err)
		}
	}
	var total int64
	if err := c.pool.QueryRow(ctx, countChunksSQL, collection).Scan(&total); err != nil {
		return added, 0, fmt.Errorf("count chunks: %w", err)
	}
	return added, int(total), nil
}

// Retrieve ranks the collection's chunks against the query.
func (c *ChunkIndex) Retrieve(ctx context.Context, collection string, query string, k int) ([]storage.Hit, error) {
	k = storage.ClampK(k)
	var (
		rows pgx.Rows
		err  error
	)
	if terms := storage.Terms(query); len(terms) > 0 {
		rows, err = c.pool.Query(ctx, rankChunksSQL, collection, strings.Join(terms, " | "), k)
	} else {
		rows, err = c.pool.Query(ctx, listChunksSQL, collection, k)
	}
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var hits []storage.Hit
	for rows.Next() {
		var (
			hit     storage.Hit
			docType string
			rank    float64
		)
		if err := rows.Scan(&hit.URL, &docType, &hit.Text, &rank); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		hit.Type = crawler.DocType(docType)
		hit.Distance = 1 / (1 + rank)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return hits, nil
}

// Reset deletes every chunk of the collection.
func (c *ChunkIndex) Reset(ctx context.Context, collection string) error {
	if _, err := c.pool.Exec(ctx, deleteChunksSQL, collection); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

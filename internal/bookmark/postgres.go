package bookmark

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores bookmarks in a shared database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and creates the table when missing.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS readaloud_bookmarks (
		doc_id     TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		source     TEXT NOT NULL DEFAULT '',
		chunk      INTEGER NOT NULL,
		chunks     INTEGER NOT NULL,
		progress   DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init bookmark schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Save(ctx context.Context, b Bookmark) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO readaloud_bookmarks (doc_id, title, source, chunk, chunks, progress, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (doc_id) DO UPDATE SET
			title=EXCLUDED.title,
			source=EXCLUDED.source,
			chunk=EXCLUDED.chunk,
			chunks=EXCLUDED.chunks,
			progress=EXCLUDED.progress,
			updated_at=EXCLUDED.updated_at`,
		b.DocID, b.Title, b.Source, b.Chunk, b.Chunks, b.Progress, b.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save bookmark: %w", err)
	}
	return nil
}

const pgColumns = `doc_id, title, source, chunk, chunks, progress, updated_at`

func (s *Postgres) Get(ctx context.Context, docID string) (Bookmark, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM readaloud_bookmarks WHERE doc_id = $1`, docID)
	b, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bookmark{}, ErrNotFound
	}
	return b, err
}

func (s *Postgres) List(ctx context.Context, limit int) ([]Bookmark, error) {
	q := `SELECT ` + pgColumns + ` FROM readaloud_bookmarks ORDER BY updated_at DESC, doc_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		b, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Postgres) Delete(ctx context.Context, docID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM readaloud_bookmarks WHERE doc_id = $1`, docID); err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (Bookmark, error) {
	var b Bookmark
	if err := row.Scan(&b.DocID, &b.Title, &b.Source, &b.Chunk, &b.Chunks, &b.Progress, &b.UpdatedAt); err != nil {
		return Bookmark{}, err
	}
	return b, nil
}

package bookmark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTime sorts lexically in UTC.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLite stores bookmarks in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bookmark dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS bookmarks (
			doc_id     TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			source     TEXT NOT NULL DEFAULT '',
			chunk      INTEGER NOT NULL,
			chunks     INTEGER NOT NULL,
			progress   REAL NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init bookmark schema: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Save(ctx context.Context, b Bookmark) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bookmarks (doc_id, title, source, chunk, chunks, progress, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (doc_id) DO UPDATE SET
			title=excluded.title,
			source=excluded.source,
			chunk=excluded.chunk,
			chunks=excluded.chunks,
			progress=excluded.progress,
			updated_at=excluded.updated_at`,
		b.DocID, b.Title, b.Source, b.Chunk, b.Chunks, b.Progress,
		b.UpdatedAt.UTC().Format(sqliteTime),
	)
	if err != nil {
		return fmt.Errorf("save bookmark: %w", err)
	}
	return nil
}

const sqliteColumns = `doc_id, title, source, chunk, chunks, progress, updated_at`

func (s *SQLite) Get(ctx context.Context, docID string) (Bookmark, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM bookmarks WHERE doc_id = ?`, docID)
	b, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Bookmark{}, ErrNotFound
	}
	return b, err
}

func (s *SQLite) List(ctx context.Context, limit int) ([]Bookmark, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM bookmarks ORDER BY updated_at DESC, doc_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		b, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, docID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(sc scanner) (Bookmark, error) {
	var (
		b       Bookmark
		updated string
	)
	if err := sc.Scan(&b.DocID, &b.Title, &b.Source, &b.Chunk, &b.Chunks, &b.Progress, &updated); err != nil {
		return Bookmark{}, err
	}
	t, err := time.Parse(sqliteTime, updated)
	if err != nil {
		return Bookmark{}, fmt.Errorf("parse updated_at: %w", err)
	}
	b.UpdatedAt = t
	return b, nil
}

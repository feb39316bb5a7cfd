// Package bookmark remembers where listening stopped in each document.
package bookmark

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ErrNotFound is returned when a document has no bookmark.
var ErrNotFound = errors.New("bookmark not found")

// Bookmark is a saved position.
type Bookmark struct {
	DocID     string    `toml:"doc_id" json:"docId"`
	Title     string    `toml:"title" json:"title"`
	Source    string    `toml:"source" json:"source"`
	Chunk     int       `toml:"chunk" json:"chunk"`
	Chunks    int       `toml:"chunks" json:"chunks"`
	Progress  float64   `toml:"progress" json:"progress"`
	UpdatedAt time.Time `toml:"updated_at" json:"updatedAt"`
}

// DocID identifies a document by its normalized text.
func DocID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

// Store persists bookmarks, one per document.
type Store interface {
	Save(ctx context.Context, b Bookmark) error
	Get(ctx context.Context, docID string) (Bookmark, error)
	// List returns the most recently updated bookmarks first. A limit of
	// zero or less returns all of them.
	List(ctx context.Context, limit int) ([]Bookmark, error)
	Delete(ctx context.Context, docID string) error
	Close() error
}

// Open picks a store from dsn: empty for memory, a postgres:// URL for
// Postgres, anything else as a SQLite path (an optional sqlite:// prefix is
// stripped).
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	}
	return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
}

type tomlFile struct {
	Bookmarks []Bookmark `toml:"bookmark"`
}

// ExportTOML writes bookmarks as an array of [[bookmark]] tables.
func ExportTOML(w io.Writer, bs []Bookmark) error {
	return toml.NewEncoder(w).Encode(tomlFile{Bookmarks: bs})
}

// ImportTOML reads what ExportTOML wrote.
func ImportTOML(r io.Reader) ([]Bookmark, error) {
	var f tomlFile
	if err := toml.NewDecoder(r).Decode(&f); err != nil {
		return nil, err
	}
	return f.Bookmarks, nil
}

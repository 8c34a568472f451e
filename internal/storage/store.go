package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle that records what the client saved to disk.
type Store struct {
	db *sql.DB
}

// Download is a row in the downloads table: one image or file the user saved
// out of a chat room.
type Download struct {
	ID        string
	Room      string
	Author    string
	Path      string
	SizeBytes int64
	SHA256    string
	SavedAt   time.Time
}

// ErrDuplicateDownload is returned when the same path is recorded twice.
var ErrDuplicateDownload = errors.New("download already recorded")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "roomchat.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) (err error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS downloads (
			id TEXT PRIMARY KEY,
			room TEXT NOT NULL,
			author TEXT NOT NULL,
			path TEXT NOT NULL UNIQUE,
			size_bytes INTEGER NOT NULL,
			sha256 TEXT NOT NULL,
			saved_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS downloads_saved_at ON downloads(saved_at DESC);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordDownload inserts d, assigning an ID and timestamp when missing.
func (s *Store) RecordDownload(ctx context.Context, d Download) (Download, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.SavedAt.IsZero() {
		d.SavedAt = time.Now()
	}
	d.SavedAt = d.SavedAt.UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO downloads(id, room, author, path, size_bytes, sha256, saved_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Room, d.Author, d.Path, d.SizeBytes, d.SHA256, d.SavedAt)
	if err != nil {
		if isConstraintError(err) {
			return Download{}, ErrDuplicateDownload
		}
		return Download{}, err
	}
	return d, nil
}

// ListDownloads returns up to limit records, newest first.
func (s *Store) ListDownloads(ctx context.Context, limit int) ([]Download, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room, author, path, size_bytes, sha256, saved_at FROM downloads ORDER BY saved_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var downloads []Download
	for rows.Next() {
		var d Download
		if err := rows.Scan(&d.ID, &d.Room, &d.Author, &d.Path, &d.SizeBytes, &d.SHA256, &d.SavedAt); err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// GetDownload looks a record up by ID. A missing record yields (nil, nil).
func (s *Store) GetDownload(ctx context.Context, id string) (*Download, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, room, author, path, size_bytes, sha256, saved_at FROM downloads WHERE id = ?`, id)
	var d Download
	if err := row.Scan(&d.ID, &d.Room, &d.Author, &d.Path, &d.SizeBytes, &d.SHA256, &d.SavedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}

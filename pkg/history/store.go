// Package history keeps a SQLite log of finished requests.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"sync"
	"time"

	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"

	"github.com/menta2k/image-narrator/pkg/orchestrator"
)

//go:embed schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

// DefaultLimit is used by Recent when no positive limit is given
const DefaultLimit = 20

// Entry is one recorded request
type Entry struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	Mode        string    `json:"mode"`
	Backend     string    `json:"backend"`
	Kind        string    `json:"kind"`
	Description string    `json:"description,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ImageName   string    `json:"image_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

var _ orchestrator.Recorder = (*Store)(nil)

// Open opens or creates the history database at path. ":memory:" gives a
// private in-memory store.
func Open(ctx context.Context, path string) (*Store, error) {
	sqldb, err := sql.Open("sqlite", path+"?_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	// One connection: every :memory: connection is a separate database
	sqldb.SetMaxOpenConns(1)

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	if err := schema.Apply(ctx, sqldb); err != nil {
		sqldb.Close()
		return nil, err
	}
	return &Store{db: sqldb}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Record stores a finished request
func (s *Store) Record(ctx context.Context, e orchestrator.Event) error {
	if e.Outcome == nil {
		return errors.New("history: event without outcome")
	}
	entry := Entry{
		RequestID: e.Outcome.ID(),
		Mode:      e.Mode.String(),
		Backend:   e.Backend,
		Kind:      e.Outcome.Kind(),
		CreatedAt: e.CreatedAt,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	switch o := e.Outcome.(type) {
	case *orchestrator.Success:
		entry.Description = o.Description
		if o.Image != nil {
			entry.ImageName = o.Image.Name
		}
	case *orchestrator.AnalysisFailed:
		if o.Reason != nil {
			entry.ErrorKind = o.Reason.Kind.String()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO requests
		(request_id, mode, backend, kind, description, error_kind, image_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.Mode, entry.Backend, entry.Kind,
		nullString(entry.Description), nullString(entry.ErrorKind), nullString(entry.ImageName),
		entry.CreatedAt)
	return err
}

// Recent returns up to limit entries, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT
			id, request_id, mode, backend, kind, description, error_kind, image_name, created_at
		FROM requests
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var description, errorKind, imageName sql.NullString
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Mode, &e.Backend, &e.Kind,
			&description, &errorKind, &imageName, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Description, e.ErrorKind, e.ImageName = description.String, errorKind.String, imageName.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

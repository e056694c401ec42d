// Package activity persists a bounded log of daemon lifecycle events in
// SQLite. The model manager and the scheduler both record through it, and the
// API exposes the log for inspection.
package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

// defaultRetain is the number of events kept when no retention is
// configured.
const defaultRetain = 1000

// Event is one recorded daemon event.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`
	// Kind classifies the event, e.g. "import", "runner" or "evict".
	Kind string `json:"kind"`
	// Subject names what the event happened to, typically an artifact tag or
	// a runner name.
	Subject string `json:"subject"`
	// Detail carries kind-specific context.
	Detail string `json:"detail,omitempty"`
	// At is when the event was recorded.
	At time.Time `json:"at"`
}

// Options configure a store.
type Options struct {
	// Path is the SQLite database path. An empty path keeps events in
	// memory.
	Path string
	// Retain caps how many events are kept. Defaults to defaultRetain.
	Retain int
	// Log is the associated logger.
	Log logging.Logger
}

// Store is a SQLite-backed activity log.
type Store struct {
	log    logging.Logger
	db     *sql.DB
	retain int
	router *http.ServeMux
}

// Open opens the activity log, creating its schema as needed.
func Open(opts Options) (*Store, error) {
	path := opts.Path
	if path == "" {
		path = ":memory:"
	}
	retain := opts.Retain
	if retain <= 0 {
		retain = defaultRetain
	}
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		log:    log,
		db:     db,
		retain: retain,
		router: http.NewServeMux(),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	s.router.HandleFunc("GET /v1/activity", s.handleGetEvents)

	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  subject TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS events_kind ON events(kind);
`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements the event recorder interfaces used by the model manager
// and the scheduler. Recording failures are logged and never propagate to
// the recorded operation.
func (s *Store) Record(ctx context.Context, kind, subject, detail string) {
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO events(id, kind, subject, detail, at)
VALUES(?, ?, ?, ?, ?);
`, uuid.NewString(), kind, subject, detail, time.Now().UTC()); err != nil {
		s.log.Warnf("Unable to record %s event: %v", kind, err)
		return
	}
	if _, err := s.db.ExecContext(ctx, `
DELETE FROM events WHERE rowid NOT IN (SELECT rowid FROM events ORDER BY rowid DESC LIMIT ?);
`, s.retain); err != nil {
		s.log.Warnf("Unable to prune activity log: %v", err)
	}
}

// ListOptions filter an activity listing.
type ListOptions struct {
	// Kind restricts results to one event kind.
	Kind string
	// Limit caps the number of returned events. Zero means no cap beyond
	// the store's retention.
	Limit int
}

// List returns recorded events, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Event, error) {
	query := "SELECT id, kind, subject, detail, at FROM events"
	var args []any
	if opts.Kind != "" {
		query += " WHERE kind=?"
		args = append(args, opts.Kind)
	}
	query += " ORDER BY rowid DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var event Event
		if err := rows.Scan(&event.ID, &event.Kind, &event.Subject, &event.Detail, &event.At); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// handleGetEvents handles GET /v1/activity requests.
func (s *Store) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	opts := ListOptions{Kind: r.URL.Query().Get("kind")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}

	events, err := s.List(r.Context(), opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.log.Warnln("Error while encoding activity response:", err)
	}
}

// ServeHTTP implements net/http.Handler.ServeHTTP.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Package auth issues and verifies API keys for the daemon's TCP surface.
// Keys are random bearer secrets; only their SHA-256 hashes are stored, so a
// lost secret cannot be recovered, only replaced.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

// ErrKeyNotFound indicates a request that names an unknown API key.
var ErrKeyNotFound = errors.New("api key not found")

// Key describes one issued API key. The secret itself is never stored.
type Key struct {
	// ID uniquely identifies the key.
	ID string `json:"id"`
	// Name is the caller-supplied key label.
	Name string `json:"name"`
	// Prefix is the first few characters of the secret, for display.
	Prefix string `json:"prefix"`
	// Created is when the key was issued.
	Created time.Time `json:"created"`
	// LastUsed is when the key last authenticated a request, if ever.
	LastUsed *time.Time `json:"last_used,omitempty"`
}

// CreatedKey is the one-time response to key creation, carrying the
// plaintext secret.
type CreatedKey struct {
	Key
	// Secret is the bearer secret. It is returned exactly once.
	Secret string `json:"secret"`
}

// Options configure a store.
type Options struct {
	// Path is the SQLite database path. An empty path keeps keys in memory.
	Path string
	// Log is the associated logger.
	Log logging.Logger
}

// Store is a SQLite-backed API key store.
type Store struct {
	log    logging.Logger
	db     *sql.DB
	router *http.ServeMux
}

// Open opens the key store, creating its schema as needed.
func Open(opts Options) (*Store, error) {
	path := opts.Path
	if path == "" {
		path = ":memory:"
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
		router: http.NewServeMux(),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	s.router.HandleFunc("GET /v1/auth/keys", s.handleGetKeys)
	s.router.HandleFunc("POST /v1/auth/keys", s.handleCreateKey)
	s.router.HandleFunc("DELETE /v1/auth/keys/{id}", s.handleDeleteKey)

	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS api_keys (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  prefix TEXT NOT NULL,
  hashed_key TEXT NOT NULL UNIQUE,
  created_at DATETIME NOT NULL,
  last_used_at DATETIME
);
`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func hashKey(key string) string {
	digest := sha256.Sum256([]byte(key))
	return hex.EncodeToString(digest[:])
}

// CreateKey mints a new API key. The plaintext secret is returned once and
// only its hash is stored.
func (s *Store) CreateKey(ctx context.Context, name string) (*CreatedKey, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	secret := "sk-" + hex.EncodeToString(raw)

	key := Key{
		ID:      uuid.NewString(),
		Name:    name,
		Prefix:  secret[:7],
		Created: time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO api_keys(id, name, prefix, hashed_key, created_at)
VALUES(?, ?, ?, ?, ?);
`, key.ID, key.Name, key.Prefix, hashKey(secret), key.Created); err != nil {
		return nil, err
	}

	return &CreatedKey{Key: key, Secret: secret}, nil
}

// Keys returns all issued keys, newest first.
func (s *Store) Keys(ctx context.Context) ([]*Key, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, prefix, created_at, last_used_at
FROM api_keys ORDER BY created_at DESC, id DESC;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []*Key{}
	for rows.Next() {
		var key Key
		if err := rows.Scan(&key.ID, &key.Name, &key.Prefix, &key.Created, &key.LastUsed); err != nil {
			return nil, err
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

// DeleteKey revokes a key by ID.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id=?;", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// lookup resolves a hashed secret to its key record.
func (s *Store) lookup(ctx context.Context, hashedKey string) (*Key, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, prefix, created_at, last_used_at
FROM api_keys WHERE hashed_key=?;
`, hashedKey)
	var key Key
	err := row.Scan(&key.ID, &key.Name, &key.Prefix, &key.Created, &key.LastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &key, true, nil
}

// touch records a key's use.
func (s *Store) touch(ctx context.Context, id string) {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at=? WHERE id=?;", time.Now().UTC(), id,
	); err != nil {
		s.log.Warnf("Unable to update key usage time: %v", err)
	}
}

// Middleware enforces bearer key authentication on requests passing through
// it.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		scheme, secret, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			http.Error(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}

		key, ok, err := s.lookup(r.Context(), hashKey(secret))
		if err != nil {
			s.log.Warnf("Unable to verify api key: %v", err)
			http.Error(w, "unknown error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}

		// Usage times are best-effort; don't hold up the request.
		go s.touch(context.Background(), key.ID)

		next.ServeHTTP(w, r)
	})
}

// handleCreateKey handles POST /v1/auth/keys requests.
func (s *Store) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if request.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	created, err := s.CreateKey(r.Context(), request.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(created); err != nil {
		s.log.Warnln("Error while encoding key response:", err)
	}
}

// handleGetKeys handles GET /v1/auth/keys requests.
func (s *Store) handleGetKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.Keys(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(keys); err != nil {
		s.log.Warnln("Error while encoding key listing response:", err)
	}
}

// handleDeleteKey handles DELETE /v1/auth/keys/{id} requests.
func (s *Store) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := s.DeleteKey(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeHTTP implements net/http.Handler.ServeHTTP.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

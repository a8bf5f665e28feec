package recordproxy

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Entry is a recorded response.
type Entry struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store holds recorded responses keyed by request.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Key identifies a request in the store.
func Key(r *http.Request) string {
	return r.Method + " " + r.URL.String()
}

// Get returns the entry for key, if any.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Put records e under key, replacing any previous entry.
func (s *Store) Put(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
}

// Len returns the number of recorded entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS responses (
			key     TEXT PRIMARY KEY,
			status  INTEGER NOT NULL,
			headers TEXT NOT NULL,
			body    BLOB
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return db, nil
}

// LoadFile replaces the store's contents with the entries in the cache
// file at path. A missing file leaves the store empty.
func (s *Store) LoadFile(path string) error {
	loaded := make(map[string]Entry)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s.replace(loaded)
		return nil
	}

	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT key, status, headers, body FROM responses`)
	if err != nil {
		return fmt.Errorf("querying responses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key, headers string
			e            Entry
		)
		if err := rows.Scan(&key, &e.Status, &headers, &e.Body); err != nil {
			return fmt.Errorf("scanning response: %w", err)
		}
		if err := json.Unmarshal([]byte(headers), &e.Header); err != nil {
			return fmt.Errorf("decoding headers for %q: %w", key, err)
		}
		loaded[key] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating responses: %w", err)
	}

	s.replace(loaded)
	return nil
}

func (s *Store) replace(m map[string]Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = m
}

// SaveFile writes every entry to the cache file at path, replacing what
// the file held before.
func (s *Store) SaveFile(path string) error {
	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM responses`); err != nil {
		return fmt.Errorf("clearing responses: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, e := range s.entries {
		headers, err := json.Marshal(e.Header)
		if err != nil {
			return fmt.Errorf("encoding headers for %q: %w", key, err)
		}
		_, err = tx.Exec(`INSERT INTO responses (key, status, headers, body) VALUES (?, ?, ?, ?)`,
			key, e.Status, string(headers), e.Body)
		if err != nil {
			return fmt.Errorf("inserting %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing responses: %w", err)
	}
	return nil
}

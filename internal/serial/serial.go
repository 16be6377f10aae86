// Package serial provides a durable, monotonically increasing per-zone
// counter for SOA serials, backed by an embedded chai database so a
// restarted controller never regresses a zone it has already published.
package serial

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/chaisql/chai/driver"
)

// Store is a durable counter keyed by zone name.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the chai database at path and ensures the
// serials table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("chai", path)
	if err != nil {
		return nil, fmt.Errorf("open serial store: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS serials (zone TEXT PRIMARY KEY, value INTEGER)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init serial store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Next returns the next serial for zone, persisting it before returning
// so a crash between Next and use never hands out the same value twice.
func (s *Store) Next(zone string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT value FROM serials WHERE zone = ?`, zone)
	var current int64
	switch err := row.Scan(&current); err {
	case nil:
		current++
		if _, err := s.db.Exec(`UPDATE serials SET value = ? WHERE zone = ?`, current, zone); err != nil {
			return 0, fmt.Errorf("update serial for %s: %w", zone, err)
		}
	case sql.ErrNoRows:
		current = 1
		if _, err := s.db.Exec(`INSERT INTO serials (zone, value) VALUES (?, ?)`, zone, current); err != nil {
			return 0, fmt.Errorf("insert serial for %s: %w", zone, err)
		}
	default:
		return 0, fmt.Errorf("read serial for %s: %w", zone, err)
	}

	return uint32(current), nil
}

// Current returns the most recently handed-out serial for zone without
// advancing it, or 0 if the zone has never been assigned one.
func (s *Store) Current(zone string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT value FROM serials WHERE zone = ?`, zone)
	var current int64
	switch err := row.Scan(&current); err {
	case nil:
		return uint32(current), nil
	case sql.ErrNoRows:
		return 0, nil
	default:
		return 0, fmt.Errorf("read serial for %s: %w", zone, err)
	}
}

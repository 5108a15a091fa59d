package tilecache

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite database holding the persistent cache tier (and,
// for self-contained deployments, the tile store tables the sqlite
// source backend reads). Schema is managed by migrations, not here.
type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the database at path.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Tile resolution is concurrent; WAL avoids writer/reader stalls
	// between cache write-backs and lookups.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}
	return &DB{db}, nil
}

// Store is the persistent cache tier consumed by the resolver. A miss
// is (nil, zero, false, nil); errors are reserved for backend faults.
type Store interface {
	Read(key string) (payload []byte, lastModified time.Time, ok bool, err error)
	Write(key string, payload []byte) error
}

// SQLiteStore implements Store over the tile_cache table.
type SQLiteStore struct {
	db *DB
}

// NewSQLiteStore creates a Store backed by the given database. The
// tile_cache table must already exist (run MigrateUp first).
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Read returns the payload and write time for a cache key.
func (s *SQLiteStore) Read(key string) ([]byte, time.Time, bool, error) {
	var payload []byte
	var modified int64
	err := s.db.QueryRow(
		`SELECT payload, modified_unix_nanos FROM tile_cache WHERE cache_key = ?`, key,
	).Scan(&payload, &modified)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("cache read %q: %w", key, err)
	}
	return payload, time.Unix(0, modified), true, nil
}

// Write upserts a payload under a cache key, refreshing its write time.
func (s *SQLiteStore) Write(key string, payload []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO tile_cache (cache_key, payload, modified_unix_nanos)
		 VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
		   payload = excluded.payload,
		   modified_unix_nanos = excluded.modified_unix_nanos`,
		key, payload, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache write %q: %w", key, err)
	}
	return nil
}

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Schema for the service_calls table. Applied by OpenSQLite.
const Schema = `
CREATE TABLE IF NOT EXISTS service_calls (
	fingerprint TEXT PRIMARY KEY,
	service TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	params TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_service_calls_service ON service_calls(service);
`

// SQLite is a Store persisted in a SQLite database, so cached service
// responses survive across runs.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the cache database at path and
// applies the schema. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Lookup fetches the entry stored under key. Each row's key fields are
// checked against the fingerprint they are filed under; a mismatch means the
// database was modified or corrupted and yields ErrInconsistent.
func (s *SQLite) Lookup(ctx context.Context, key Key) (Entry, bool, error) {
	fp := key.Fingerprint()

	var (
		service, contentHash, params string
		payload                      []byte
		createdAt                    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT service, content_hash, params, payload, created_at
		 FROM service_calls WHERE fingerprint = ?`, fp).
		Scan(&service, &contentHash, &params, &payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache lookup: %w", err)
	}

	stored := Key{Service: service, ContentHash: contentHash, Params: params}
	if stored.Fingerprint() != fp {
		return Entry{}, false, fmt.Errorf("fingerprint %s holds entry for %s/%s: %w",
			fp, service, contentHash, ErrInconsistent)
	}
	if len(payload) == 0 {
		return Entry{}, false, fmt.Errorf("fingerprint %s has empty payload: %w", fp, ErrInconsistent)
	}

	return Entry{Payload: payload, CreatedAt: time.Unix(createdAt, 0).UTC()}, true, nil
}

// Store saves the entry under key, replacing any previous one.
func (s *SQLite) Store(ctx context.Context, key Key, entry Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO service_calls
		 (fingerprint, service, content_hash, params, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key.Fingerprint(), key.Service, key.ContentHash, key.Params,
		entry.Payload, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Count returns the number of cached entries, optionally filtered to one
// service identifier.
func (s *SQLite) Count(ctx context.Context, service string) (int64, error) {
	var n int64
	var err error
	if service == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_calls`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM service_calls WHERE service = ?`, service).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}

// Services lists the distinct service identifiers present in the cache with
// their entry counts.
func (s *SQLite) Services(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service, COUNT(*) FROM service_calls GROUP BY service ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("cache services: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var service string
		var n int64
		if err := rows.Scan(&service, &n); err != nil {
			return nil, fmt.Errorf("cache services: %w", err)
		}
		out[service] = n
	}
	return out, rows.Err()
}

// Clear deletes all cached entries and returns how many were removed.
func (s *SQLite) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM service_calls`)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

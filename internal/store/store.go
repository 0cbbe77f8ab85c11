package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the embedded relational persistence layer (§3, §4.2). It is
// constructed once in main and passed explicitly to every collaborator
// that needs it (§9 "Store ... not global state").
type Store struct {
	db        *sql.DB
	hmacKey   []byte
	path      string
}

// Open creates (if absent) the data directory and database file with
// hardened permissions, applies pending migrations, and returns a ready
// Store. hmacKey signs observation tamper-evidence tags (§4.2 "HMAC").
func Open(path string, hmacKey []byte) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// Ensure the file exists with 0600 before sqlite3 opens it, so no
	// window exists where the file is world-readable.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
		if ferr != nil {
			return nil, fmt.Errorf("creating database file: %w", ferr)
		}
		f.Close()
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_synchronous=NORMAL&_cache_size=-16000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite serializes writers internally; a single connection avoids
	// "database is locked" errors under WAL with concurrent goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, hmacKey: hmacKey, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthStatus mirrors the teacher's database health-check shape
// (pkg/database/health.go), adapted to a single embedded connection.
type HealthStatus struct {
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"response_time_ms"`
	OpenConns    int           `json:"open_connections"`
}

// Health pings the database and reports connection statistics.
func (s *Store) Health() HealthStatus {
	start := time.Now()
	if err := s.db.Ping(); err != nil {
		slog.Warn("store health check failed", "error", err)
		return HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start)}
	}
	stats := s.db.Stats()
	return HealthStatus{
		Status:       "healthy",
		ResponseTime: time.Since(start),
		OpenConns:    stats.OpenConnections,
	}
}

// now returns the current epoch-seconds timestamp used for created_at /
// started_at / completed_at columns.
func now() int64 {
	return time.Now().Unix()
}

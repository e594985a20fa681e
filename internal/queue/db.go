package queue

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/quarrysearch/quarry/internal/errors"
)

// Open opens (creating if needed) the queue database at path and applies
// the pragmas the queue depends on. WAL mode must be set via PRAGMA for
// modernc.org/sqlite; DSN parameters may be ignored.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Internal("queue.Open", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Internal("queue.Open", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Internal("queue.Open", fmt.Errorf("set pragma: %w", err))
		}
	}
	return db, nil
}

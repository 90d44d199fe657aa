package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"herald/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the sqlite store that holds jobs, sessions, suppressions
// and campaign flags. All mutating operations that guard invariants
// (claiming, reservation, dedupe) are expressed as conditional statements
// so they stay atomic under concurrent workers.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
	clock     func() time.Time
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc, clock: time.Now}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SetClock overrides the time source. Used by tests that exercise window
// rollover and warm-up aging.
func (d *Database) SetClock(clock func() time.Time) {
	d.clock = clock
}

func (d *Database) now() time.Time {
	return d.clock().UTC()
}

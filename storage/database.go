package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDBFileName is the client database file inside the data directory.
	DefaultDBFileName = "tutorchat.db"
	// DefaultMaintenanceInterval is how often the WAL is truncated and
	// released preview rows are pruned.
	DefaultMaintenanceInterval = 24 * time.Hour
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS navigation_state (
  state_key   TEXT PRIMARY KEY,
  state_value TEXT NOT NULL,
  updated_at  INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS attachment_previews (
  handle     TEXT PRIMARY KEY,
  path       TEXT NOT NULL,
  file_name  TEXT NOT NULL,
  mime_type  TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_attachment_previews_created_at
ON attachment_previews (created_at, handle);
`,
}

// Store keeps client-local state that must survive restarts: navigation
// state and the registry of attachment preview copies.
type Store struct {
	db *sql.DB

	maintenanceEvery time.Duration
	stop             chan struct{}
	wg               sync.WaitGroup
	closeOnce        sync.Once
}

// Open opens the client database in dataDir, creating the directory and
// schema on first run. It returns the database file path for display.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// OpenPath opens the client database at dbPath.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath)))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{
		db:               db,
		maintenanceEvery: DefaultMaintenanceInterval,
		stop:             make(chan struct{}),
	}
	for _, step := range []func() error{db.Ping, store.useWAL, store.migrate, store.truncateWAL} {
		if err := step(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	store.startMaintenance()

	return store, nil
}

// Close stops background maintenance and closes the database. Calling it
// again is a no-op.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
		s.db = nil
	})
	return err
}

// migrate runs every schema step past PRAGMA user_version in one transaction.
func (s *Store) migrate() error {
	var applied int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&applied); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if applied >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for step := applied + 1; step <= len(migrations); step++ {
		if _, err := tx.Exec(migrations[step-1]); err != nil {
			return fmt.Errorf("apply schema step %d: %w", step, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", step)); err != nil {
			return fmt.Errorf("record schema step %d: %w", step, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func (s *Store) useWAL() error {
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("enable WAL mode: journal mode is %q", mode)
	}
	return nil
}

func (s *Store) truncateWAL() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("truncate WAL: %w", err)
	}
	return nil
}

// startMaintenance truncates the WAL and drops preview rows whose files are
// gone, once per maintenanceEvery, until Close.
func (s *Store) startMaintenance() {
	if s.maintenanceEvery <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.maintenanceEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.truncateWAL()
				_, _ = s.PruneReleasedPreviews()
			case <-s.stop:
				return
			}
		}
	}()
}

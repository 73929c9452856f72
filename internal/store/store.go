package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/taskly/internal/task"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added partial index on active task order
const currentSchemaVersion = 1

// ErrNotFound is returned when a task id does not exist in the store.
var ErrNotFound = errors.New("task not found")

// Store is the local task store.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	now      func() int64
	newID    func() string
	suffix   task.SuffixGenerator
	onChange func()
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the millisecond clock used for updatedAt stamps.
func WithClock(now func() int64) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides task id generation (UUIDv7 by default).
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// WithRevisionSuffix overrides the random part of generated revisions.
func WithRevisionSuffix(gen task.SuffixGenerator) Option {
	return func(s *Store) {
		s.suffix = gen
	}
}

// WithChangeHook registers fn to run after every successful local mutation.
// fn is called after the store lock is released.
func WithChangeHook(fn func()) Option {
	return func(s *Store) {
		s.onChange = fn
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:     db,
		now:    func() int64 { return time.Now().UnixMilli() },
		newID:  task.NewID,
		suffix: task.RandomSuffix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// stamp returns the updatedAt for a local mutation of a row last stamped at
// prev. The result is never behind prev, so a local edit always outranks the
// version it replaced.
func (s *Store) stamp(prev int64) int64 {
	now := s.now()
	if now <= prev {
		return prev + 1
	}
	return now
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes task_order for the active-task listing.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_tasks_active_order
		ON tasks(task_order, id) WHERE deleted = 0
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

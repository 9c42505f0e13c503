// Package sessionstore implements the Session Store: an embedded,
// ACID-backed catalog of sessions, their worktrees, and tracked files,
// with indexed lookup/search and optimistic-lock updates.
package sessionstore

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

// Worktree records where one project's checkout for a session lives.
type Worktree struct {
	ProjectName string    `json:"project_name"`
	Path        string    `json:"path"`
	Branch      string    `json:"branch,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// File records one file tracked against a session (e.g. a rendered
// template, a copied secret) for audit purposes.
type File struct {
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one row of the sessions table, fully hydrated with its
// worktrees and tracked files.
type Session struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Status      Status                 `json:"status"`
	LinearTask  string                 `json:"linear_task,omitempty"`
	Description string                 `json:"description,omitempty"`
	Tags        []string               `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
	Worktrees   map[string]Worktree    `json:"worktrees"`
	Projects    []string               `json:"projects"`
	Files       []File                 `json:"files"`
}

// Kind identifies the category of a Store Error.
type Kind int

const (
	KindDuplicateSession Kind = iota
	KindSessionNotFound
	KindConflict
	KindMigration
	KindIntegrity
	KindConnectionError
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindDuplicateSession:
		return "DuplicateSession"
	case KindSessionNotFound:
		return "SessionNotFound"
	case KindConflict:
		return "Conflict"
	case KindMigration:
		return "Migration"
	case KindIntegrity:
		return "Integrity"
	case KindConnectionError:
		return "ConnectionError"
	case KindInvalidInput:
		return "InvalidInput"
	default:
		return "Unknown"
	}
}

// Error is returned by every Store method.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

func newErr(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// DefaultPath returns "<home>/.sxn/sessions.db".
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".sxn", "sessions.db"), nil
}

// Store is a handle on the embedded session catalog. It is not safe for
// concurrent use from multiple goroutines against the same *sql.DB
// connection without external synchronization — spec §5 treats the
// Session Store connection the same way as a single-threaded handle.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) the database file at path, applies pending
// migrations, and configures WAL/synchronous/busy_timeout/foreign_keys
// per spec 4.I. An empty path uses DefaultPath().
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, newErr(KindConnectionError, err.Error())
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, newErr(KindConnectionError, fmt.Sprintf("create database directory: %s", err))
	}

	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(30000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, newErr(KindConnectionError, fmt.Sprintf("open database: %s", err))
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, newErr(KindConnectionError, fmt.Sprintf("apply %q: %s", pragma, err))
		}
	}

	if fresh {
		if err := os.Chmod(path, 0o600); err != nil {
			db.Close()
			return nil, newErr(KindConnectionError, fmt.Sprintf("harden database file permissions: %s", err))
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, newErr(KindMigration, err.Error())
	}

	return &Store{db: db, path: path}, nil
}

func migrateUp(db *sql.DB) error {
	srcDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// newID returns a 128-bit opaque hex session id (no hyphens, per spec
// 4.I's "128-bit opaque hex").
func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

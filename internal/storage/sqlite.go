package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the local journal of conversational turns and operator actions.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "opconsole.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Turns ---

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SaveTurn inserts a turn or updates the prompt, draft and failure of an existing one.
func (s *Store) SaveTurn(t Turn) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO turns (id, prompt, draft_id, failure, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			prompt = excluded.prompt,
			draft_id = excluded.draft_id,
			failure = excluded.failure,
			updated_at = excluded.updated_at`,
		t.ID, t.Prompt, t.DraftID, t.Failure,
		t.CreatedAt.UTC().Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving turn %s: %w", t.ID, err)
	}
	return nil
}

const turnColumns = `id, prompt, draft_id, failure, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(row scanner) (Turn, error) {
	var t Turn
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Prompt, &t.DraftID, &t.Failure, &createdAt, &updatedAt); err != nil {
		return Turn{}, err
	}
	var err error
	if t.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return Turn{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return Turn{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}

// GetTurn returns the turn with the given id.
func (s *Store) GetTurn(id string) (Turn, error) {
	t, err := scanTurn(s.db.QueryRow(`SELECT `+turnColumns+` FROM turns WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Turn{}, ErrNotFound
	}
	return t, err
}

// TurnByDraft returns the turn bound to draftID.
func (s *Store) TurnByDraft(draftID string) (Turn, error) {
	if draftID == "" {
		return Turn{}, ErrNotFound
	}
	t, err := scanTurn(s.db.QueryRow(`SELECT `+turnColumns+` FROM turns WHERE draft_id = ? ORDER BY created_at DESC LIMIT 1`, draftID))
	if errors.Is(err, sql.ErrNoRows) {
		return Turn{}, ErrNotFound
	}
	return t, err
}

// ListTurns returns the most recent limit turns, oldest first.
func (s *Store) ListTurns(limit int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT `+turnColumns+` FROM (
			SELECT `+turnColumns+`, rowid AS rid FROM turns ORDER BY created_at DESC, rid DESC LIMIT ?
		) ORDER BY created_at ASC, rid ASC`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// PruneTurns deletes all but the newest keep turns and reports how many were removed.
func (s *Store) PruneTurns(keep int) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM turns WHERE id NOT IN (
			SELECT id FROM turns ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning turns: %w", err)
	}
	return res.RowsAffected()
}

// --- Actions ---

// RecordAction appends an action to the journal and returns its id.
func (s *Store) RecordAction(a Action) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	ok := 0
	if a.OK {
		ok = 1
	}
	res, err := s.db.Exec(`
		INSERT INTO actions (kind, target, ok, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.Kind, a.Target, ok, a.Detail, a.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("recording %s action: %w", a.Kind, err)
	}
	return res.LastInsertId()
}

// RecentActions returns up to limit actions, newest first.
func (s *Store) RecentActions(limit int) ([]Action, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, target, ok, detail, created_at
		FROM actions ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Action
	for rows.Next() {
		var a Action
		var ok int
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Kind, &a.Target, &ok, &a.Detail, &createdAt); err != nil {
			return nil, err
		}
		a.OK = ok == 1
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		a.CreatedAt = t
		results = append(results, a)
	}
	return results, rows.Err()
}

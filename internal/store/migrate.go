package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// migrationLockID keys the advisory lock that serializes migration runs
// across daemon and CLI processes sharing one database.
const migrationLockID = 0x626f617264 // "board"

var migrationFilePattern = regexp.MustCompile(`^(\d+_[A-Za-z0-9_]+)\.(up|down)\.sql$`)

type migration struct {
	version string
	up      string
	down    string
}

// MigrationStatus reports whether one migration version has been applied.
type MigrationStatus struct {
	Version   string     `json:"version"`
	AppliedAt *time.Time `json:"appliedAt,omitempty"`
}

// Migrator applies the NNNN_name.up.sql / NNNN_name.down.sql pairs found in
// one directory. Every step runs in its own transaction.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// Up applies every pending migration in version order and returns the
// versions it applied.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	migrations, err := m.load()
	if err != nil {
		return nil, err
	}
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	var applied []string
	for _, mig := range migrations {
		ran, err := m.step(ctx, mig.version, mig.up, true)
		if err != nil {
			return applied, err
		}
		if ran {
			applied = append(applied, mig.version)
		}
	}
	return applied, nil
}

// Down reverts the most recently applied migrations, newest first. steps <= 0
// reverts all of them.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	migrations, err := m.load()
	if err != nil {
		return nil, err
	}
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	var reverted []string
	for i := len(migrations) - 1; i >= 0; i-- {
		if steps > 0 && len(reverted) == steps {
			break
		}
		ran, err := m.step(ctx, migrations[i].version, migrations[i].down, false)
		if err != nil {
			return reverted, err
		}
		if ran {
			reverted = append(reverted, migrations[i].version)
		}
	}
	return reverted, nil
}

func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := m.load()
	if err != nil {
		return nil, err
	}
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()
	appliedAt := make(map[string]time.Time)
	for rows.Next() {
		var (
			version string
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		appliedAt[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		status := MigrationStatus{Version: mig.version}
		if at, ok := appliedAt[mig.version]; ok {
			status.AppliedAt = &at
		}
		out = append(out, status)
	}
	return out, nil
}

// load pairs the up and down files of each version. A version missing
// either half is an error.
func (m *Migrator) load() ([]migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[string]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		mig := byVersion[match[1]]
		if mig == nil {
			mig = &migration{version: match[1]}
			byVersion[match[1]] = mig
		}
		path := filepath.Join(m.dir, entry.Name())
		if match[2] == "up" {
			mig.up = path
		} else {
			mig.down = path
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.up == "" || mig.down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down files", mig.version)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

// step runs one migration file under the advisory lock. The applied check
// happens inside the lock, so a version already handled by a concurrent
// process is skipped and reported as not run.
func (m *Migrator) step(ctx context.Context, version, path string, up bool) (bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}

	var applied bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&applied); err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	if applied == up {
		return false, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
	}
	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return false, fmt.Errorf("execute migration %s: %w", filepath.Base(path), err)
	}

	record := `DELETE FROM schema_migrations WHERE version=$1`
	if up {
		record = `INSERT INTO schema_migrations(version) VALUES($1)`
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		return false, fmt.Errorf("record migration %s: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", version, err)
	}
	return true, nil
}

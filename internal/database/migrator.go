package database

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"

	"billbook-backend/internal/logger"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of a pgx pool the migrator needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Migrator handles database schema migrations
type Migrator struct {
	db   DB
	fsys fs.FS
	dir  string
	log  *logger.Logger
}

// NewMigrator creates a migration runner reading *.sql files from dir inside
// fsys (normally the embedded migrations package).
func NewMigrator(db DB, fsys fs.FS, dir string, log *logger.Logger) *Migrator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Migrator{db: db, fsys: fsys, dir: dir, log: log.Named("migrator")}
}

// RunMigrations executes all pending database migrations
//
// This function:
//  1. Creates a migrations tracking table if it doesn't exist
//  2. Reads all migration files from the filesystem
//  3. Skips migrations that have already been run
//  4. Executes new migrations in alphabetical order
//  5. Records successful migrations in the tracking table
//
// Every migration is itself written with IF NOT EXISTS, so running twice, or
// from two processes at once, is harmless.
func (m *Migrator) RunMigrations(ctx context.Context) error {
	if err := m.createMigrationsTable(ctx); err != nil {
		return errors.Wrap(err, "failed to create migrations table")
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get applied migrations")
	}

	files, err := m.migrationFiles()
	if err != nil {
		return errors.Wrap(err, "failed to read migrations directory")
	}

	ran := 0
	for _, filename := range files {
		if applied[filename] {
			continue
		}

		content, err := fs.ReadFile(m.fsys, path.Join(m.dir, filename))
		if err != nil {
			return errors.Wrapf(err, "failed to read migration %s", filename)
		}

		m.log.Infow("running migration", "file", filename)
		if _, err := m.db.Exec(ctx, string(content)); err != nil {
			return errors.Wrapf(err, "failed to run migration %s", filename)
		}

		if err := m.recordMigration(ctx, filename); err != nil {
			return errors.Wrapf(err, "failed to record migration %s", filename)
		}
		ran++
	}

	if ran > 0 {
		m.log.Infow("migrations applied", "count", ran)
	} else {
		m.log.Debug("database schema is up to date")
	}
	return nil
}

func (m *Migrator) migrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(m.fsys, m.dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func (m *Migrator) createMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			filename VARCHAR(255) UNIQUE NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`

	_, err := m.db.Exec(ctx, query)
	return err
}

func (m *Migrator) getAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	applied := make(map[string]bool)

	rows, err := m.db.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, err
		}
		applied[filename] = true
	}

	return applied, rows.Err()
}

func (m *Migrator) recordMigration(ctx context.Context, filename string) error {
	query := `
		INSERT INTO schema_migrations (filename)
		VALUES ($1)
		ON CONFLICT (filename) DO NOTHING
	`

	_, err := m.db.Exec(ctx, query, filename)
	return err
}

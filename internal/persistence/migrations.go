package persistence

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	migrationsDir = "migrations"
	// auditMigrationSet names the schema owned by this service in logs and
	// in the version table.
	auditMigrationSet = "integration_audit"
	versionTable      = "integration_schema_migrations"
)

type migration struct {
	version string
	sql     string
}

// RunMigrations applies the audit schema files under ./migrations that are
// not yet recorded in the version table. Each file runs in its own
// transaction together with its version row.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if pool == nil {
		logger.Warn("no postgres pool available; skipping audit migrations")
		return nil
	}

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+versionTable+` (
		migration_set TEXT NOT NULL,
		version       TEXT NOT NULL,
		applied_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (migration_set, version)
	)`); err != nil {
		return fmt.Errorf("create %s: %w", versionTable, err)
	}

	rows, err := pool.Query(ctx, `SELECT version FROM `+versionTable+` WHERE migration_set = $1`, auditMigrationSet)
	if err != nil {
		return fmt.Errorf("list applied %s migrations: %w", auditMigrationSet, err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("scan applied %s migrations: %w", auditMigrationSet, err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	pending, err := pendingMigrations(os.DirFS(migrationsDir), applied)
	if err != nil {
		return err
	}
	for _, m := range pending {
		logger.Info("applying audit migration", zap.String("set", auditMigrationSet), zap.String("version", m.version))
		if err := applyMigration(ctx, pool, m); err != nil {
			return err
		}
	}

	logger.Info("audit migrations applied",
		zap.String("set", auditMigrationSet),
		zap.Int("applied", len(pending)),
		zap.Int("already_applied", len(applied)),
	)
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.version, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.version, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO `+versionTable+` (migration_set, version) VALUES ($1, $2)`, auditMigrationSet, m.version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.version, err)
	}
	return nil
}

// pendingMigrations returns the .sql files of fsys not in applied, ordered
// by file name. The version is the file name without its extension.
func pendingMigrations(fsys fs.FS, applied map[string]bool) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", auditMigrationSet, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var pending []migration
	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		if applied[version] {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			return nil, fmt.Errorf("migration %s is empty", name)
		}
		pending = append(pending, migration{version: version, sql: string(content)})
	}
	return pending, nil
}

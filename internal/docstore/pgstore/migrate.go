package pgstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quotefriends/backend/internal/db"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	migrationMaxRetries  = 3
	migrationBaseBackoff = 100 * time.Millisecond
	migrationMaxBackoff  = 3 * time.Second
)

// MigrationStatus reports whether a bundled migration has been applied.
type MigrationStatus struct {
	Name    string
	Applied bool
}

// Migrate applies every bundled migration that has not been recorded in
// schema_migrations and returns the names it applied.
func Migrate(ctx context.Context, pool db.Pool, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	statuses, err := Status(ctx, pool)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, st := range statuses {
		if st.Applied {
			continue
		}
		contents, err := fs.ReadFile(migrationFiles, "migrations/"+st.Name)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", st.Name, err)
		}
		if err := applyMigrationWithRetry(ctx, pool, logger, st.Name, string(contents)); err != nil {
			return applied, err
		}
		logger.Info("applied migration", "migration", st.Name)
		applied = append(applied, st.Name)
	}
	return applied, nil
}

// Status lists bundled migrations in order with their applied state.
func Status(ctx context.Context, pool db.Pool) ([]MigrationStatus, error) {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
                version TEXT PRIMARY KEY,
                applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("fetch applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}

	names, err := migrationNames()
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(names))
	for _, name := range names {
		_, ok := applied[name]
		out = append(out, MigrationStatus{Name: name, Applied: ok})
	}
	return out, nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func applyMigrationWithRetry(ctx context.Context, pool db.Pool, logger *slog.Logger, name, contents string) error {
	var attempt int
	for attempt = 0; attempt < migrationMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * migrationBaseBackoff
			if backoff > migrationMaxBackoff {
				backoff = migrationMaxBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := applyMigration(ctx, pool, name, contents)
		if err == nil {
			return nil
		}
		if shouldRetry(err) && attempt < migrationMaxRetries-1 {
			logger.Warn("transient error applying migration", "migration", name, "attempt", attempt+1, "maxAttempts", migrationMaxRetries, "error", err)
			continue
		}
		return err
	}

	return fmt.Errorf("apply migration %s: exceeded max retries (%d)", name, attempt)
}

func applyMigration(ctx context.Context, pool db.Pool, name, contents string) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin migration transaction for %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, contents); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

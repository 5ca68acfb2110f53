// Package sqlite - database migrations
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
)

// Migration is a single versioned schema change. Apply must be idempotent;
// databases created before the version ladder existed replay every step.
type Migration struct {
	Version  int
	Name     string
	Apply    func(ctx context.Context, conn *sql.Conn) error
	Rollback func(ctx context.Context, conn *sql.Conn) error
}

// migrationsList is the ordered version ladder. The schema constant always
// reflects the latest shape, so steps only matter for databases written by
// older releases.
var migrationsList = []Migration{
	{
		Version: 1,
		Name:    "baseline",
		Apply: func(ctx context.Context, conn *sql.Conn) error {
			// Schema constant already created the current shape.
			return nil
		},
		Rollback: func(ctx context.Context, conn *sql.Conn) error {
			return nil
		},
	},
	{
		Version:  2,
		Name:     "items_size_column",
		Apply:    addColumnMigration("context_items", "size", "INTEGER NOT NULL DEFAULT 0"),
		Rollback: dropColumnMigration("context_items", "size"),
	},
	{
		Version:  3,
		Name:     "checkpoint_file_count",
		Apply:    addColumnMigration("checkpoints", "file_count", "INTEGER NOT NULL DEFAULT 0"),
		Rollback: dropColumnMigration("checkpoints", "file_count"),
	},
	{
		Version: 4,
		Name:    "knowledge_graph_tables",
		Apply: func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS entities (
				  id TEXT PRIMARY KEY,
				  session_id TEXT NOT NULL,
				  name TEXT NOT NULL,
				  entity_type TEXT NOT NULL DEFAULT 'concept',
				  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				  UNIQUE(session_id, name)
				);
				CREATE TABLE IF NOT EXISTS relations (
				  session_id TEXT NOT NULL,
				  from_entity TEXT NOT NULL,
				  to_entity TEXT NOT NULL,
				  relation TEXT NOT NULL,
				  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				  PRIMARY KEY (session_id, from_entity, to_entity, relation)
				);
				CREATE TABLE IF NOT EXISTS observations (
				  id TEXT PRIMARY KEY,
				  entity_id TEXT NOT NULL,
				  content TEXT NOT NULL,
				  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_observations_entity ON observations(entity_id);
			`)
			if err != nil {
				return fmt.Errorf("failed to create knowledge graph tables: %w", err)
			}
			return nil
		},
		Rollback: func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, `
				DROP TABLE IF EXISTS observations;
				DROP TABLE IF EXISTS relations;
				DROP TABLE IF EXISTS entities;
			`)
			return err
		},
	},
	{
		Version: 5,
		Name:    "retention_and_flags_tables",
		Apply: func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS retention_policies (
				  id TEXT PRIMARY KEY,
				  name TEXT NOT NULL UNIQUE,
				  category TEXT NOT NULL DEFAULT '',
				  channel TEXT NOT NULL DEFAULT '',
				  max_age_days INTEGER NOT NULL DEFAULT 0,
				  max_count INTEGER NOT NULL DEFAULT 0,
				  enabled INTEGER NOT NULL DEFAULT 1,
				  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE TABLE IF NOT EXISTS feature_flags (
				  name TEXT PRIMARY KEY,
				  enabled INTEGER NOT NULL DEFAULT 0,
				  description TEXT NOT NULL DEFAULT '',
				  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`)
			if err != nil {
				return fmt.Errorf("failed to create retention tables: %w", err)
			}
			return nil
		},
		Rollback: func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, `
				DROP TABLE IF EXISTS feature_flags;
				DROP TABLE IF EXISTS retention_policies;
			`)
			return err
		},
	},
	{
		Version:  6,
		Name:     "compressed_narrative_column",
		Apply:    addColumnMigration("compressed_context", "narrative", "TEXT NOT NULL DEFAULT ''"),
		Rollback: dropColumnMigration("compressed_context", "narrative"),
	},
	{
		Version: 7,
		Name:    "items_key_private_index",
		Apply: func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx,
				"CREATE INDEX IF NOT EXISTS idx_items_key_private ON context_items(key, is_private, created_at)")
			return err
		},
		Rollback: func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, "DROP INDEX IF EXISTS idx_items_key_private")
			return err
		},
	},
}

// addColumnMigration returns an idempotent ALTER TABLE ADD COLUMN step.
func addColumnMigration(table, column, definition string) func(ctx context.Context, conn *sql.Conn) error {
	return func(ctx context.Context, conn *sql.Conn) error {
		exists, err := columnExists(ctx, conn, table, column)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		_, err = conn.ExecContext(ctx,
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
		if err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
		}
		return nil
	}
}

// dropColumnMigration returns the reverse of addColumnMigration.
func dropColumnMigration(table, column string) func(ctx context.Context, conn *sql.Conn) error {
	return func(ctx context.Context, conn *sql.Conn) error {
		exists, err := columnExists(ctx, conn, table, column)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		_, err = conn.ExecContext(ctx,
			fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, column))
		if err != nil {
			return fmt.Errorf("failed to drop %s.%s: %w", table, column, err)
		}
		return nil
	}
}

func columnExists(ctx context.Context, conn *sql.Conn, table, column string) (bool, error) {
	var n int
	err := conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to probe %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

// appliedVersions reads the set of successfully applied migration versions.
func appliedVersions(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}) (map[int]bool, error) {
	rows, err := q.QueryContext(ctx, "SELECT DISTINCT version FROM migrations_log WHERE success = 1")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// RunMigrations applies every pending migration in version order.
//
// The whole ladder runs under one EXCLUSIVE transaction on a dedicated
// connection, serializing concurrent processes that open the database
// simultaneously. Foreign keys are disabled first; PRAGMA foreign_keys is
// a no-op inside a transaction, and steps that rebuild tables must not
// cascade into live rows.
func RunMigrations(db *sql.DB) error {
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("failed to disable foreign keys for migrations: %w", err)
	}
	defer func() { _, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON") }()

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire migration connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for migrations: %w", err)
	}
	finished := false
	defer func() {
		if !finished {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	for _, m := range migrationsList {
		if applied[m.Version] {
			continue
		}
		start := time.Now()
		if err := m.Apply(ctx, conn); err != nil {
			// Roll back first; the failure record must not ride in the
			// doomed transaction, and inserting through the pool would
			// block on the EXCLUSIVE lock this connection still holds.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
			finished = true
			_, _ = conn.ExecContext(context.Background(),
				"INSERT INTO migrations_log (version, name, success, execution_time_ms, error) VALUES (?, ?, 0, ?, ?)",
				m.Version, m.Name, time.Since(start).Milliseconds(), err.Error())
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		_, err = conn.ExecContext(ctx,
			"INSERT INTO migrations_log (version, name, success, execution_time_ms, error) VALUES (?, ?, 1, ?, '')",
			m.Version, m.Name, time.Since(start).Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to log migration %d: %w", m.Version, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	finished = true
	return nil
}

// MigrationStatus returns the migrations log in application order.
func (s *Store) MigrationStatus(ctx context.Context) ([]types.MigrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, name, applied_at, success, execution_time_ms, error
		FROM migrations_log ORDER BY id ASC`)
	if err != nil {
		return nil, wrapDBError("query migration status", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.MigrationRecord
	for rows.Next() {
		var r types.MigrationRecord
		var success int
		if err := rows.Scan(&r.Version, &r.Name, &r.AppliedAt, &success, &r.ExecutionTimeMS, &r.Error); err != nil {
			return nil, wrapDBError("scan migration record", err)
		}
		r.Success = success == 1
		records = append(records, r)
	}
	return records, rows.Err()
}

// PendingMigrations lists the names of steps that have not been applied.
// This is the dry-run view; nothing is executed.
func (s *Store) PendingMigrations(ctx context.Context) ([]string, error) {
	applied, err := appliedVersions(ctx, s.db)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, m := range migrationsList {
		if !applied[m.Version] {
			pending = append(pending, fmt.Sprintf("%d_%s", m.Version, m.Name))
		}
	}
	return pending, nil
}

// RollbackLastMigration reverses the most recently applied migration and
// removes it from the log.
func (s *Store) RollbackLastMigration(ctx context.Context) error {
	applied, err := appliedVersions(ctx, s.db)
	if err != nil {
		return err
	}

	var last *Migration
	for i := range migrationsList {
		if applied[migrationsList[i].Version] {
			last = &migrationsList[i]
		}
	}
	if last == nil {
		return fmt.Errorf("no applied migrations: %w", storage.ErrFailedPrecondition)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("failed to disable foreign keys for rollback: %w", err)
	}
	defer func() { _, _ = s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON") }()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return wrapDBError("acquire rollback connection", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return wrapDBError("begin rollback transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := last.Rollback(ctx, conn); err != nil {
		return fmt.Errorf("rollback of migration %d (%s) failed: %w", last.Version, last.Name, err)
	}
	if _, err := conn.ExecContext(ctx,
		"DELETE FROM migrations_log WHERE version = ?", last.Version); err != nil {
		return wrapDBError("clear migration log entry", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDBError("commit rollback", err)
	}
	committed = true
	return nil
}

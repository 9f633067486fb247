// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	embeddedmigrations "github.com/adiadia/activity-relay/migrations"
)

const (
	activityTable = "activity_logs"

	schemaMigrationLockID int64 = 0x41434c4f475f4d47 // "ACLOG_MG"
)

// activityColumns maps every column the event store reads or writes to the
// data type it expects. properties must stay json: jsonb reorders keys and
// the rendered details follow stored order.
var activityColumns = map[string]string{
	"id":              "uuid",
	"event_type":      "text",
	"description":     "text",
	"subject_type":    "text",
	"subject_id":      "text",
	"subject_name":    "text",
	"causer_type":     "text",
	"causer_id":       "text",
	"causer_name":     "text",
	"properties":      "json",
	"discord_sent":    "boolean",
	"discord_sent_at": "timestamp with time zone",
	"created_at":      "timestamp with time zone",
	"updated_at":      "timestamp with time zone",
}

// SchemaHealthChecker reports the activity log store as not ready until the
// table carries every column the relay needs.
type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

// EnsureSchema applies the embedded migrations that are not recorded yet.
// Concurrent callers (api and worker starting together) serialize on an
// advisory lock.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	started := time.Now()

	files, err := embeddedmigrations.Ordered()
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no embedded migrations found")
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection for schema bootstrap: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("acquire schema bootstrap lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); err != nil {
			logger.Error("schema bootstrap unlock failed", "error", err)
		}
	}()

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return err
	}

	var pending []string
	for _, file := range files {
		if applied[file.Name] {
			continue
		}
		logger.Info("applying migration", "file", file.Name)
		if err := applyMigration(ctx, conn, file); err != nil {
			return fmt.Errorf("apply migration %s: %w", file.Name, err)
		}
		pending = append(pending, file.Name)
	}

	logger.Info("activity log schema ready",
		"applied", len(pending),
		"already_applied", len(files)-len(pending),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, pool)
}

func appliedMigrations(ctx context.Context, conn *pgxpool.Conn) (map[string]bool, error) {
	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	applied := make(map[string]bool, len(names))
	for _, name := range names {
		applied[name] = true
	}
	return applied, nil
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, file embeddedmigrations.File) error {
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, file.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file.Name)
		return err
	})
}

// SchemaReady checks the activity log table against activityColumns.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	rows, err := pool.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public'
		  AND table_name = $1
	`, activityTable)
	if err != nil {
		return fmt.Errorf("inspect %s columns: %w", activityTable, err)
	}

	found := make(map[string]string, len(activityColumns))
	var name, dataType string
	if _, err := pgx.ForEachRow(rows, []any{&name, &dataType}, func() error {
		found[name] = dataType
		return nil
	}); err != nil {
		return fmt.Errorf("inspect %s columns: %w", activityTable, err)
	}

	return checkColumns(found)
}

// checkColumns compares the live columns against activityColumns.
func checkColumns(found map[string]string) error {
	if len(found) == 0 {
		return fmt.Errorf("table %s missing", activityTable)
	}

	var missing, mistyped []string
	for column, want := range activityColumns {
		got, ok := found[column]
		switch {
		case !ok:
			missing = append(missing, column)
		case got != want:
			mistyped = append(mistyped, fmt.Sprintf("%s is %s, want %s", column, got, want))
		}
	}
	sort.Strings(missing)
	sort.Strings(mistyped)

	if len(missing) > 0 {
		return fmt.Errorf("%s columns missing: %s", activityTable, strings.Join(missing, ", "))
	}
	if len(mistyped) > 0 {
		return fmt.Errorf("%s columns mistyped: %s", activityTable, strings.Join(mistyped, "; "))
	}
	return nil
}

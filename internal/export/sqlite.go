package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenDB opens (creating if needed) the results database at path.
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			page TEXT NOT NULL,
			exported_at TEXT NOT NULL,
			items INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS results (
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			item INTEGER NOT NULL,
			source TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (run_id, item, field)
		);`,
		`CREATE INDEX IF NOT EXISTS results_by_field ON results(field);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// WriteSQLite records t as one run in the database at path. Values are stored
// one row per (item, field); empty values are skipped.
func WriteSQLite(ctx context.Context, path string, t Table) error {
	db, err := OpenDB(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, page, exported_at, items) VALUES (?, ?, ?, ?)`,
		t.RunID, t.Page, t.ExportedAt.Format(time.RFC3339Nano), len(t.Records)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO results (run_id, item, source, field, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range t.Records {
		source := ""
		if len(rec) > 1 {
			source = rec[1]
		}
		for col := 2; col < len(t.Columns) && col < len(rec); col++ {
			if rec[col] == "" {
				continue
			}
			if _, err := stmt.ExecContext(ctx, t.RunID, i+1, source, t.Columns[col], rec[col]); err != nil {
				return fmt.Errorf("insert result: %w", err)
			}
		}
	}
	return tx.Commit()
}

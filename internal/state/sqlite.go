package state

import (
	"context"
	"database/sql"
	"embed"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// SQLiteBackend stores the run in a single SQLite database file.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer per run
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) ReadCurrent(ctx context.Context) ([]byte, error) {
	var data string
	err := b.db.QueryRowContext(ctx, `SELECT data FROM current_state WHERE id = 1`).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read current state: %w", err)
	}
	return []byte(data), nil
}

func (b *SQLiteBackend) WriteCurrent(ctx context.Context, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO current_state(id, data, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), timestamp())
	if err != nil {
		return fmt.Errorf("write current state: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) AppendHistory(ctx context.Context, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO state_history(data, created_at) VALUES (?, ?)`,
		string(data), timestamp())
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) ReadHistory(ctx context.Context) ([][]byte, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT data FROM state_history ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()

	var records [][]byte
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		records = append(records, []byte(data))
	}
	return records, rows.Err()
}

func (b *SQLiteBackend) WriteCheckpoint(ctx context.Context, label string, data []byte) error {
	if err := ValidateLabel(label); err != nil {
		return err
	}
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO checkpoints(label, data, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(label) DO NOTHING`,
		label, string(data), timestamp())
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", label, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", label, err)
	}
	if n == 0 {
		return ErrCheckpointExists
	}
	return nil
}

func (b *SQLiteBackend) ReadCheckpoint(ctx context.Context, label string) ([]byte, error) {
	var data string
	err := b.db.QueryRowContext(ctx, `SELECT data FROM checkpoints WHERE label = ?`, label).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", label, err)
	}
	return []byte(data), nil
}

func (b *SQLiteBackend) ListCheckpoints(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT label FROM checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	labels := []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan checkpoint label: %w", err)
		}
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels, rows.Err()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// migrate applies the embedded migrations in order, tracking the applied
// version in schema_version.
func migrate(db *sql.DB) error {
	files, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		return err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if stderrors.Is(err, sql.ErrNoRows) {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, f := range files {
		var version int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		if version <= current {
			continue
		}
		body, err := migrationsFS.ReadFile("sql/" + f.Name())
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", f.Name(), err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		current = version
	}
	return tx.Commit()
}

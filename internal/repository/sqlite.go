package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xHacka/access-log-analyzer/internal/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS hosts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	host_id INTEGER NOT NULL REFERENCES hosts(id),
	ip TEXT NOT NULL,
	timestamp_utc_ms INTEGER NOT NULL,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	protocol TEXT NOT NULL,
	status INTEGER NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	referrer TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	forwarded_for TEXT,
	is_bot INTEGER NOT NULL DEFAULT 0,
	date_only TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_host_id ON entries(host_id);
CREATE INDEX IF NOT EXISTS idx_entries_timestamp ON entries(timestamp_utc_ms);
CREATE INDEX IF NOT EXISTS idx_entries_date_only ON entries(date_only);
CREATE INDEX IF NOT EXISTS idx_entries_status ON entries(status);
CREATE INDEX IF NOT EXISTS idx_entries_user_agent ON entries(user_agent);
CREATE INDEX IF NOT EXISTS idx_entries_path ON entries(path);
CREATE INDEX IF NOT EXISTS idx_entries_referrer ON entries(referrer);
CREATE INDEX IF NOT EXISTS idx_entries_ip ON entries(ip);
CREATE INDEX IF NOT EXISTS idx_entries_is_bot ON entries(is_bot);

CREATE TABLE IF NOT EXISTS file_metadata (
	path TEXT PRIMARY KEY,
	hostname TEXT NOT NULL,
	last_modified INTEGER NOT NULL,
	size INTEGER NOT NULL,
	processed_at INTEGER NOT NULL
);
`

const memoryPath = ":memory:"

type SQLiteRepository struct {
	statsReader
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLite(dbPath string) (*SQLiteRepository, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dbPath != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if dbPath == memoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteRepository{statsReader: statsReader{q: db}, db: db}, nil
}

// Snapshot runs fn against a single read transaction. In WAL mode every query
// fn issues sees the same committed state, whatever writers do meanwhile.
func (r *SQLiteRepository) Snapshot(ctx context.Context, fn func(StatsRepository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(statsReader{q: tx})
}

// upsertHost creates the host or bumps its updated_at. The new value is kept
// strictly greater than the previous one even when two loads share a millisecond.
func upsertHost(ctx context.Context, q querier, hostname string, at time.Time) (*models.Host, error) {
	ms := at.UnixMilli()
	_, err := q.ExecContext(ctx, `
		INSERT INTO hosts (hostname, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(hostname) DO UPDATE SET updated_at = MAX(excluded.updated_at, hosts.updated_at + 1)
	`, hostname, ms, ms)
	if err != nil {
		return nil, fmt.Errorf("upsert host %q: %w", hostname, err)
	}

	var h models.Host
	var created, updated int64
	err = q.QueryRowContext(ctx, "SELECT id, hostname, created_at, updated_at FROM hosts WHERE hostname = ?", hostname).
		Scan(&h.ID, &h.Hostname, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("load host %q: %w", hostname, err)
	}
	h.CreatedAt = fromMillis(created)
	h.UpdatedAt = fromMillis(updated)
	return &h, nil
}

// ImportBatch resolves the host and inserts every record in one transaction:
// either the host update and all rows commit, or nothing does.
func (r *SQLiteRepository) ImportBatch(ctx context.Context, hostname string, records []models.Record, at time.Time) (*models.Host, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	host, err := upsertHost(ctx, tx, hostname, at)
	if err != nil {
		return nil, err
	}
	if err := insertRecords(ctx, tx, host.ID, records); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return host, nil
}

func insertRecords(ctx context.Context, tx *sql.Tx, hostID int64, records []models.Record) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (host_id, ip, timestamp_utc_ms, method, path, protocol, status, size, referrer, user_agent, forwarded_for, is_bot, date_only) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range records {
		var fwd sql.NullString
		if e.ForwardedFor != "" {
			fwd = sql.NullString{String: e.ForwardedFor, Valid: true}
		}
		_, err := stmt.ExecContext(ctx, hostID, e.IP, e.Timestamp.UnixMilli(), e.Method, e.Path, e.Protocol, e.Status, e.Size, e.Referrer, e.UserAgent, fwd, e.IsBot, e.Date)
		if err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Hosts(ctx context.Context) ([]models.Host, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, hostname, created_at, updated_at FROM hosts ORDER BY hostname")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hosts := []models.Host{}
	for rows.Next() {
		var h models.Host
		var created, updated int64
		if err := rows.Scan(&h.ID, &h.Hostname, &created, &updated); err != nil {
			return nil, err
		}
		h.CreatedAt = fromMillis(created)
		h.UpdatedAt = fromMillis(updated)
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// Clear empties all three tables in one transaction.
func (r *SQLiteRepository) Clear(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"entries", "hosts", "file_metadata"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) RecordFile(ctx context.Context, meta models.FileMetadata) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO file_metadata (path, hostname, last_modified, size, processed_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			hostname = excluded.hostname,
			last_modified = excluded.last_modified,
			size = excluded.size,
			processed_at = excluded.processed_at
	`, meta.Path, meta.Hostname, meta.LastModified.UnixMilli(), meta.Size, meta.ProcessedAt.UnixMilli())
	return err
}

// FileMetadata returns nil, nil when path was never processed.
func (r *SQLiteRepository) FileMetadata(ctx context.Context, path string) (*models.FileMetadata, error) {
	var m models.FileMetadata
	var modified, processed int64
	err := r.db.QueryRowContext(ctx, "SELECT path, hostname, last_modified, size, processed_at FROM file_metadata WHERE path = ?", path).
		Scan(&m.Path, &m.Hostname, &modified, &m.Size, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.LastModified = fromMillis(modified)
	m.ProcessedAt = fromMillis(processed)
	return &m, nil
}

// DeleteOlderThan removes entries only; hosts are never deleted individually.
func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM entries WHERE timestamp_utc_ms < ?", t.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// ErrUnavailable signals a transient storage failure (timeout, lost
// connection). Callers surface it for retry messaging instead of crashing.
var ErrUnavailable = errors.New("storage unavailable")

// DB wraps sql.DB and hides the driver difference between Postgres (pgx)
// and SQLite (local single-box mode). Queries are written with ?
// placeholders and rebound for Postgres. Every call runs under a bounded
// timeout; deadline and connection failures map to ErrUnavailable.
type DB struct {
	sql     *sql.DB
	driver  string
	timeout time.Duration
}

// Open connects to the database named by url. postgres:// URLs use pgx;
// anything else is treated as a SQLite path (optionally sqlite://-prefixed).
func Open(url string, timeout time.Duration) (*DB, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	var (
		db  *sql.DB
		drv string
		err error
	)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		drv = "pgx"
		db, err = sql.Open("pgx", url)
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(time.Hour)
		}
	} else {
		drv = "sqlite3"
		db, err = sql.Open("sqlite3", sqliteDSN(url))
		if err == nil {
			// SQLite has a single writer; one connection avoids
			// SQLITE_BUSY under concurrent marks.
			db.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	d := &DB{sql: db, driver: drv, timeout: timeout}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func sqliteDSN(url string) string {
	path := strings.TrimPrefix(url, "sqlite://")
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		_ = os.MkdirAll(dir, 0o755)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_journal_mode=WAL&_busy_timeout=5000&_fk=1"
}

// Driver reports the active driver name ("pgx" or "sqlite3").
func (d *DB) Driver() string { return d.driver }

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Ping reports connectivity, for health checks.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.sql.PingContext(ctx)
}

// ExecContext runs a statement under the storage timeout.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res, err := d.sql.ExecContext(ctx, d.rebind(query), args...)
	return res, d.mapErr(err)
}

// QueryContext runs a query under the storage timeout.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	rows, err := d.sql.QueryContext(ctx, d.rebind(query), args...)
	return rows, d.mapErr(err)
}

// QueryRowContext runs a single-row query under the storage timeout.
// Scan errors other than sql.ErrNoRows should be passed through MapErr.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) (*sql.Row, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	return d.sql.QueryRowContext(ctx, d.rebind(query), args...), cancel
}

// MapErr translates infrastructure failures to ErrUnavailable. sql.ErrNoRows
// and nil pass through untouched.
func (d *DB) MapErr(err error) error { return d.mapErr(err) }

func (d *DB) mapErr(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (d *DB) rebind(query string) string {
	if d.driver != "pgx" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// migrate creates the schema. The SQL is kept portable across both drivers;
// statements run one at a time because pgx's extended protocol rejects
// multi-statement Exec.
func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS people (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			department   TEXT NOT NULL DEFAULT '',
			photo_url    TEXT NOT NULL DEFAULT '',
			embedding    TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS attendance_events (
			id          TEXT PRIMARY KEY,
			person_id   TEXT NOT NULL REFERENCES people(id),
			occurred_at TIMESTAMP NOT NULL,
			date_key    TEXT NOT NULL,
			check_out   TIMESTAMP,
			status      TEXT NOT NULL DEFAULT 'present',
			note        TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMP NOT NULL,
			UNIQUE (person_id, date_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance_events (date_key)`,
		`CREATE TABLE IF NOT EXISTS devices (
			device_id     TEXT PRIMARY KEY,
			registered_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			device_id  TEXT NOT NULL,
			token      TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			revoked    BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	}
	for _, s := range stmts {
		if _, err := d.sql.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := Open(dsn, 3*time.Second)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "sqlite3", db.Driver())
	require.NoError(t, db.Ping(context.Background()))

	ctx := context.Background()
	_, err = db.ExecContext(ctx,
		`INSERT INTO people (id, display_name, embedding, created_at) VALUES (?, ?, ?, ?)`,
		"p1", "Alice", "[1,0,0]", time.Now())
	require.NoError(t, err)

	row, cancel := db.QueryRowContext(ctx, `SELECT display_name FROM people WHERE id = ?`, "p1")
	defer cancel()
	var name string
	require.NoError(t, row.Scan(&name))
	assert.Equal(t, "Alice", name)
}

func TestUniqueDayConstraint(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := Open(dsn, 3*time.Second)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	_, err = db.ExecContext(ctx,
		`INSERT INTO people (id, display_name, embedding, created_at) VALUES (?, ?, ?, ?)`,
		"p1", "Alice", "[1,0,0]", now)
	require.NoError(t, err)

	const insert = `INSERT INTO attendance_events (id, person_id, occurred_at, date_key, created_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (person_id, date_key) DO NOTHING`

	res, err := db.ExecContext(ctx, insert, "e1", "p1", now, "2026-03-02", now)
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.EqualValues(t, 1, n)

	// Second mark for the same person and day is silently ignored.
	res, err = db.ExecContext(ctx, insert, "e2", "p1", now, "2026-03-02", now)
	require.NoError(t, err)
	n, _ = res.RowsAffected()
	assert.EqualValues(t, 0, n)
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: "pgx"}
	assert.Equal(t,
		`INSERT INTO t (a, b, c) VALUES ($1, $2, $3)`,
		pg.rebind(`INSERT INTO t (a, b, c) VALUES (?, ?, ?)`))
	assert.Equal(t, `SELECT 1`, pg.rebind(`SELECT 1`))

	lite := &DB{driver: "sqlite3"}
	q := `SELECT * FROM t WHERE a = ? AND b = ?`
	assert.Equal(t, q, lite.rebind(q))
}

func TestMapErr(t *testing.T) {
	db := &DB{driver: "sqlite3"}

	assert.NoError(t, db.MapErr(nil))
	assert.Equal(t, sql.ErrNoRows, db.MapErr(sql.ErrNoRows))

	err := db.MapErr(fmt.Errorf("query: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, ErrUnavailable)

	err = db.MapErr(driver.ErrBadConn)
	assert.ErrorIs(t, err, ErrUnavailable)

	plain := errors.New("constraint violated")
	assert.Equal(t, plain, db.MapErr(plain))
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t,
		"attendance.db?_journal_mode=WAL&_busy_timeout=5000&_fk=1",
		sqliteDSN("attendance.db"))
	assert.Equal(t,
		"attendance.db?_journal_mode=WAL&_busy_timeout=5000&_fk=1",
		sqliteDSN("sqlite://attendance.db"))
	assert.Equal(t,
		"file:x?mode=memory&_journal_mode=WAL&_busy_timeout=5000&_fk=1",
		sqliteDSN("file:x?mode=memory"))
}

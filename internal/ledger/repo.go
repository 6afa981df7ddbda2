package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"faceattend/internal/store"
)

const selectEvent = `SELECT id, person_id, occurred_at, date_key, check_out, status, note, created_at FROM attendance_events`

// Repository persists attendance events. The once-per-day invariant lives in
// the UNIQUE(person_id, date_key) constraint; the record path is a single
// insert-if-absent statement, never a read followed by a write.
type Repository struct {
	db  *store.DB
	loc *time.Location
}

// NewRepository creates a repo recording date keys in the given timezone.
func NewRepository(db *store.DB, loc *time.Location) *Repository {
	if loc == nil {
		loc = time.Local
	}
	return &Repository{db: db, loc: loc}
}

// HasEventToday returns the event for (personID, day of now), or nil.
func (r *Repository) HasEventToday(ctx context.Context, personID string, now time.Time) (*Event, error) {
	row, cancel := r.db.QueryRowContext(ctx, selectEvent+` WHERE person_id = ? AND date_key = ?`,
		personID, DateKey(now, r.loc))
	defer cancel()

	evt, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, r.db.MapErr(err)
	}
	return &evt, nil
}

// Record inserts the day's event for a person. The insert and the dedup
// check are one atomic statement: on conflict nothing is written and no row
// comes back, which surfaces as ErrDuplicateAttendance.
func (r *Repository) Record(ctx context.Context, personID string, ts time.Time) (Event, error) {
	if ts.IsZero() {
		ts = time.Now()
	}
	evt := Event{
		ID:        uuid.NewString(),
		PersonID:  personID,
		Timestamp: ts.UTC(),
		DateKey:   DateKey(ts, r.loc),
		Status:    "present",
		CreatedAt: time.Now().UTC(),
	}
	row, cancel := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_events (id, person_id, occurred_at, date_key, status, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (person_id, date_key) DO NOTHING
		RETURNING id
	`, evt.ID, evt.PersonID, evt.Timestamp, evt.DateKey, evt.Status, evt.Note, evt.CreatedAt)
	defer cancel()

	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, ErrDuplicateAttendance
		}
		return Event{}, r.db.MapErr(err)
	}
	return evt, nil
}

// CheckOut fills in the check-out time on today's event, once.
func (r *Repository) CheckOut(ctx context.Context, personID string, ts time.Time) (Event, error) {
	if ts.IsZero() {
		ts = time.Now()
	}
	existing, err := r.HasEventToday(ctx, personID, ts)
	if err != nil {
		return Event{}, err
	}
	if existing == nil {
		return Event{}, ErrNotCheckedIn
	}
	if existing.CheckOut != nil {
		return Event{}, ErrAlreadyCheckedOut
	}

	out := ts.UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_events SET check_out = ? WHERE id = ? AND check_out IS NULL
	`, out, existing.ID)
	if err != nil {
		return Event{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Event{}, ErrAlreadyCheckedOut // lost the race
	}
	existing.CheckOut = &out
	return *existing, nil
}

// GetEvent returns a single event by id.
func (r *Repository) GetEvent(ctx context.Context, id string) (Event, error) {
	row, cancel := r.db.QueryRowContext(ctx, selectEvent+` WHERE id = ?`, id)
	defer cancel()

	evt, err := scanEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, sql.ErrNoRows
	}
	if err != nil {
		return Event{}, r.db.MapErr(err)
	}
	return evt, nil
}

// ListForDate returns the day's events ordered by timestamp ascending.
func (r *Repository) ListForDate(ctx context.Context, date time.Time) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx,
		selectEvent+` WHERE date_key = ? ORDER BY occurred_at ASC, id ASC`,
		DateKey(date, r.loc))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		evt, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Report returns the day's events joined with person names, ordered by
// timestamp ascending, for the API report and the spreadsheet export.
func (r *Repository) Report(ctx context.Context, date time.Time) ([]ReportRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.person_id, e.occurred_at, e.date_key, e.check_out, e.status, e.note, e.created_at,
		       p.display_name, p.department
		FROM attendance_events e
		JOIN people p ON p.id = e.person_id
		WHERE e.date_key = ?
		ORDER BY e.occurred_at ASC, e.id ASC
	`, DateKey(date, r.loc))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var report []ReportRow
	for rows.Next() {
		var (
			rr       ReportRow
			checkOut sql.NullTime
		)
		if err := rows.Scan(&rr.ID, &rr.PersonID, &rr.Timestamp, &rr.DateKey, &checkOut,
			&rr.Status, &rr.Note, &rr.CreatedAt, &rr.DisplayName, &rr.Department); err != nil {
			return nil, err
		}
		if checkOut.Valid {
			t := checkOut.Time
			rr.CheckOut = &t
		}
		report = append(report, rr)
	}
	return report, rows.Err()
}

// CountForDate returns how many people were marked present that day.
func (r *Repository) CountForDate(ctx context.Context, date time.Time) (int, error) {
	row, cancel := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_events WHERE date_key = ?`, DateKey(date, r.loc))
	defer cancel()

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, r.db.MapErr(err)
	}
	return n, nil
}

// History returns a person's recent events, newest first.
func (r *Repository) History(ctx context.Context, personID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.QueryContext(ctx,
		selectEvent+` WHERE person_id = ? ORDER BY date_key DESC LIMIT ?`, personID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		evt, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func scanEvent(scan func(...any) error) (Event, error) {
	var (
		evt      Event
		checkOut sql.NullTime
	)
	if err := scan(&evt.ID, &evt.PersonID, &evt.Timestamp, &evt.DateKey, &checkOut,
		&evt.Status, &evt.Note, &evt.CreatedAt); err != nil {
		return Event{}, err
	}
	if checkOut.Valid {
		t := checkOut.Time
		evt.CheckOut = &t
	}
	return evt, nil
}

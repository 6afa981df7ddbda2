package ledger

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateAttendance reports that the person already has an event
	// for that calendar day. The unique constraint guarantees it even
	// under concurrent records.
	ErrDuplicateAttendance = errors.New("attendance already recorded for this day")
	// ErrNotCheckedIn rejects a check-out with no check-in today.
	ErrNotCheckedIn = errors.New("no check-in recorded for this day")
	// ErrAlreadyCheckedOut rejects a second check-out.
	ErrAlreadyCheckedOut = errors.New("already checked out for this day")
)

// Event is one attendance record: a person marked present on a calendar day.
// Rows are append-only; only the check-out time is ever filled in later.
type Event struct {
	ID        string     `json:"id"`
	PersonID  string     `json:"person_id"`
	Timestamp time.Time  `json:"timestamp"`
	DateKey   string     `json:"date_key"`
	CheckOut  *time.Time `json:"check_out,omitempty"`
	Status    string     `json:"status"`
	Note      string     `json:"note,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ReportRow joins an event with the person's name for per-date reports and
// spreadsheet export.
type ReportRow struct {
	Event
	DisplayName string `json:"display_name"`
	Department  string `json:"department,omitempty"`
}

// DateKey derives the calendar-day key for a timestamp in the given
// timezone. Computed in Go so Postgres and SQLite agree byte for byte.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("2006-01-02")
}

package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/identity"
	"faceattend/internal/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.Open(dsn, 3*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func enrollPerson(t *testing.T, db *store.DB, name string) identity.Person {
	t.Helper()
	p, err := identity.NewRepository(db).Insert(context.Background(), identity.Person{
		DisplayName: name,
		Embedding:   []float32{1, 0, 0},
	})
	require.NoError(t, err)
	return p
}

func TestRecordOncePerDay(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db, time.UTC)
	ctx := context.Background()
	alice := enrollPerson(t, db, "Alice")

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	evt, err := repo.Record(ctx, alice.ID, now)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, evt.PersonID)
	assert.Equal(t, "2026-03-02", evt.DateKey)
	assert.Equal(t, "present", evt.Status)

	_, err = repo.Record(ctx, alice.ID, now.Add(5*time.Minute))
	assert.ErrorIs(t, err, ErrDuplicateAttendance)

	// Next day is a fresh slate.
	_, err = repo.Record(ctx, alice.ID, now.Add(24*time.Hour))
	assert.NoError(t, err)
}

func TestRecordConcurrentSamePersonSameDay(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db, time.UTC)
	ctx := context.Background()
	alice := enrollPerson(t, db, "Alice")

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	const callers = 10

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		marked   int
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Record(ctx, alice.ID, now.Add(time.Duration(i)*time.Second))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				marked++
			case err == ErrDuplicateAttendance:
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, marked, "exactly one concurrent record must win")
	assert.Equal(t, callers-1, rejected)

	count, err := repo.CountForDate(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHasEventToday(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db, time.UTC)
	ctx := context.Background()
	alice := enrollPerson(t, db, "Alice")

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	evt, err := repo.HasEventToday(ctx, alice.ID, now)
	require.NoError(t, err)
	assert.Nil(t, evt)

	recorded, err := repo.Record(ctx, alice.ID, now)
	require.NoError(t, err)

	evt, err = repo.HasEventToday(ctx, alice.ID, now.Add(3*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, recorded.ID, evt.ID)

	evt, err = repo.HasEventToday(ctx, alice.ID, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, evt)
}

func TestCheckOutFlow(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db, time.UTC)
	ctx := context.Background()
	alice := enrollPerson(t, db, "Alice")

	morning := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	evening := morning.Add(9 * time.Hour)

	_, err := repo.CheckOut(ctx, alice.ID, evening)
	assert.ErrorIs(t, err, ErrNotCheckedIn)

	_, err = repo.Record(ctx, alice.ID, morning)
	require.NoError(t, err)

	evt, err := repo.CheckOut(ctx, alice.ID, evening)
	require.NoError(t, err)
	require.NotNil(t, evt.CheckOut)
	assert.True(t, evt.CheckOut.Equal(evening), "check-out time mismatch: %v", evt.CheckOut)

	_, err = repo.CheckOut(ctx, alice.ID, evening.Add(time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyCheckedOut)
}

func TestListForDateOrderedAscending(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db, time.UTC)
	ctx := context.Background()

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	// Insert out of order; the listing must come back by timestamp.
	for _, tc := range []struct {
		name   string
		minute int
	}{
		{"Carol", 5},
		{"Alice", 1},
		{"Bob", 3},
	} {
		p := enrollPerson(t, db, tc.name)
		_, err := repo.Record(ctx, p.ID, day.Add(9*time.Hour+time.Duration(tc.minute)*time.Minute))
		require.NoError(t, err)
	}

	events, err := repo.ListForDate(ctx, day)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[0].Timestamp.Before(events[1].Timestamp))
	assert.True(t, events[1].Timestamp.Before(events[2].Timestamp))

	report, err := repo.Report(ctx, day)
	require.NoError(t, err)
	require.Len(t, report, 3)
	assert.Equal(t, "Alice", report[0].DisplayName)
	assert.Equal(t, "Bob", report[1].DisplayName)
	assert.Equal(t, "Carol", report[2].DisplayName)

	other, err := repo.ListForDate(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDateKeyUsesConfiguredTimezone(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// 23:30 UTC is already the next day in Seoul (UTC+9).
	ts := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-01-01", DateKey(ts, time.UTC))
	assert.Equal(t, "2026-01-02", DateKey(ts, seoul))
}

func TestHistoryNewestFirst(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db, time.UTC)
	ctx := context.Background()
	alice := enrollPerson(t, db, "Alice")

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := repo.Record(ctx, alice.ID, base.AddDate(0, 0, i))
		require.NoError(t, err)
	}

	history, err := repo.History(ctx, alice.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2026-03-04", history[0].DateKey)
	assert.Equal(t, "2026-03-03", history[1].DateKey)
}

package export

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/attendance"
	"faceattend/internal/identity"
	"faceattend/internal/ledger"
	"faceattend/internal/queue"
	"faceattend/internal/store"
)

type sinkRecorder struct {
	mu     sync.Mutex
	single [][]string
	batch  [][][]string
}

func newSink(t *testing.T) (*httptest.Server, *sinkRecorder) {
	t.Helper()
	rec := &sinkRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			return
		}
		var payload struct {
			Values json.RawMessage `json:"values"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		rec.mu.Lock()
		defer rec.mu.Unlock()
		var row []string
		if err := json.Unmarshal(payload.Values, &row); err == nil {
			rec.single = append(rec.single, row)
			return
		}
		var rows [][]string
		require.NoError(t, json.Unmarshal(payload.Values, &rows))
		rec.batch = append(rec.batch, rows)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestWorkerExportsMarkedEvent(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.Open(dsn, 3*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := identity.NewService(identity.NewRepository(db), 0.50, 0.95)
	led := ledger.NewRepository(db, time.UTC)

	alice, err := ids.Enroll(ctx, "Alice", "Engineering", "", []float32{1, 0, 0})
	require.NoError(t, err)
	when := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	evt, err := led.Record(ctx, alice.ID, when)
	require.NoError(t, err)

	srv, rec := newSink(t)
	sheet := NewSheetClient(srv.URL, "")
	q := queue.NewInMemory(4)
	w := NewWorker(q, led, ids, sheet, time.UTC)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	body, _ := json.Marshal(attendance.ExportTask{EventID: evt.ID})
	require.NoError(t, q.Publish(ctx, queue.Message{Type: attendance.ExportTaskType, Body: body}))
	// Unknown message types are ignored, not exported.
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "something.else", Body: []byte(`{}`)}))

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.single) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	row := rec.single[0]
	rec.mu.Unlock()
	assert.Equal(t, []string{"2026-03-02", "09:15:00", "Alice", "Engineering", "present", ""}, row)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestExportDateBatch(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := store.Open(dsn, 3*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	ids := identity.NewService(identity.NewRepository(db), 0.50, 0.95)
	led := ledger.NewRepository(db, time.UTC)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	embeddings := [][]float32{{1, 0, 0}, {0, 1, 0}}
	for i, name := range []string{"Alice", "Bob"} {
		p, err := ids.Enroll(ctx, name, "", "", embeddings[i])
		require.NoError(t, err)
		_, err = led.Record(ctx, p.ID, day.Add(time.Duration(9+i)*time.Hour))
		require.NoError(t, err)
	}

	srv, rec := newSink(t)
	w := NewWorker(queue.NewInMemory(1), led, ids, NewSheetClient(srv.URL, ""), time.UTC)

	require.NoError(t, w.ExportDate(ctx, day))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.batch, 1)
	require.Len(t, rec.batch[0], 2)
	assert.Equal(t, "Alice", rec.batch[0][0][2])
	assert.Equal(t, "daily batch", rec.batch[0][0][5])
	assert.Equal(t, "Bob", rec.batch[0][1][2])

	// An empty day sends nothing.
	require.NoError(t, w.ExportDate(ctx, day.AddDate(0, 0, 1)))
	require.Len(t, rec.batch, 1)
}

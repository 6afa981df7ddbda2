package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendSendsRowValues(t *testing.T) {
	var got struct {
		Values []string `json:"values"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewSheetClient(srv.URL, "secret")
	row := Row{Date: "2026-03-02", Time: "09:15:00", Name: "Alice", Department: "Engineering", Status: "present"}
	require.NoError(t, c.Append(context.Background(), row))

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, []string{"2026-03-02", "09:15:00", "Alice", "Engineering", "present", ""}, got.Values)
}

func TestAppendBatch(t *testing.T) {
	var got struct {
		Values [][]string `json:"values"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := NewSheetClient(srv.URL, "")
	rows := []Row{
		{Date: "2026-03-02", Name: "Alice", Status: "present"},
		{Date: "2026-03-02", Name: "Bob", Status: "present"},
	}
	require.NoError(t, c.AppendBatch(context.Background(), rows))
	require.Len(t, got.Values, 2)
	assert.Equal(t, "Alice", got.Values[0][2])
	assert.Equal(t, "Bob", got.Values[1][2])
}

func TestAppendRecoversAfterOutage(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	var posts, pings atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Method == http.MethodGet {
			pings.Add(1)
		} else {
			posts.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewSheetClient(srv.URL, "")
	ctx := context.Background()
	row := Row{Date: "2026-03-02", Name: "Alice", Status: "present"}

	// Failure marks the client disconnected.
	require.Error(t, c.Append(ctx, row))

	// While the sink is down, the next attempt fails at the probe.
	err := c.Append(ctx, row)
	require.ErrorContains(t, err, "sheet sink still down")

	// Sink comes back; the probe clears the flag and the append lands.
	failing.Store(false)
	require.NoError(t, c.Append(ctx, row))
	assert.Equal(t, int32(1), pings.Load())
	assert.Equal(t, int32(1), posts.Load())
}

func TestDisabledClientIsNoOp(t *testing.T) {
	c := NewSheetClient("", "")
	assert.False(t, c.Enabled())
	assert.NoError(t, c.Append(context.Background(), Row{Name: "Alice"}))
	assert.NoError(t, c.AppendBatch(context.Background(), []Row{{Name: "Alice"}}))
}

package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Row is one spreadsheet line: the layout the attendance sheet has always
// used — date, time, name, department, status, note.
type Row struct {
	Date       string `json:"date"`
	Time       string `json:"time"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Status     string `json:"status"`
	Note       string `json:"note"`
}

// Values renders the row in column order.
func (r Row) Values() []string {
	return []string{r.Date, r.Time, r.Name, r.Department, r.Status, r.Note}
}

// SheetClient appends rows to an external spreadsheet sink over REST. After
// a failed append it marks itself disconnected and probes the sink before
// the next attempt, so a flapping sink recovers without restarts.
type SheetClient struct {
	URL   string
	Token string
	HTTP  *http.Client

	mu           sync.Mutex
	disconnected bool
}

// NewSheetClient creates a client. An empty url disables export.
func NewSheetClient(url, token string) *SheetClient {
	return &SheetClient{
		URL:   url,
		Token: token,
		HTTP:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether a sink is configured.
func (c *SheetClient) Enabled() bool { return c != nil && c.URL != "" }

// Append pushes one row to the sink.
func (c *SheetClient) Append(ctx context.Context, row Row) error {
	if !c.Enabled() {
		return nil
	}

	c.mu.Lock()
	needsProbe := c.disconnected
	c.mu.Unlock()
	if needsProbe {
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("sheet sink still down: %w", err)
		}
	}

	err := c.post(ctx, map[string]any{"values": row.Values()})
	c.mu.Lock()
	c.disconnected = err != nil
	c.mu.Unlock()
	return err
}

// AppendBatch pushes a set of rows in one request, for the nightly export.
func (c *SheetClient) AppendBatch(ctx context.Context, rows []Row) error {
	if !c.Enabled() || len(rows) == 0 {
		return nil
	}
	values := make([][]string, len(rows))
	for i, r := range rows {
		values[i] = r.Values()
	}
	err := c.post(ctx, map[string]any{"values": values})
	c.mu.Lock()
	c.disconnected = err != nil
	c.mu.Unlock()
	return err
}

// Ping probes the sink and clears the disconnected flag on success.
func (c *SheetClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("sheet sink unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("sheet sink unhealthy: %s", resp.Status)
	}
	c.mu.Lock()
	c.disconnected = false
	c.mu.Unlock()
	return nil
}

func (c *SheetClient) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("sheet sink request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sheet sink error %s: %s", resp.Status, string(respBody))
	}
	return nil
}

func (c *SheetClient) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

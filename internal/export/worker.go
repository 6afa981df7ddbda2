package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/identity"
	"faceattend/internal/ledger"
	"faceattend/internal/queue"
)

// Worker forwards marked attendance to the spreadsheet sink: one row per
// queue message, plus a batch export of a full day on schedule.
type Worker struct {
	q     queue.Queue
	led   *ledger.Repository
	ids   *identity.Service
	sheet *SheetClient
	loc   *time.Location
}

// NewWorker wires the export pipeline.
func NewWorker(q queue.Queue, led *ledger.Repository, ids *identity.Service, sheet *SheetClient, loc *time.Location) *Worker {
	if loc == nil {
		loc = time.Local
	}
	return &Worker{q: q, led: led, ids: ids, sheet: sheet, loc: loc}
}

// Run consumes the queue until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}

	log.Println("export worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != attendance.ExportTaskType {
			continue
		}
		var task attendance.ExportTask
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			log.Printf("bad export task: %v", err)
			continue
		}
		if err := w.exportEvent(ctx, task.EventID); err != nil {
			log.Printf("export event %s failed: %v", task.EventID, err)
			continue
		}
		log.Printf("exported event %s", task.EventID)
	}
	log.Println("export worker stopped")
	return nil
}

// exportEvent resolves the event and person and appends one sheet row. One
// retry after a failed append, since the client reconnects in between.
func (w *Worker) exportEvent(ctx context.Context, eventID string) error {
	evt, err := w.led.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("fetch event: %w", err)
	}
	person, err := w.ids.Get(ctx, evt.PersonID)
	if err != nil {
		return fmt.Errorf("fetch person: %w", err)
	}

	row := w.rowFor(evt, person.DisplayName, person.Department)
	if err := w.sheet.Append(ctx, row); err != nil {
		log.Printf("sheet append failed, retrying once: %v", err)
		return w.sheet.Append(ctx, row)
	}
	return nil
}

// ExportDate pushes the whole day's report as a batch. Used by the nightly
// schedule to reconcile rows missed while the sink was down.
func (w *Worker) ExportDate(ctx context.Context, date time.Time) error {
	report, err := w.led.Report(ctx, date)
	if err != nil {
		return fmt.Errorf("load report: %w", err)
	}
	if len(report) == 0 {
		return nil
	}
	rows := make([]Row, len(report))
	for i, rr := range report {
		rows[i] = w.rowFor(rr.Event, rr.DisplayName, rr.Department)
		rows[i].Note = "daily batch"
	}
	if err := w.sheet.AppendBatch(ctx, rows); err != nil {
		return fmt.Errorf("append batch: %w", err)
	}
	log.Printf("exported %d rows for %s", len(rows), ledger.DateKey(date, w.loc))
	return nil
}

func (w *Worker) rowFor(evt ledger.Event, name, department string) Row {
	local := evt.Timestamp.In(w.loc)
	return Row{
		Date:       local.Format("2006-01-02"),
		Time:       local.Format("15:04:05"),
		Name:       name,
		Department: department,
		Status:     evt.Status,
		Note:       evt.Note,
	}
}

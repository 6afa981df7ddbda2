package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"faceattend/internal/identity"
	"faceattend/internal/ledger"
	"faceattend/internal/queue"
	"faceattend/internal/recognizer"
)

var outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "faceattend_outcomes_total",
	Help: "Recognition cycle outcomes by status.",
}, []string{"status"})

// ExportTaskType labels queue messages carrying a marked event for the
// spreadsheet export worker.
const ExportTaskType = "attendance.marked"

// ExportTask is the queue payload published after a successful mark.
type ExportTask struct {
	EventID string `json:"event_id"`
}

// Coordinator runs one recognition-to-attendance cycle. It holds no state of
// its own; identity and ledger own all state, which makes repeated cycles
// idempotent from the caller's side.
type Coordinator struct {
	rec recognizer.Recognizer
	ids *identity.Service
	led *ledger.Repository
	q   queue.Queue
}

// NewCoordinator wires the cycle. q may be nil when no export worker runs.
func NewCoordinator(rec recognizer.Recognizer, ids *identity.Service, led *ledger.Repository, q queue.Queue) *Coordinator {
	return &Coordinator{rec: rec, ids: ids, led: led, q: q}
}

// ProcessFrame takes one captured frame and decides attendance. Unrecognized
// faces and repeated marks come back as outcomes; only infrastructure
// failures return an error. A cancelled context never produces a ledger
// write.
func (c *Coordinator) ProcessFrame(ctx context.Context, frame []byte, dir Direction) (Outcome, error) {
	if dir == "" {
		dir = DirectionIn
	}

	detections, err := c.rec.DetectAndEmbed(ctx, frame)
	if err != nil {
		return Outcome{}, fmt.Errorf("detect: %w", err)
	}
	face, ok := primaryFace(detections)
	if !ok {
		return c.done(Outcome{Status: StatusNoMatchFound}), nil
	}

	match, ok := c.ids.LookupByEmbedding(ctx, face.Embedding)
	if !ok {
		return c.done(Outcome{Status: StatusNoMatchFound}), nil
	}

	// The caller may have abandoned the cycle while detection ran; a
	// partial result must not reach the ledger.
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	person, err := c.ids.Get(ctx, match.PersonID)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve person %s: %w", match.PersonID, err)
	}

	now := time.Now()
	switch dir {
	case DirectionOut:
		return c.checkOut(ctx, person, match.Confidence, now)
	default:
		return c.checkIn(ctx, person, match.Confidence, now)
	}
}

func (c *Coordinator) checkIn(ctx context.Context, person identity.Person, conf float64, now time.Time) (Outcome, error) {
	existing, err := c.led.HasEventToday(ctx, person.ID, now)
	if err != nil {
		return Outcome{}, err
	}
	if existing != nil {
		return c.done(Outcome{Status: StatusAlreadyMarked, Person: &person, Event: existing, Confidence: conf}), nil
	}

	evt, err := c.led.Record(ctx, person.ID, now)
	if errors.Is(err, ledger.ErrDuplicateAttendance) {
		// Lost the race against a concurrent cycle; same outcome as
		// an ordinary repeat.
		existing, err = c.led.HasEventToday(ctx, person.ID, now)
		if err != nil {
			return Outcome{}, err
		}
		return c.done(Outcome{Status: StatusAlreadyMarked, Person: &person, Event: existing, Confidence: conf}), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	c.publishExport(ctx, evt.ID)
	return c.done(Outcome{Status: StatusMarked, Person: &person, Event: &evt, Confidence: conf}), nil
}

func (c *Coordinator) checkOut(ctx context.Context, person identity.Person, conf float64, now time.Time) (Outcome, error) {
	evt, err := c.led.CheckOut(ctx, person.ID, now)
	switch {
	case errors.Is(err, ledger.ErrNotCheckedIn):
		return c.done(Outcome{Status: StatusNotCheckedIn, Person: &person, Confidence: conf}), nil
	case errors.Is(err, ledger.ErrAlreadyCheckedOut):
		existing, herr := c.led.HasEventToday(ctx, person.ID, now)
		if herr != nil {
			return Outcome{}, herr
		}
		return c.done(Outcome{Status: StatusAlreadyCheckedOut, Person: &person, Event: existing, Confidence: conf}), nil
	case err != nil:
		return Outcome{}, err
	}
	return c.done(Outcome{Status: StatusCheckedOut, Person: &person, Event: &evt, Confidence: conf}), nil
}

// publishExport hands the marked event to the export queue. Best effort: a
// full or unreachable queue must not fail the mark.
func (c *Coordinator) publishExport(ctx context.Context, eventID string) {
	if c.q == nil {
		return
	}
	body, _ := json.Marshal(ExportTask{EventID: eventID})
	if err := c.q.Publish(ctx, queue.Message{Type: ExportTaskType, Body: body}); err != nil {
		log.Printf("export publish failed for event %s: %v", eventID, err)
	}
}

func (c *Coordinator) done(o Outcome) Outcome {
	outcomes.WithLabelValues(string(o.Status)).Inc()
	return o
}

// primaryFace picks the largest detected face; frames with several faces
// resolve against the dominant one.
func primaryFace(detections []recognizer.Detection) (recognizer.Detection, bool) {
	best := -1
	area := -1
	for i, d := range detections {
		if len(d.Embedding) == 0 {
			continue
		}
		a := (d.Box[2] - d.Box[0]) * (d.Box[3] - d.Box[1])
		if a > area {
			area = a
			best = i
		}
	}
	if best < 0 {
		return recognizer.Detection{}, false
	}
	return detections[best], true
}

package attendance

import (
	"faceattend/internal/identity"
	"faceattend/internal/ledger"
)

// Status classifies the result of one recognition cycle. Duplicate marks and
// unrecognized faces are normal outcomes, not errors.
type Status string

const (
	StatusMarked            Status = "marked"
	StatusAlreadyMarked     Status = "already_marked"
	StatusNoMatchFound      Status = "no_match_found"
	StatusCheckedOut        Status = "checked_out"
	StatusAlreadyCheckedOut Status = "already_checked_out"
	StatusNotCheckedIn      Status = "not_checked_in"
)

// Direction selects check-in or check-out for a cycle.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Outcome is the result of processing one frame. Person and Event are set
// whenever an identity resolved; Confidence is the match similarity.
type Outcome struct {
	Status     Status           `json:"status"`
	Person     *identity.Person `json:"person,omitempty"`
	Event      *ledger.Event    `json:"event,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
}

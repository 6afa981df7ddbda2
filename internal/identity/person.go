package identity

import (
	"errors"
	"time"
)

var (
	// ErrNotFound reports an unknown person id.
	ErrNotFound = errors.New("person not found")
	// ErrDuplicateEmbedding rejects enrolling a face that already matches
	// an enrolled person.
	ErrDuplicateEmbedding = errors.New("embedding already enrolled")
)

// Person is an enrolled identity. The embedding is the opaque face template
// captured at enrollment; it belongs to exactly one person.
type Person struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Department  string    `json:"department,omitempty"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Match is the result of a 1:N embedding lookup.
type Match struct {
	PersonID   string
	Confidence float64
}

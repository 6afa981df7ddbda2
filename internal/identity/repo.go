package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"faceattend/internal/store"
)

// Repository persists enrolled people. Embeddings are stored as JSON arrays
// in a TEXT column so the same schema works on Postgres and SQLite.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new person and returns it with id and created_at set.
func (r *Repository) Insert(ctx context.Context, p Person) (Person, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	enc, err := json.Marshal(p.Embedding)
	if err != nil {
		return Person{}, fmt.Errorf("encode embedding: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO people (id, display_name, department, photo_url, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.DisplayName, p.Department, p.PhotoURL, string(enc), p.CreatedAt)
	if err != nil {
		return Person{}, err
	}
	return p, nil
}

// Get returns a single person by id.
func (r *Repository) Get(ctx context.Context, id string) (Person, error) {
	row, cancel := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, department, photo_url, embedding, created_at
		FROM people WHERE id = ?
	`, id)
	defer cancel()

	p, err := scanPerson(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, r.db.MapErr(err)
	}
	return p, nil
}

// List returns all enrolled people ordered by name.
func (r *Repository) List(ctx context.Context) ([]Person, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, display_name, department, photo_url, embedding, created_at
		FROM people ORDER BY display_name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		p, err := scanPerson(rows.Scan)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// Delete removes a person and their attendance rows. Unenrollment is the
// one sanctioned deletion in the system.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM attendance_events WHERE person_id = ?`, id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM people WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of enrolled people.
func (r *Repository) Count(ctx context.Context) (int, error) {
	row, cancel := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM people`)
	defer cancel()
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, r.db.MapErr(err)
	}
	return n, nil
}

func scanPerson(scan func(...any) error) (Person, error) {
	var (
		p   Person
		enc string
	)
	if err := scan(&p.ID, &p.DisplayName, &p.Department, &p.PhotoURL, &enc, &p.CreatedAt); err != nil {
		return Person{}, err
	}
	if err := json.Unmarshal([]byte(enc), &p.Embedding); err != nil {
		return Person{}, fmt.Errorf("decode embedding for %s: %w", p.ID, err)
	}
	return p, nil
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Service is the identity store: enrollment, unenrollment and 1:N lookup.
// Enrollments are serialized so two visually similar faces cannot slip past
// the duplicate guard concurrently.
type Service struct {
	repo  *Repository
	index *Index

	// match is the minimum similarity for a recognition hit (inclusive);
	// duplicate is the stricter bar at which a new enrollment is treated
	// as an already enrolled face.
	match     float64
	duplicate float64

	enrollMu sync.Mutex
}

// NewService builds a service around a repository.
func NewService(repo *Repository, matchThreshold, duplicateThreshold float64) *Service {
	if matchThreshold <= 0 {
		matchThreshold = 0.50
	}
	if duplicateThreshold <= 0 {
		duplicateThreshold = 0.75
	}
	return &Service{
		repo:      repo,
		index:     NewIndex(),
		match:     matchThreshold,
		duplicate: duplicateThreshold,
	}
}

// Load hydrates the embedding index from storage. Call once at startup.
func (s *Service) Load(ctx context.Context) (int, error) {
	people, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load people: %w", err)
	}
	s.index.Build(people)
	return len(people), nil
}

// Enroll registers a new person. Fails with ErrDuplicateEmbedding when the
// face already matches an enrolled person at or above the duplicate
// threshold.
func (s *Service) Enroll(ctx context.Context, displayName, department, photoURL string, embedding []float32) (Person, error) {
	if displayName == "" {
		return Person{}, errors.New("display name required")
	}
	if len(embedding) == 0 {
		return Person{}, errors.New("embedding required")
	}

	s.enrollMu.Lock()
	defer s.enrollMu.Unlock()

	if m, ok := s.index.Nearest(embedding); ok && m.Confidence >= s.duplicate {
		return Person{}, fmt.Errorf("%w: matches person %s (%.2f)", ErrDuplicateEmbedding, m.PersonID, m.Confidence)
	}

	p, err := s.repo.Insert(ctx, Person{
		DisplayName: displayName,
		Department:  department,
		PhotoURL:    photoURL,
		Embedding:   embedding,
	})
	if err != nil {
		return Person{}, err
	}
	s.index.Add(p.ID, p.Embedding)
	return p, nil
}

// LookupByEmbedding returns the best enrolled match at or above the match
// threshold. A below-threshold best candidate is reported as no match, never
// as a tentative identity.
func (s *Service) LookupByEmbedding(_ context.Context, embedding []float32) (Match, bool) {
	m, ok := s.index.Nearest(embedding)
	if !ok || m.Confidence < s.match {
		return Match{}, false
	}
	return m, true
}

// Get fetches a person by id.
func (s *Service) Get(ctx context.Context, id string) (Person, error) {
	return s.repo.Get(ctx, id)
}

// List returns all enrolled people.
func (s *Service) List(ctx context.Context) ([]Person, error) {
	return s.repo.List(ctx)
}

// Count returns the number of enrolled people.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Unenroll removes a person and their attendance history.
func (s *Service) Unenroll(ctx context.Context, id string) error {
	s.enrollMu.Lock()
	defer s.enrollMu.Unlock()
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.index.Remove(id)
	return nil
}

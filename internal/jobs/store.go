package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/Davinchi1352/bukoai-sub001/internal/providers"
)

// Store is the job record store. UpdateStatus is idempotent (repeating the
// last transition is safe after a worker crash) and AppendUsage is additive.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)

	// UpdateStatus applies a forward-only status transition. A failure
	// payload accompanies failed transitions.
	UpdateStatus(ctx context.Context, id string, to Status, failure *Failure) error

	// AppendUsage adds usage to the job's cumulative metrics.
	AppendUsage(ctx context.Context, id string, usage providers.Usage, costUSD float64) error

	// Update applies a read-modify-write mutation to the job record.
	// Mutations must not move status backward; use UpdateStatus for
	// lifecycle changes.
	Update(ctx context.Context, id string, mutate func(*Job) error) error
}

// MemoryStore is the in-process store used in single-binary deployments
// and tests. Jobs are copied on the way in and out; the Architecture is
// replaced whole on regeneration, never mutated, so sharing its pointer
// across copies is safe.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, to Status, failure *Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if err := job.Advance(to); err != nil {
		return err
	}
	if failure != nil {
		job.Failure = failure
	}
	return nil
}

func (s *MemoryStore) AppendUsage(_ context.Context, id string, usage providers.Usage, costUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Usage.Add(usage, costUSD)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, mutate func(*Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	cp := *job
	if err := mutate(&cp); err != nil {
		return err
	}
	if cp.Status != job.Status {
		return fmt.Errorf("status changed in Update (%s -> %s), use UpdateStatus", job.Status, cp.Status)
	}
	s.jobs[id] = &cp
	return nil
}

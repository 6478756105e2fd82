// Package jobs owns the generation job lifecycle: the job record and its
// forward-only state machine, the priority queue, per-user admission, the
// worker pool, and the per-job phase pipeline.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Davinchi1352/bukoai-sub001/internal/coherence"
	"github.com/Davinchi1352/bukoai-sub001/internal/outline"
	"github.com/Davinchi1352/bukoai-sub001/internal/providers"
)

// Status is the lifecycle state of a generation job. Transitions are
// forward-only; a job never re-enters an earlier status.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusArchitecture     Status = "architecture"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusGenerating       Status = "generating"
	StatusReconciling      Status = "reconciling"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// statusRank orders the lifecycle for forward-only enforcement. Terminal
// states share the highest rank; no transition leaves them.
var statusRank = map[Status]int{
	StatusQueued:           0,
	StatusArchitecture:     1,
	StatusAwaitingApproval: 2,
	StatusGenerating:       3,
	StatusReconciling:      4,
	StatusCompleted:        5,
	StatusFailed:           5,
	StatusCancelled:        5,
}

// Terminal reports whether the status ends the job's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrBackwardTransition is returned when a status change would move a job
// to an earlier or already-terminal lifecycle state.
var ErrBackwardTransition = errors.New("backward status transition")

// ErrNotFound is returned by stores for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// Priority selects the scheduling queue for a job.
const (
	PriorityLow    = 0  // ancillary work (notifications, cleanup)
	PriorityNormal = 10 // full book generation
	PriorityHigh   = 20 // architecture-only work, kept snappy for the user
)

// Failure is the structured error payload of a failed job.
type Failure struct {
	Kind    string `json:"kind"`
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// UsageMetrics is the cumulative token and cost accounting for one job.
// It only ever grows; every phase, regeneration, and expansion adds to it.
type UsageMetrics struct {
	providers.Usage
	CostUSD float64 `json:"cost_usd"`
}

// Add accumulates another usage report plus its estimated cost.
func (u *UsageMetrics) Add(other providers.Usage, costUSD float64) {
	u.Usage.Add(other)
	u.CostUSD += costUSD
}

// Job is one book generation request moving through the engine. The
// scheduler owns the record; everything else reads it through the store.
type Job struct {
	ID       string             `json:"id"`
	UserID   string             `json:"user_id"`
	Priority int                `json:"priority"`
	Status   Status             `json:"status"`
	Params   outline.BookParams `json:"params"`

	Architecture *outline.Architecture `json:"architecture,omitempty"`

	// Approved gates the transition out of awaiting_approval.
	Approved bool `json:"approved"`

	Retries   int          `json:"retries"`
	Usage     UsageMetrics `json:"usage"`
	Shortfall bool         `json:"shortfall"`
	Failure   *Failure     `json:"failure,omitempty"`

	// DuplicateHeaders flags chapter headers that collide with an earlier
	// accepted chunk. Flagged chunks are still accepted; the flags survive
	// so reviewers can find the repeats.
	DuplicateHeaders []coherence.Duplicate `json:"duplicate_headers,omitempty"`

	// Manuscript accumulates accepted chunk text in chunk order.
	Manuscript     string  `json:"manuscript,omitempty"`
	MeasuredPages  float64 `json:"measured_pages,omitempty"`
	MeasuredWords  int     `json:"measured_words,omitempty"`
	ChunksAccepted int     `json:"chunks_accepted"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a queued job for the given user and parameters.
func NewJob(userID string, params outline.BookParams) *Job {
	return &Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Priority:  PriorityNormal,
		Status:    StatusQueued,
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}
}

// CanTransition reports whether moving to the target status is a forward
// transition. Idempotent repeats of the current status are allowed so a
// crashed worker can safely replay its last update.
func (j *Job) CanTransition(to Status) bool {
	from, ok := statusRank[j.Status]
	if !ok {
		return false
	}
	target, ok := statusRank[to]
	if !ok {
		return false
	}
	if j.Status.Terminal() {
		return to == j.Status
	}
	if to == j.Status {
		return true
	}
	return target > from
}

// Advance moves the job to the target status, enforcing forward-only
// movement. Terminal transitions stamp CompletedAt exactly once.
func (j *Job) Advance(to Status) error {
	if !j.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, j.Status, to)
	}
	if to == j.Status {
		return nil
	}
	j.Status = to
	now := time.Now().UTC()
	switch {
	case to == StatusArchitecture && j.StartedAt == nil:
		j.StartedAt = &now
	case to.Terminal() && j.CompletedAt == nil:
		j.CompletedAt = &now
	}
	return nil
}

package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/Davinchi1352/bukoai-sub001/internal/outline"
	"github.com/Davinchi1352/bukoai-sub001/internal/providers"
)

func TestMemoryStore_CreateGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	job := NewJob("user-1", outline.BookParams{Title: "A Book"})

	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, job); err == nil {
		t.Error("duplicate Create() succeeded")
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Params.Title != "A Book" || got.Status != StatusQueued {
		t.Errorf("Get() = %+v", got)
	}

	// The returned record is a copy; mutating it must not leak back.
	got.Params.Title = "mutated"
	again, _ := store.Get(ctx, job.ID)
	if again.Params.Title != "A Book" {
		t.Error("Get() returned a shared reference")
	}
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_UpdateStatusForwardOnly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	job := NewJob("user-1", outline.BookParams{})
	store.Create(ctx, job)

	if err := store.UpdateStatus(ctx, job.ID, StatusGenerating, nil); err != nil {
		t.Fatalf("UpdateStatus(generating) error = %v", err)
	}
	// Idempotent replay of the same transition.
	if err := store.UpdateStatus(ctx, job.ID, StatusGenerating, nil); err != nil {
		t.Errorf("idempotent UpdateStatus error = %v", err)
	}
	// Backward transition rejected, record untouched.
	if err := store.UpdateStatus(ctx, job.ID, StatusQueued, nil); !errors.Is(err, ErrBackwardTransition) {
		t.Errorf("backward UpdateStatus error = %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusGenerating {
		t.Errorf("status = %s after rejected transition", got.Status)
	}
}

func TestMemoryStore_FailureRecorded(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	job := NewJob("user-1", outline.BookParams{})
	store.Create(ctx, job)

	failure := &Failure{Kind: "authentication", Phase: "architecture", Message: "bad key"}
	if err := store.UpdateStatus(ctx, job.ID, StatusFailed, failure); err != nil {
		t.Fatalf("UpdateStatus(failed) error = %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Failure == nil || got.Failure.Kind != "authentication" {
		t.Errorf("Failure = %+v", got.Failure)
	}
}

func TestMemoryStore_AppendUsageAdditive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	job := NewJob("user-1", outline.BookParams{})
	store.Create(ctx, job)

	store.AppendUsage(ctx, job.ID, providers.Usage{PromptTokens: 10, CompletionTokens: 100}, 0.01)
	store.AppendUsage(ctx, job.ID, providers.Usage{PromptTokens: 5, CompletionTokens: 50}, 0.005)

	got, _ := store.Get(ctx, job.ID)
	if got.Usage.PromptTokens != 15 || got.Usage.CompletionTokens != 150 {
		t.Errorf("Usage = %+v", got.Usage)
	}
}

func TestMemoryStore_UpdateRejectsStatusChange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	job := NewJob("user-1", outline.BookParams{})
	store.Create(ctx, job)

	err := store.Update(ctx, job.ID, func(j *Job) error {
		j.Status = StatusCompleted
		return nil
	})
	if err == nil {
		t.Fatal("Update() accepted a status change")
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
}

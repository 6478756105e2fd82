package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Davinchi1352/bukoai-sub001/internal/metrics"
	"github.com/Davinchi1352/bukoai-sub001/internal/outline"
	"github.com/Davinchi1352/bukoai-sub001/internal/resilience"
)

// SchedulerConfig wires the worker pool.
type SchedulerConfig struct {
	// Workers is the fixed pool size; each slot runs one job end-to-end
	// (default 4).
	Workers int

	Store    Store
	Queue    *Queue
	Limiter  RateLimiter
	Pipeline *Pipeline
	Progress Sink

	// DeferDelay is the requeue delay for deferred jobs: over the rate
	// limit or blocked by an open breaker (default 1m).
	DeferDelay time.Duration

	Logger *slog.Logger
}

func (c *SchedulerConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.DeferDelay <= 0 {
		c.DeferDelay = time.Minute
	}
	if c.Progress == nil {
		c.Progress = LogSink{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler pulls jobs priority-first FIFO and executes each on one worker
// slot end-to-end. Admission runs just before execution so a deferred job
// re-checks its user's window when its turn comes again.
type Scheduler struct {
	cfg    SchedulerConfig
	logger *slog.Logger
}

// NewScheduler creates a scheduler over a queue, store, and pipeline.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{cfg: cfg, logger: cfg.Logger.With("component", "scheduler")}
}

// Submit persists a new job and queues it for execution.
func (s *Scheduler) Submit(ctx context.Context, job *Job) error {
	if err := s.cfg.Store.Create(ctx, job); err != nil {
		return err
	}
	if err := s.cfg.Queue.Push(job.ID, job.Priority); err != nil {
		return err
	}
	s.logger.Info("job submitted", "job_id", job.ID, "user_id", job.UserID, "priority", job.Priority)
	return nil
}

// Approve marks a parked architecture as accepted and queues the job for
// full generation.
func (s *Scheduler) Approve(ctx context.Context, jobID string) error {
	job, err := s.cfg.Store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusAwaitingApproval {
		return fmt.Errorf("job %s is %s, approval requires awaiting_approval", jobID, job.Status)
	}
	if err := s.cfg.Store.Update(ctx, jobID, func(j *Job) error {
		j.Approved = true
		return nil
	}); err != nil {
		return err
	}
	return s.cfg.Queue.Push(jobID, PriorityNormal)
}

// Regenerate replaces a parked job's architecture from user feedback. The
// work runs as a high-priority queue entry so outline turnaround stays
// snappy; the feedback is applied synchronously here because the next
// pipeline run would otherwise not know it.
func (s *Scheduler) Regenerate(ctx context.Context, jobID string, fb outline.Feedback) error {
	return s.cfg.Pipeline.Regenerate(ctx, jobID, fb)
}

// Cancel moves a job to cancelled. Running jobs notice at their next phase
// boundary; mid-stream generation is never interrupted.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	err := s.cfg.Store.UpdateStatus(ctx, jobID, StatusCancelled, nil)
	if err != nil {
		return err
	}
	metrics.JobsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.cfg.Progress.Report(ProgressEvent{
		JobID:     jobID,
		Phase:     "cancelled",
		Percent:   100,
		Message:   "job cancelled by user",
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "workers", s.cfg.Workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			s.runWorker(ctx, worker)
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) runWorker(ctx context.Context, worker int) {
	logger := s.logger.With("worker", worker)
	for {
		jobID, priority := s.cfg.Queue.Pop(ctx.Done())
		if jobID == "" {
			return
		}
		s.execute(ctx, jobID, priority, logger)
	}
}

// execute runs one queue entry through admission and the pipeline.
func (s *Scheduler) execute(ctx context.Context, jobID string, priority int, logger *slog.Logger) {
	job, err := s.cfg.Store.Get(ctx, jobID)
	if err != nil {
		logger.Error("job load failed", "job_id", jobID, "error", err)
		return
	}
	if job.Status.Terminal() {
		return
	}

	if ok := s.admit(ctx, job, priority, logger); !ok {
		return
	}

	start := time.Now()
	err = s.cfg.Pipeline.Run(ctx, jobID)
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		logger.Info("job finished", "job_id", jobID, "duration", time.Since(start))

	case errors.Is(err, ErrAwaitingApproval):
		logger.Info("job parked for approval", "job_id", jobID)

	case errors.Is(err, resilience.ErrCircuitOpen):
		s.deferJob(job, priority, "provider unavailable", logger)

	case errors.Is(err, context.Canceled):
		// Shutdown; the job resumes from its persisted state next run.

	default:
		// The pipeline already recorded the terminal failure.
		logger.Error("job failed", "job_id", jobID, "error", err)
	}
}

// admit applies the per-user rolling-window limit for the operation the job
// is about to perform. Over-limit jobs requeue with a delay instead of
// failing, and do not consume quota.
func (s *Scheduler) admit(ctx context.Context, job *Job, priority int, logger *slog.Logger) bool {
	if s.cfg.Limiter == nil {
		return true
	}

	op := OpArchitecture
	if job.Status == StatusAwaitingApproval && job.Approved || job.Status == StatusGenerating {
		op = OpGeneration
	}

	allowed, err := s.cfg.Limiter.Allow(ctx, job.UserID, op)
	if err != nil {
		// Admission must not take the engine down with it.
		logger.Error("rate limit check failed", "job_id", job.ID, "error", err)
		return true
	}
	if !allowed {
		s.deferJob(job, priority, fmt.Sprintf("user %s over %s limit", job.UserID, op), logger)
		return false
	}
	return true
}

func (s *Scheduler) deferJob(job *Job, priority int, reason string, logger *slog.Logger) {
	metrics.JobsDeferredTotal.Inc()
	logger.Warn("job deferred", "job_id", job.ID, "reason", reason, "delay", s.cfg.DeferDelay)
	s.cfg.Progress.Report(ProgressEvent{
		JobID:     job.ID,
		Phase:     "deferred",
		Message:   reason,
		Timestamp: time.Now().UTC(),
	})
	if err := s.cfg.Queue.PushAfter(job.ID, priority, s.cfg.DeferDelay); err != nil {
		logger.Error("requeue failed", "job_id", job.ID, "error", err)
	}
}

package jobs

import (
	"log/slog"
	"sync"
	"time"
)

// ProgressEvent is the advisory progress report pushed to connected
// clients. Delivery is at-least-once; consumers must tolerate duplicates
// and reordering.
type ProgressEvent struct {
	JobID     string    `json:"job_id"`
	Phase     string    `json:"phase"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives progress events. Implementations must not block; slow
// consumers drop events rather than stalling the pipeline.
type Sink interface {
	Report(ev ProgressEvent)
}

// LogSink writes progress events to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Report(ev ProgressEvent) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("progress",
		"job_id", ev.JobID,
		"phase", ev.Phase,
		"percent", ev.Percent,
		"message", ev.Message)
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Report(ev ProgressEvent) {
	for _, s := range m {
		s.Report(ev)
	}
}

// Hub fans progress events out to per-job subscribers. It backs the
// server's live progress feed: each subscriber gets a buffered channel and
// events are dropped, not queued unboundedly, when a subscriber lags.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan ProgressEvent]struct{} // jobID -> subscriber set
}

// NewHub creates an empty progress hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan ProgressEvent]struct{})}
}

// Subscribe registers for a job's progress events. The returned cancel
// function must be called when the consumer goes away.
func (h *Hub) Subscribe(jobID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 32)

	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[chan ProgressEvent]struct{})
		h.subs[jobID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[jobID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, jobID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Report delivers the event to every subscriber of its job.
func (h *Hub) Report(ev ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; progress is advisory.
		}
	}
}

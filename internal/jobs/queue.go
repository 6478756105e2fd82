package jobs

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrNilJob is returned when attempting to enqueue a nil job reference.
var ErrNilJob = errors.New("cannot enqueue nil job")

// queueEntry is one scheduled job reference. Jobs live in the store; the
// queue carries only identity, priority, and a not-before time for deferred
// re-queues.
type queueEntry struct {
	jobID     string
	priority  int
	notBefore time.Time
	seq       uint64
}

// Queue is a thread-safe priority multi-queue: higher priority first, FIFO
// within a priority. Deferred entries carry a not-before time and are not
// handed out until it passes.
type Queue struct {
	mu     sync.Mutex
	items  entryHeap
	seq    uint64
	notify chan struct{}
	now    func() time.Time
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{
		items:  make(entryHeap, 0),
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
	heap.Init(&q.items)
	return q
}

// Push enqueues a job reference.
func (q *Queue) Push(jobID string, priority int) error {
	return q.PushAfter(jobID, priority, 0)
}

// PushAfter enqueues a job reference that must not be handed out before the
// delay elapses. Used for deferred jobs (rate limit hit, breaker open).
func (q *Queue) PushAfter(jobID string, priority int, delay time.Duration) error {
	if jobID == "" {
		return ErrNilJob
	}

	q.mu.Lock()
	q.seq++
	entry := &queueEntry{
		jobID:    jobID,
		priority: priority,
		seq:      q.seq,
	}
	if delay > 0 {
		entry.notBefore = q.now().Add(delay)
	}
	heap.Push(&q.items, entry)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the highest-priority ready job ID. Blocks until
// an entry is ready or ctx-style done channel closes; returns "" on close.
func (q *Queue) Pop(done <-chan struct{}) (string, int) {
	for {
		id, prio, wait := q.tryPopLocked()
		if id != "" {
			return id, prio
		}

		if wait <= 0 {
			// Nothing queued at all; wait for a push.
			select {
			case <-done:
				return "", 0
			case <-q.notify:
			}
			continue
		}

		// Head of queue is deferred; wait out its delay.
		timer := time.NewTimer(wait)
		select {
		case <-done:
			timer.Stop()
			return "", 0
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// TryPop attempts to pop a ready entry without blocking.
func (q *Queue) TryPop() (string, int) {
	id, prio, _ := q.tryPopLocked()
	return id, prio
}

// tryPopLocked pops the first ready entry. When only deferred entries
// remain, it returns the wait until the soonest becomes ready.
func (q *Queue) tryPopLocked() (string, int, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var skipped []*queueEntry
	defer func() {
		for _, e := range skipped {
			heap.Push(&q.items, e)
		}
	}()

	minWait := time.Duration(0)
	for q.items.Len() > 0 {
		entry := heap.Pop(&q.items).(*queueEntry)
		if entry.notBefore.IsZero() || !entry.notBefore.After(now) {
			return entry.jobID, entry.priority, 0
		}
		wait := entry.notBefore.Sub(now)
		if minWait == 0 || wait < minWait {
			minWait = wait
		}
		skipped = append(skipped, entry)
	}
	return "", 0, minWait
}

// Len returns the number of queued entries, ready or deferred.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// QueueStats reports queue depth by priority level.
type QueueStats struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Normal int `json:"normal"`
	Low    int `json:"low"`
}

// Stats returns queue depth by priority level.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{Total: q.items.Len()}
	for _, e := range q.items {
		switch {
		case e.priority >= PriorityHigh:
			stats.High++
		case e.priority >= PriorityNormal:
			stats.Normal++
		default:
			stats.Low++
		}
	}
	return stats
}

// entryHeap implements heap.Interface. Higher priority first; equal
// priorities pop in FIFO order by sequence number.
type entryHeap []*queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*queueEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return item
}

package jobs

import (
	"testing"
	"time"
)

func TestQueue_PriorityFirst(t *testing.T) {
	q := NewQueue()
	mustPush(t, q, "low-1", PriorityLow)
	mustPush(t, q, "normal-1", PriorityNormal)
	mustPush(t, q, "high-1", PriorityHigh)
	mustPush(t, q, "normal-2", PriorityNormal)

	want := []string{"high-1", "normal-1", "normal-2", "low-1"}
	for _, id := range want {
		got, _ := q.TryPop()
		if got != id {
			t.Fatalf("TryPop() = %q, want %q", got, id)
		}
	}
	if got, _ := q.TryPop(); got != "" {
		t.Errorf("TryPop() on empty queue = %q", got)
	}
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"a", "b", "c", "d"} {
		mustPush(t, q, id, PriorityNormal)
	}
	for _, want := range []string{"a", "b", "c", "d"} {
		if got, _ := q.TryPop(); got != want {
			t.Fatalf("TryPop() = %q, want %q", got, want)
		}
	}
}

func TestQueue_DeferredNotReadyEarly(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	q.now = func() time.Time { return now }

	if err := q.PushAfter("deferred", PriorityHigh, time.Minute); err != nil {
		t.Fatal(err)
	}
	mustPush(t, q, "ready", PriorityLow)

	// The deferred high-priority entry is invisible; the low one pops.
	if got, _ := q.TryPop(); got != "ready" {
		t.Fatalf("TryPop() = %q, want %q", got, "ready")
	}
	if got, _ := q.TryPop(); got != "" {
		t.Fatalf("deferred entry popped %q before its delay elapsed", got)
	}

	now = now.Add(61 * time.Second)
	if got, _ := q.TryPop(); got != "deferred" {
		t.Fatalf("TryPop() after delay = %q, want %q", got, "deferred")
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})

	result := make(chan string, 1)
	go func() {
		id, _ := q.Pop(done)
		result <- id
	}()

	time.Sleep(10 * time.Millisecond)
	mustPush(t, q, "late", PriorityNormal)

	select {
	case id := <-result:
		if id != "late" {
			t.Errorf("Pop() = %q, want %q", id, "late")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not return after push")
	}
}

func TestQueue_PopReturnsOnDone(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})

	result := make(chan string, 1)
	go func() {
		id, _ := q.Pop(done)
		result <- id
	}()

	close(done)
	select {
	case id := <-result:
		if id != "" {
			t.Errorf("Pop() after done = %q, want empty", id)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not return after done closed")
	}
}

func TestQueue_Stats(t *testing.T) {
	q := NewQueue()
	mustPush(t, q, "h", PriorityHigh)
	mustPush(t, q, "n1", PriorityNormal)
	mustPush(t, q, "n2", PriorityNormal)
	mustPush(t, q, "l", PriorityLow)

	stats := q.Stats()
	if stats.Total != 4 || stats.High != 1 || stats.Normal != 2 || stats.Low != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestQueue_PushEmptyID(t *testing.T) {
	q := NewQueue()
	if err := q.Push("", PriorityNormal); err == nil {
		t.Error("Push(\"\") succeeded")
	}
}

func mustPush(t *testing.T, q *Queue, id string, priority int) {
	t.Helper()
	if err := q.Push(id, priority); err != nil {
		t.Fatalf("Push(%q) error = %v", id, err)
	}
}

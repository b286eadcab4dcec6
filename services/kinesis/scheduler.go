package kinesis

import (
	"container/heap"
	"sync"
	"time"
)

// DelayedTransition is a scheduled mutation modeling eventual consistency:
// the result of a handler that cannot take effect immediately (e.g.
// CREATING -> ACTIVE after streamCreateDuration).
type DelayedTransition struct {
	DueAt  time.Time
	Action func(now time.Time)
}

type scheduledEntry struct {
	dueAt  time.Time
	seq    uint64 // tie-break for equal deadlines, preserves enqueue order
	action func(now time.Time)
}

type schedulerHeap []*scheduledEntry

func (h schedulerHeap) Len() int { return len(h) }
func (h schedulerHeap) Less(i, j int) bool {
	if h[i].dueAt.Equal(h[j].dueAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].dueAt.Before(h[j].dueAt)
}
func (h schedulerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *schedulerHeap) Push(x any)   { *h = append(*h, x.(*scheduledEntry)) }
func (h *schedulerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// scheduler is the time-ordered priority queue of delayed transitions
// described by the design: a single logical loop wakes at the earliest
// due entry, fires it, and rearms for whatever remains. It owns no stream
// state; actions close over whatever region/stream they need to mutate and
// are responsible for their own idempotency checks (the stream might have
// moved on, or been deleted, by the time they fire).
type scheduler struct {
	clock Clock

	mu      sync.Mutex
	queue   schedulerHeap
	nextSeq uint64
	timer   Timer
	stopped bool
}

func newScheduler(clock Clock) *scheduler {
	return &scheduler{clock: clock}
}

// Schedule enqueues action to run at dueAt (immediately, if already due).
func (s *scheduler) Schedule(dueAt time.Time, action func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	entry := &scheduledEntry{dueAt: dueAt, seq: s.nextSeq, action: action}
	s.nextSeq++
	heap.Push(&s.queue, entry)
	s.rearm()
}

// After is sugar for Schedule(clock.Now().Add(d), action).
func (s *scheduler) After(d time.Duration, action func(now time.Time)) {
	s.Schedule(s.clock.Now().Add(d), action)
}

// rearm must be called with s.mu held.
func (s *scheduler) rearm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.queue) == 0 {
		return
	}

	delay := s.queue[0].dueAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.timer = s.clock.AfterFunc(delay, s.fire)
}

// fire runs every entry that is now due, then reschedules for whatever
// remains. Running the actions outside the lock lets an action reschedule
// more work (e.g. retention GC rearming itself) without deadlocking.
func (s *scheduler) fire() {
	s.mu.Lock()
	now := s.clock.Now()
	var due []*scheduledEntry
	for len(s.queue) > 0 && !s.queue[0].dueAt.After(now) {
		due = append(due, heap.Pop(&s.queue).(*scheduledEntry))
	}
	s.rearm()
	s.mu.Unlock()

	for _, entry := range due {
		entry.action(now)
	}
}

// Stop cancels the pending timer. Actions already fired are unaffected.
func (s *scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Len reports the number of pending entries; used by tests.
func (s *scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

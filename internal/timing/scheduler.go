// Package timing implements the daemon's cooperative single-threaded
// scheduler: a timer heap of deferred callbacks driving periodic
// updates, route timeouts, garbage collection and triggered-update
// suppression.
package timing

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// CancelFunc cancels a previously scheduled callback. Cancelling a
// callback that already fired, or firing during shutdown, is a no-op.
type CancelFunc func()

type timerItem struct {
	fireAt    time.Time
	seq       uint64
	fn        func()
	cancelled bool
	index     int
}

type timerHeap []*timerItem

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	item := x.(*timerItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Scheduler is a single-threaded cooperative timer wheel. Only one
// callback runs at any instant and each runs to completion before the
// next is dispatched.
type Scheduler struct {
	mu   sync.Mutex
	heap timerHeap
	seq  uint64
	wake chan struct{}

	// NowFunc allows tests to inject a deterministic clock.
	NowFunc func() time.Time
}

// NewScheduler returns a ready-to-run Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		wake:    make(chan struct{}, 1),
		NowFunc: time.Now,
	}
}

// CallLater schedules fn to run after d. fn executes on the Scheduler's
// Run goroutine, never concurrently with any other scheduled callback.
func (s *Scheduler) CallLater(d time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	item := &timerItem{fireAt: s.now().Add(d), seq: s.seq, fn: fn}
	s.seq++
	heap.Push(&s.heap, item)
	s.mu.Unlock()
	s.poke()
	return func() {
		s.mu.Lock()
		item.cancelled = true
		s.mu.Unlock()
	}
}

func (s *Scheduler) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now()
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduler until ctx is cancelled. A callback that fires
// after Run has been asked to stop is simply never dispatched.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.mu.Lock()
		for s.heap.Len() > 0 && s.heap[0].cancelled {
			heap.Pop(&s.heap)
		}
		var timer *time.Timer
		if s.heap.Len() > 0 {
			d := s.heap[0].fireAt.Sub(s.now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
		}
		s.mu.Unlock()

		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-timerC:
		}

		s.runDue(ctx)
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 {
			s.mu.Unlock()
			return
		}
		top := s.heap[0]
		if top.cancelled {
			heap.Pop(&s.heap)
			s.mu.Unlock()
			continue
		}
		if top.fireAt.After(s.now()) {
			s.mu.Unlock()
			return
		}
		heap.Pop(&s.heap)
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		top.fn()
	}
}

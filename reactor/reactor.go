// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral parts of the event reactor: timers and call queues.

package reactor

import (
	"container/heap"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-uwsd/api"
)

// watch is one registered descriptor. gen identifies the registration so
// events reported for an earlier registration of the same fd are dropped.
type watch struct {
	events api.Events
	cb     api.FDCallback
	gen    uint32
}

// timer is a one-shot timeout owned by the loop goroutine.
type timer struct {
	when  time.Time
	fn    func()
	index int
	heap  *timerHeap
}

// Stop removes the timer from the heap if it is still pending.
func (t *timer) Stop() bool {
	if t.index < 0 {
		return false
	}
	heap.Remove(t.heap, t.index)
	return true
}

type timerHeap []*timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// loopState is embedded by the platform reactors.
type loopState struct {
	watches  map[int]*watch
	gen      uint32
	timers   timerHeap
	deferred *queue.Queue

	postMu sync.Mutex
	posted *queue.Queue

	now func() time.Time
}

func newLoopState() loopState {
	return loopState{
		watches:  make(map[int]*watch),
		deferred: queue.New(),
		posted:   queue.New(),
		now:      time.Now,
	}
}

// AfterFunc schedules fn on the loop goroutine after d.
func (s *loopState) AfterFunc(d time.Duration, fn func()) api.Timer {
	t := &timer{when: s.now().Add(d), fn: fn, heap: &s.timers}
	heap.Push(&s.timers, t)
	return t
}

// Defer runs fn at the end of the current loop iteration.
func (s *loopState) Defer(fn func()) {
	s.deferred.Add(fn)
}

// enqueuePost appends fn to the cross-goroutine queue.
func (s *loopState) enqueuePost(fn func()) {
	s.postMu.Lock()
	s.posted.Add(fn)
	s.postMu.Unlock()
}

// nextTimeout returns the wait bound in milliseconds, -1 for infinite.
func (s *loopState) nextTimeout(limit time.Duration) int {
	if s.deferred.Length() > 0 {
		return 0
	}
	s.postMu.Lock()
	pending := s.posted.Length()
	s.postMu.Unlock()
	if pending > 0 {
		return 0
	}
	wait := limit
	if len(s.timers) > 0 {
		d := s.timers[0].when.Sub(s.now())
		if d < 0 {
			d = 0
		}
		if wait < 0 || d < wait {
			wait = d
		}
	}
	if wait < 0 {
		return -1
	}
	ms := int((wait + time.Millisecond - 1) / time.Millisecond)
	return ms
}

// runTimers fires every expired timer.
func (s *loopState) runTimers() int {
	fired := 0
	now := s.now()
	for len(s.timers) > 0 && !s.timers[0].when.After(now) {
		t := heap.Pop(&s.timers).(*timer)
		t.fn()
		fired++
	}
	return fired
}

// runQueued drains posted calls, then deferred calls. Calls deferred while
// draining run in the same pass.
func (s *loopState) runQueued() int {
	ran := 0
	s.postMu.Lock()
	var posted []func()
	for s.posted.Length() > 0 {
		posted = append(posted, s.posted.Remove().(func()))
	}
	s.postMu.Unlock()
	for _, fn := range posted {
		fn()
		ran++
	}
	for s.deferred.Length() > 0 {
		s.deferred.Remove().(func())()
		ran++
	}
	return ran
}

// nextGen returns a fresh registration generation.
func (s *loopState) nextGen() uint32 {
	s.gen++
	return s.gen
}

// dispatch invokes the callback for a ready descriptor if the registration
// that produced the event is still current. Earlier callbacks in the batch
// may have removed the fd, or closed it and registered a new socket under
// the same number.
func (s *loopState) dispatch(fd int, gen uint32, ev api.Events) bool {
	w, ok := s.watches[fd]
	if !ok || w.gen != gen {
		return false
	}
	w.cb(fd, ev)
	return true
}

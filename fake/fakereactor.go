// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"fmt"
	"sort"
	"time"

	"github.com/momentics/hioload-uwsd/api"
)

// EventSource is a manual api.EventSource: readiness is injected with Fire
// and time is moved with Advance. Ops records every call in order.
type EventSource struct {
	watches map[int]api.FDCallback
	masks   map[int]api.Events
	timers  []*Timer
	now     time.Duration
	seq     int
	Ops     []string
}

var _ api.EventSource = (*EventSource)(nil)

// NewEventSource creates an empty fake reactor.
func NewEventSource() *EventSource {
	return &EventSource{
		watches: make(map[int]api.FDCallback),
		masks:   make(map[int]api.Events),
	}
}

// Register implements api.EventSource.
func (e *EventSource) Register(fd int, ev api.Events, cb api.FDCallback) error {
	if _, ok := e.watches[fd]; ok {
		return api.ErrAlreadyExists
	}
	e.watches[fd] = cb
	e.masks[fd] = ev
	e.Ops = append(e.Ops, fmt.Sprintf("register %d", fd))
	return nil
}

// Modify implements api.EventSource.
func (e *EventSource) Modify(fd int, ev api.Events) error {
	if _, ok := e.watches[fd]; !ok {
		return api.ErrNotFound
	}
	e.masks[fd] = ev
	e.Ops = append(e.Ops, fmt.Sprintf("modify %d", fd))
	return nil
}

// Unregister implements api.EventSource.
func (e *EventSource) Unregister(fd int) error {
	if _, ok := e.watches[fd]; !ok {
		return api.ErrNotFound
	}
	delete(e.watches, fd)
	delete(e.masks, fd)
	e.Ops = append(e.Ops, fmt.Sprintf("unregister %d", fd))
	return nil
}

// AfterFunc implements api.EventSource.
func (e *EventSource) AfterFunc(d time.Duration, fn func()) api.Timer {
	e.seq++
	t := &Timer{src: e, when: e.now + d, fn: fn, id: e.seq}
	e.timers = append(e.timers, t)
	e.Ops = append(e.Ops, fmt.Sprintf("timer %d", t.id))
	return t
}

// Registered reports whether fd is watched.
func (e *EventSource) Registered(fd int) bool {
	_, ok := e.watches[fd]
	return ok
}

// Mask returns the interest mask of fd.
func (e *EventSource) Mask(fd int) api.Events { return e.masks[fd] }

// Watched returns the number of watched descriptors.
func (e *EventSource) Watched() int { return len(e.watches) }

// PendingTimers returns the number of armed timers.
func (e *EventSource) PendingTimers() int { return len(e.timers) }

// Fire invokes the callback of fd as if it became ready.
func (e *EventSource) Fire(fd int, ev api.Events) bool {
	cb, ok := e.watches[fd]
	if !ok {
		return false
	}
	cb(fd, ev)
	return true
}

// Advance moves the clock and runs due timers in deadline order.
func (e *EventSource) Advance(d time.Duration) int {
	e.now += d
	fired := 0
	for {
		sort.SliceStable(e.timers, func(i, j int) bool { return e.timers[i].when < e.timers[j].when })
		if len(e.timers) == 0 || e.timers[0].when > e.now {
			return fired
		}
		t := e.timers[0]
		e.timers = e.timers[1:]
		t.fn()
		fired++
	}
}

// Timer is a fake api.Timer.
type Timer struct {
	src  *EventSource
	when time.Duration
	fn   func()
	id   int
}

// Stop implements api.Timer.
func (t *Timer) Stop() bool {
	for i, p := range t.src.timers {
		if p == t {
			t.src.timers = append(t.src.timers[:i], t.src.timers[i+1:]...)
			t.src.Ops = append(t.src.Ops, fmt.Sprintf("cancel %d", t.id))
			return true
		}
	}
	return false
}

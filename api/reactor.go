// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Readiness/timeout event source consumed by the connection lifecycle.

package api

import "time"

// Events is a readiness interest or result mask.
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
)

// FDCallback is invoked on the loop goroutine when fd becomes ready.
type FDCallback func(fd int, ev Events)

// Timer is a pending one-shot timeout.
type Timer interface {
	// Stop cancels the timer; reports whether it was still pending.
	Stop() bool
}

// EventSource is the single-threaded reactor a connection registers with.
// All methods are called from the loop goroutine only.
type EventSource interface {
	Register(fd int, ev Events, cb FDCallback) error
	Modify(fd int, ev Events) error
	Unregister(fd int) error
	AfterFunc(d time.Duration, fn func()) Timer
}

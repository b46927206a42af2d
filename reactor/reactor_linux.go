//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor.

package reactor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-uwsd/api"
	"golang.org/x/sys/unix"
)

const maxEvents = 128

// Reactor is a level-triggered epoll loop. Everything except Post and Stop
// must be called from the goroutine running Poll/Run.
type Reactor struct {
	loopState
	epfd    int
	wakefd  int
	events  []unix.EpollEvent
	stopped atomic.Bool
}

var _ api.EventSource = (*Reactor)(nil)

// New creates the epoll instance and its wakeup eventfd.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}
	return &Reactor{
		loopState: newLoopState(),
		epfd:      epfd,
		wakefd:    wakefd,
		events:    make([]unix.EpollEvent, maxEvents),
	}, nil
}

func toEpoll(ev api.Events) uint32 {
	var e uint32
	if ev&api.EventRead != 0 {
		e |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ev&api.EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

// Register adds fd to the interest list.
func (r *Reactor) Register(fd int, ev api.Events, cb api.FDCallback) error {
	if _, ok := r.watches[fd]; ok {
		return fmt.Errorf("register fd %d: %w", fd, api.ErrAlreadyExists)
	}
	gen := r.nextGen()
	e := unix.EpollEvent{Events: toEpoll(ev), Fd: int32(fd), Pad: int32(gen)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &e); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	r.watches[fd] = &watch{events: ev, cb: cb, gen: gen}
	return nil
}

// Modify changes the interest mask of a registered fd.
func (r *Reactor) Modify(fd int, ev api.Events) error {
	w, ok := r.watches[fd]
	if !ok {
		return fmt.Errorf("modify fd %d: %w", fd, api.ErrNotFound)
	}
	e := unix.EpollEvent{Events: toEpoll(ev), Fd: int32(fd), Pad: int32(w.gen)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &e); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	w.events = ev
	return nil
}

// Unregister removes fd from the interest list.
func (r *Reactor) Unregister(fd int) error {
	if _, ok := r.watches[fd]; !ok {
		return fmt.Errorf("unregister fd %d: %w", fd, api.ErrNotFound)
	}
	delete(r.watches, fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Post schedules fn on the loop goroutine. Safe from any goroutine.
func (r *Reactor) Post(fn func()) {
	r.enqueuePost(fn)
	r.wake()
}

func (r *Reactor) wake() {
	var one = [8]byte{1}
	_, _ = unix.Write(r.wakefd, one[:])
}

func (r *Reactor) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(r.wakefd, buf[:])
}

// Poll runs one loop iteration, waiting at most limit (negative = until an
// event, timer or Post arrives). It returns the number of callbacks run.
func (r *Reactor) Poll(limit time.Duration) (int, error) {
	n, err := unix.EpollWait(r.epfd, r.events, r.nextTimeout(limit))
	if err != nil && !errors.Is(err, unix.EINTR) {
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	handled := 0
	for i := 0; i < n; i++ {
		raw := r.events[i]
		fd := int(raw.Fd)
		if fd == r.wakefd {
			r.drainWake()
			continue
		}
		var ev api.Events
		if raw.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			ev |= api.EventRead
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev |= api.EventWrite
		}
		if raw.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ev |= api.EventError
		}
		if r.dispatch(fd, uint32(raw.Pad), ev) {
			handled++
		}
	}
	handled += r.runTimers()
	handled += r.runQueued()
	return handled, nil
}

// Run polls until Stop is called.
func (r *Reactor) Run() error {
	for !r.stopped.Load() {
		if _, err := r.Poll(-1); err != nil {
			return err
		}
	}
	return nil
}

// Stop makes Run return after the current iteration. Safe from any goroutine.
func (r *Reactor) Stop() {
	r.stopped.Store(true)
	r.wake()
}

// Close releases the epoll instance and wakeup descriptor.
func (r *Reactor) Close() error {
	unix.Close(r.wakefd)
	return unix.Close(r.epfd)
}

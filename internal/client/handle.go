// Package client
// Author: momentics <momentics@gmail.com>
//
// Guarded descriptor ownership.

package client

import "golang.org/x/sys/unix"

// Handle owns a raw descriptor. The zero value is the closed sentinel, so a
// Handle can never close descriptor 0 by accident.
type Handle struct {
	v int // fd+1, 0 when closed
}

// NewHandle takes ownership of fd; negative values yield a closed handle.
func NewHandle(fd int) Handle {
	if fd < 0 {
		return Handle{}
	}
	return Handle{v: fd + 1}
}

// FD returns the descriptor or -1 when closed.
func (h *Handle) FD() int { return h.v - 1 }

// Valid reports whether a descriptor is owned.
func (h *Handle) Valid() bool { return h.v != 0 }

// Reset closes the owned descriptor, if any, and takes ownership of fd.
func (h *Handle) Reset(fd int) {
	_ = h.Close()
	*h = NewHandle(fd)
}

// Detach gives up ownership without closing.
func (h *Handle) Detach() int {
	fd := h.FD()
	h.v = 0
	return fd
}

// Close closes the descriptor once; later calls are no-ops.
func (h *Handle) Close() error {
	if h.v == 0 {
		return nil
	}
	fd := h.FD()
	h.v = 0
	return unix.Close(fd)
}

// Package client
// Author: momentics <momentics@gmail.com>
//
// Fixed-capacity connection I/O buffers.

package client

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-uwsd/api"
)

// Default buffer capacities: one receive chunk, and one chunk plus the
// largest WebSocket frame header for transmit.
const (
	RxBufferSize = 16384
	TxBufferSize = 10 + 16384
)

// ErrBufferFull is returned when no space is left behind End.
var ErrBufferFull = errors.New("buffer full")

// Buffer is a byte array with read (pos) and write (end) cursors.
// Invariant: 0 <= pos <= end <= cap. pos == end means empty.
type Buffer struct {
	data []byte
	pos  int
	end  int
}

// NewBuffer allocates a buffer of fixed capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

func (b *Buffer) Cap() int { return len(b.data) }
func (b *Buffer) Pos() int { return b.pos }
func (b *Buffer) End() int { return b.end }
func (b *Buffer) Len() int { return b.end - b.pos }
func (b *Buffer) Free() int { return len(b.data) - b.end }
func (b *Buffer) Empty() bool { return b.pos == b.end }
func (b *Buffer) Full() bool { return b.end == len(b.data) }
func (b *Buffer) Bytes() []byte { return b.data[b.pos:b.end] }

// Space returns the writable region behind End. Bytes written there become
// visible after Commit.
func (b *Buffer) Space() []byte { return b.data[b.end:] }

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.pos = 0
	b.end = 0
}

// Commit extends End by n, clamped to capacity. Returns the committed count.
func (b *Buffer) Commit(n int) int {
	if n < 0 {
		return 0
	}
	if n > b.Free() {
		n = b.Free()
	}
	b.end += n
	return n
}

// Consume advances Pos by n, clamped to End. Returns the consumed count.
func (b *Buffer) Consume(n int) int {
	if n < 0 {
		return 0
	}
	if n > b.Len() {
		n = b.Len()
	}
	b.pos += n
	return n
}

// Compact moves unread bytes to the front.
func (b *Buffer) Compact() {
	if b.pos == 0 {
		return
	}
	n := copy(b.data, b.data[b.pos:b.end])
	b.pos = 0
	b.end = n
}

// Write appends as much of p as fits.
func (b *Buffer) Write(p []byte) (int, error) {
	n := copy(b.data[b.end:], p)
	b.end += n
	if n < len(p) {
		return n, ErrBufferFull
	}
	return n, nil
}

// Printf appends formatted text. Nothing is committed if it does not fit.
func (b *Buffer) Printf(format string, args ...any) bool {
	s := fmt.Sprintf(format, args...)
	if len(s) > b.Free() {
		return false
	}
	b.end += copy(b.data[b.end:], s)
	return true
}

// Getc reads one byte.
func (b *Buffer) Getc() (byte, bool) {
	if b.pos == b.end {
		return 0, false
	}
	c := b.data[b.pos]
	b.pos++
	return c, true
}

// Ungetc steps Pos back by one byte.
func (b *Buffer) Ungetc() bool {
	if b.pos == 0 {
		return false
	}
	b.pos--
	return true
}

// Putc appends one byte.
func (b *Buffer) Putc(c byte) bool {
	if b.end == len(b.data) {
		return false
	}
	b.data[b.end] = c
	b.end++
	return true
}

// Fill performs one receive into the free space. An empty buffer is rewound
// first. Returns 0, nil on orderly peer shutdown and api.ErrWouldBlock when
// nothing is available.
func (b *Buffer) Fill(t api.Transport) (int, error) {
	if b.Empty() {
		b.Reset()
	}
	if b.Full() {
		return 0, ErrBufferFull
	}
	n, err := t.Recv(b.Space())
	if err != nil {
		return 0, err
	}
	return b.Commit(n), nil
}

// Drain sends pending bytes once and consumes what was written. The buffer
// is rewound when it becomes empty.
func (b *Buffer) Drain(t api.Transport) (int, error) {
	if b.Empty() {
		return 0, nil
	}
	n, err := t.Send(b.Bytes())
	if err != nil {
		return 0, err
	}
	b.Consume(n)
	if b.Empty() {
		b.Reset()
	}
	return n, nil
}

// Package transport
// Author: momentics <momentics@gmail.com>
//
// Shared helpers for the Plain and Encrypted transports.

package transport

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-uwsd/api"
	"golang.org/x/sys/unix"
)

// Descriptor yields the current raw descriptor of a connection, or a
// negative value once it has been closed.
type Descriptor interface {
	FD() int
}

// Bind returns the transport matching the connection kind.
func Bind(d Descriptor, sess api.TLSSession) api.Transport {
	if sess != nil {
		return &Encrypted{Session: sess}
	}
	return &Plain{D: d}
}

// mapErrno turns a syscall error into the api taxonomy.
func mapErrno(op string, err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch errno {
	case unix.EAGAIN:
		return api.ErrWouldBlock
	case unix.ECONNRESET, unix.EPIPE:
		return fmt.Errorf("%s: %w (%v)", op, api.ErrConnReset, errno)
	case unix.EBADF:
		return fmt.Errorf("%s: %w", op, api.ErrTransportClosed)
	}
	return fmt.Errorf("%s: %w", op, errno)
}

// linearize writes bufs one after another through write, stopping at the
// first short or failed write. Bytes already written are reported even when
// a later write fails; the failure is then left for the next call.
func linearize(write func([]byte) (int, error), bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		n, err := write(b)
		total += n
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
		if n < len(b) {
			break
		}
	}
	return total, nil
}

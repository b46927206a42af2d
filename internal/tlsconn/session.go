// Package tlsconn
// Author: momentics <momentics@gmail.com>
//
// One server-side TLS session over a duplicated descriptor.

package tlsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/momentics/hioload-uwsd/api"
	"golang.org/x/sys/unix"
)

// readSlack bounds how long a record read may wait for the rest of a
// partially received record.
const readSlack = time.Millisecond

const (
	hsIdle = iota
	hsRunning
	hsDone
)

// sockConn is the transport under crypto/tls. During the handshake writes
// block on the runtime poller. Afterwards records are queued and flushed
// with non-blocking writes.
type sockConn struct {
	net.Conn
	raw   syscall.RawConn
	async atomic.Bool

	// loop goroutine only once async is set
	pending []byte
	since   time.Time
}

func (c *sockConn) Write(p []byte) (int, error) {
	if !c.async.Load() {
		return c.Conn.Write(p)
	}
	c.pending = append(c.pending, p...)
	if err := c.flush(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// flush writes queued records until the socket would block.
func (c *sockConn) flush() error {
	for len(c.pending) > 0 {
		var n int
		var werr error
		if err := c.raw.Write(func(fd uintptr) bool {
			n, werr = unix.Write(int(fd), c.pending)
			return true
		}); err != nil {
			return err
		}
		switch {
		case werr == unix.EINTR:
			continue
		case werr == unix.EAGAIN:
			if c.since.IsZero() {
				c.since = time.Now()
			}
			return nil
		case werr != nil:
			return werr
		}
		c.pending = append(c.pending[:0], c.pending[n:]...)
		c.since = time.Time{}
	}
	return nil
}

func (c *sockConn) queued() bool { return len(c.pending) > 0 }

// stalled reports whether queued records have made no progress for limit.
func (c *sockConn) stalled(limit time.Duration) bool {
	return !c.since.IsZero() && time.Since(c.since) > limit
}

// Close makes one attempt to push queued records such as close_notify.
func (c *sockConn) Close() error {
	if c.async.Load() {
		_ = c.Conn.SetWriteDeadline(time.Time{})
		_ = c.flush()
	}
	return c.Conn.Close()
}

// Session implements api.TLSSession on a crypto/tls server connection.
type Session struct {
	conn *tls.Conn
	sock *sockConn
	opts Options

	// plaintext already encrypted into the queue by a Write that reported
	// api.ErrWouldBlock; the retry returns it.
	inflight int

	mu     sync.Mutex
	state  int
	hsErr  error
	onDone func()

	// loop goroutine only
	parked api.Events

	closeOnce sync.Once
	closeErr  error
}

var _ api.TLSSession = (*Session)(nil)

func newSession(fd int, cfg *tls.Config, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("no tls configuration")
	}
	if fd < 0 {
		return nil, api.ErrTransportClosed
	}
	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("dup: %w", err)
	}
	f := os.NewFile(uintptr(dup), "tls")
	raw, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("file conn: %w", err)
	}
	sc, ok := raw.(syscall.Conn)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("file conn %T: %w", raw, api.ErrUnsupported)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("syscall conn: %w", err)
	}
	sock := &sockConn{Conn: raw, raw: rc}
	return &Session{conn: tls.Server(sock, cfg), sock: sock, opts: opts}, nil
}

// Handshake starts the handshake on first call and reports api.ErrWouldBlock
// until it has finished. Failures are wrapped with api.ErrHandshake.
func (s *Session) Handshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case hsDone:
		return s.hsErr
	case hsRunning:
		return api.ErrWouldBlock
	}
	s.state = hsRunning
	go s.handshake()
	return api.ErrWouldBlock
}

func (s *Session) handshake() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.HandshakeTimeout)
	err := s.conn.HandshakeContext(ctx)
	cancel()

	s.mu.Lock()
	s.state = hsDone
	if err != nil {
		s.hsErr = fmt.Errorf("%w: %w", api.ErrHandshake, err)
	} else {
		s.sock.async.Store(true)
	}
	done := s.onDone
	s.mu.Unlock()

	if done != nil {
		done()
	}
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != hsDone {
		return api.ErrWouldBlock
	}
	return s.hsErr
}

// Read returns decrypted bytes, api.ErrWouldBlock when no complete record
// is available, and 0, nil on close_notify or EOF.
func (s *Session) Read(p []byte) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(readSlack))
	n, err := s.conn.Read(p)
	if n > 0 {
		return n, nil
	}
	return 0, mapErr("tls read", err, true)
}

// Write encrypts p without blocking. When the socket cannot take the
// records yet they are queued and api.ErrWouldBlock is returned; the caller
// retries with the same bytes once writable and the retry reports them as
// written. Records that stay queued longer than the write timeout fail the
// session with api.ErrConnReset.
func (s *Session) Write(p []byte) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if err := s.sock.flush(); err != nil {
		return 0, mapErr("tls write", err, false)
	}
	if s.sock.queued() {
		if s.sock.stalled(s.opts.WriteTimeout) {
			return 0, fmt.Errorf("tls write: no progress for %v: %w", s.opts.WriteTimeout, api.ErrConnReset)
		}
		return 0, api.ErrWouldBlock
	}
	if s.inflight > 0 {
		n := s.inflight
		s.inflight = 0
		return n, nil
	}
	n, err := s.conn.Write(p)
	if err != nil {
		return 0, mapErr("tls write", err, false)
	}
	if s.sock.queued() {
		s.inflight = n
		return 0, api.ErrWouldBlock
	}
	return n, nil
}

// Close sends close_notify when the handshake completed and closes the
// duplicate descriptor. Queued records get one non-blocking flush attempt.
// The accepted descriptor stays open.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		if errors.Is(s.closeErr, net.ErrClosed) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

// mapErr maps a crypto/tls result onto the api taxonomy. A deadline expiry
// is transient for reads only; crypto/tls keeps write errors.
func mapErr(op string, err error, read bool) error {
	switch {
	case err == nil:
		return api.ErrWouldBlock
	case errors.Is(err, os.ErrDeadlineExceeded):
		if read {
			return api.ErrWouldBlock
		}
		return fmt.Errorf("%s: %w: %w", op, api.ErrConnReset, err)
	case errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%s: %w", op, api.ErrTransportClosed)
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE):
		return fmt.Errorf("%s: %w", op, api.ErrConnReset)
	case errors.Is(err, io.EOF):
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

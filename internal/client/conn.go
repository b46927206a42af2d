// Package client
// Author: momentics <momentics@gmail.com>
//
// One side (downstream or upstream) of a client context.

package client

import (
	"errors"
	"time"

	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/internal/transport"
	"golang.org/x/sys/unix"
)

// Conn is a descriptor plus its event-source registration, pending timeout
// and transport binding.
type Conn struct {
	Handle Handle

	owner      *Context
	upstream   bool
	encrypted  bool
	session    api.TLSSession
	tr         api.Transport
	timer      api.Timer
	registered int
	mask       api.Events
	onReady    api.FDCallback
}

// FD returns the descriptor or -1 once closed.
func (c *Conn) FD() int { return c.Handle.FD() }

// IsUpstream reports whether this is the backend side.
func (c *Conn) IsUpstream() bool { return c.upstream }

// Encrypted reports whether the connection runs over TLS.
func (c *Conn) Encrypted() bool { return c.encrypted }

// Session returns the TLS session, nil for plain connections.
func (c *Conn) Session() api.TLSSession { return c.session }

// Context returns the owning client context.
func (c *Conn) Context() *Context { return c.owner }

// SetSession installs the TLS session and binds the encrypted transport.
// Called by the TLS layer from its init hook.
func (c *Conn) SetSession(s api.TLSSession) {
	c.encrypted = true
	c.session = s
	c.tr = transport.Bind(&c.Handle, s)
}

// Transport returns the bound transport, binding the plain one on first use
// for unencrypted connections.
func (c *Conn) Transport() api.Transport {
	if c.tr == nil {
		if c.encrypted {
			return &transport.Encrypted{}
		}
		c.tr = transport.Bind(&c.Handle, nil)
	}
	return c.tr
}

// Attach takes ownership of fd, e.g. a freshly connected upstream socket.
func (c *Conn) Attach(fd int) {
	c.Handle.Reset(fd)
}

func (c *Conn) Recv(p []byte) (int, error) { return c.Transport().Recv(p) }
func (c *Conn) Send(p []byte) (int, error) { return c.Transport().Send(p) }
func (c *Conn) SendVectored(b [][]byte) (int, error) { return c.Transport().SendVectored(b) }

// SendFile forwards to the transport; encrypted connections get
// api.ErrUnsupported and must use the buffered path.
func (c *Conn) SendFile(srcFD int, offset *int64, count int) (int, error) {
	return c.Transport().SendFile(srcFD, offset, count)
}

// SendVec writes bufs once and returns what is left to send. Would-block is
// reported as no progress with a nil error.
func (c *Conn) SendVec(bufs [][]byte) ([][]byte, error) {
	n, err := c.SendVectored(bufs)
	if err != nil {
		if errors.Is(err, api.ErrWouldBlock) {
			return bufs, nil
		}
		return bufs, err
	}
	return AdvanceVec(bufs, n), nil
}

// Flush pushes out partially filled segments by toggling TCP_NODELAY.
func (c *Conn) Flush() {
	fd := c.FD()
	if fd < 0 || c.encrypted {
		return
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 0)
}

func (c *Conn) events() api.EventSource {
	if c.owner == nil || c.owner.mgr == nil {
		return nil
	}
	return c.owner.mgr.events
}

// Watch registers interest in ev; cb runs inside Dispatch for the owning
// context. Re-watching a registered descriptor only changes the mask.
func (c *Conn) Watch(ev api.Events, cb api.FDCallback) error {
	es := c.events()
	fd := c.FD()
	if es == nil || fd < 0 || c.owner.Closing() {
		return api.ErrTransportClosed
	}
	c.onReady = cb
	if c.registered == fd+1 {
		if err := es.Modify(fd, ev); err != nil {
			return err
		}
		c.mask = ev
		return nil
	}
	cl := c.owner
	if err := es.Register(fd, ev, func(fd int, ev api.Events) {
		cl.mgr.Dispatch(cl, func() {
			if c.onReady != nil {
				c.onReady(fd, ev)
			}
		})
	}); err != nil {
		return err
	}
	c.registered = fd + 1
	c.mask = ev
	return nil
}

// Interest returns the readiness mask of the current registration.
func (c *Conn) Interest() api.Events { return c.mask }

// SetInterest changes the mask of a registered descriptor, keeping its
// callback. A zero mask parks the descriptor.
func (c *Conn) SetInterest(ev api.Events) error {
	es := c.events()
	if c.registered == 0 || es == nil {
		return api.ErrNotFound
	}
	if err := es.Modify(c.registered-1, ev); err != nil {
		return err
	}
	c.mask = ev
	return nil
}

// Notify runs the watch callback as if the descriptor had become ready.
// Used by collaborators that finish work off the loop and post back.
func (c *Conn) Notify(ev api.Events) {
	cl := c.owner
	if cl == nil || cl.mgr == nil || c.onReady == nil {
		return
	}
	fd := c.FD()
	cl.mgr.Dispatch(cl, func() {
		if c.onReady != nil {
			c.onReady(fd, ev)
		}
	})
}

// Unwatch deregisters from the event source. Safe when not registered.
func (c *Conn) Unwatch() {
	c.onReady = nil
	if c.registered == 0 {
		return
	}
	fd := c.registered - 1
	c.registered = 0
	c.mask = 0
	if es := c.events(); es != nil {
		_ = es.Unregister(fd)
	}
}

// Watched reports whether the descriptor is registered with the event source.
func (c *Conn) Watched() bool { return c.registered != 0 }

// SetTimeout (re)arms the connection timeout; fn runs inside Dispatch.
func (c *Conn) SetTimeout(d time.Duration, fn func()) {
	c.CancelTimeout()
	es := c.events()
	if es == nil || c.owner.Closing() {
		return
	}
	cl := c.owner
	c.timer = es.AfterFunc(d, func() {
		c.timer = nil
		cl.mgr.Dispatch(cl, fn)
	})
}

// CancelTimeout stops a pending timeout. Safe when none is pending.
func (c *Conn) CancelTimeout() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// TimeoutPending reports whether a timeout is armed.
func (c *Conn) TimeoutPending() bool { return c.timer != nil }

// AdvanceVec drops the first n written bytes from bufs and returns the
// unsent remainder; an empty result means everything was written.
func AdvanceVec(bufs [][]byte, n int) [][]byte {
	for len(bufs) > 0 {
		if n < len(bufs[0]) {
			bufs[0] = bufs[0][n:]
			return bufs
		}
		n -= len(bufs[0])
		bufs = bufs[1:]
	}
	return bufs
}

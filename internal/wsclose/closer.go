// Package wsclose
// Author: momentics <momentics@gmail.com>
//
// Graceful close of WebSocket client contexts.

package wsclose

import (
	"errors"
	"log/slog"
	"time"

	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/internal/client"
	"github.com/momentics/hioload-uwsd/internal/logging"
)

// DefaultTimeout bounds the wait for the peer's close reply.
const DefaultTimeout = 5 * time.Second

// Closer implements client.ProtocolCloser. It must be used from the event
// loop goroutine only.
type Closer struct {
	timeout time.Duration
	log     *slog.Logger
	active  map[*client.Context]struct{}
}

var _ client.ProtocolCloser = (*Closer)(nil)

// NewCloser creates a closer waiting at most timeout for the peer.
func NewCloser(timeout time.Duration, log *slog.Logger) *Closer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Closer{
		timeout: timeout,
		log:     log,
		active:  make(map[*client.Context]struct{}),
	}
}

// Pending returns the number of closing handshakes in progress.
func (c *Closer) Pending() int {
	c.sweep()
	return len(c.active)
}

// CloseConnection queues a close frame carrying code and reason, flushes
// it, and releases cl once the peer answers, hangs up or times out.
// A second call for the same context is ignored.
func (c *Closer) CloseConnection(cl *client.Context, code uint16, reason string) {
	if cl.Closing() {
		return
	}
	c.sweep()
	if _, busy := c.active[cl]; busy {
		return
	}
	c.active[cl] = struct{}{}

	cl.Trace("sending close %d: %s", code, reason)
	cl.TxQueue.Push(&client.Frame{Opcode: OpcodeClose, Payload: ClosePayload(code, reason)})
	cl.Downstream.SetTimeout(c.timeout, func() {
		c.finish(cl, "close handshake timed out")
	})
	c.flush(cl)
}

func (c *Closer) sweep() {
	for cl := range c.active {
		if cl.Released() {
			delete(c.active, cl)
		}
	}
}

func (c *Closer) finish(cl *client.Context, reason string, args ...any) {
	delete(c.active, cl)
	cl.Close(reason, args...)
}

// flush moves queued frames into the transmit buffer and drains it. When
// the transport would block it waits for writability.
func (c *Closer) flush(cl *client.Context) {
	for {
		if !cl.Tx.Empty() {
			if _, err := cl.Tx.Drain(&cl.Downstream); err != nil && !errors.Is(err, api.ErrWouldBlock) {
				c.finish(cl, "write error: %v", err)
				return
			}
			if !cl.Tx.Empty() {
				c.watch(cl, api.EventRead|api.EventWrite)
				return
			}
		}
		f := cl.TxQueue.Peek()
		if f == nil {
			break
		}
		cl.Tx.Compact()
		enc, err := AppendFrame(cl.Tx.Space()[:0], f.Opcode, f.Payload)
		if err != nil {
			cl.TxQueue.Pop()
			c.log.Debug("dropping unencodable frame", slog.String("peer", client.FormatPeer(cl.Peer)), slog.Any("error", err))
			continue
		}
		if len(enc) > len(cl.Tx.Space()) {
			// does not fit behind pending output; drain first
			if cl.Tx.Empty() {
				cl.TxQueue.Pop()
				continue
			}
			c.watch(cl, api.EventRead|api.EventWrite)
			return
		}
		cl.Tx.Commit(len(enc))
		cl.TxQueue.Pop()
	}
	cl.Downstream.Flush()
	c.watch(cl, api.EventRead)
}

func (c *Closer) watch(cl *client.Context, ev api.Events) {
	err := cl.Downstream.Watch(ev, func(_ int, ev api.Events) {
		if ev&api.EventWrite != 0 {
			c.flush(cl)
		}
		if ev&(api.EventRead|api.EventError) != 0 && !cl.Closing() {
			c.await(cl)
		}
	})
	if err != nil {
		c.finish(cl, "watch: %v", err)
	}
}

// await consumes input until the peer's close frame arrives.
func (c *Closer) await(cl *client.Context) {
	for {
		if cl.Rx.Full() {
			cl.Rx.Compact()
			if cl.Rx.Full() {
				cl.Rx.Reset()
			}
		}
		n, err := cl.Rx.Fill(&cl.Downstream)
		switch {
		case errors.Is(err, api.ErrWouldBlock):
			return
		case err != nil:
			c.finish(cl, "read error: %v", err)
			return
		case n == 0:
			c.finish(cl, "peer closed connection")
			return
		}
		for {
			f, used, err := ParseFrame(cl.Rx.Bytes())
			if err != nil {
				c.finish(cl, "invalid frame: %v", err)
				return
			}
			if f == nil {
				break
			}
			cl.Rx.Consume(used)
			if f.Opcode == OpcodeClose {
				code, reason := ParseClosePayload(f.Payload)
				c.finish(cl, "peer acknowledged close %d %s", code, reason)
				return
			}
		}
	}
}

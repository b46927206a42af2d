// Package client
// Author: momentics <momentics@gmail.com>
//
// Context creation, handshake stepping and ordered teardown.

package client

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/control"
	"github.com/momentics/hioload-uwsd/internal/logging"
)

// StatusGoingAway is the close status used at shutdown when no specific
// error was recorded.
const StatusGoingAway uint16 = 1001

const shutdownCloseMessage = "Server shutting down"

// StateMachine owns every protocol transition after acceptance.
type StateMachine interface {
	Init(cl *Context, st State)
}

// TLSLayer performs encrypted session setup for downstream connections.
//
// Init installs a session with cl.Downstream.SetSession. When it returns
// false the context is owned by the layer, which must eventually release it
// with cl.Close; the manager does not touch it further.
// Accept runs one handshake step: (true, nil) when complete,
// (false, api.ErrWouldBlock) while more readiness is needed, any other error
// is fatal. Free releases the session; it is called before the underlying
// descriptor is closed.
type TLSLayer interface {
	Init(cl *Context) bool
	Accept(cl *Context) (bool, error)
	Free(cl *Context)
}

// ProtocolCloser performs a graceful, possibly multi-step protocol close and
// releases the context through cl.Close once done.
type ProtocolCloser interface {
	CloseConnection(cl *Context, code uint16, reason string)
}

// ScriptCloser terminates and reaps the subprocess attached to cl, if any.
// The script descriptor itself is closed by the manager.
type ScriptCloser interface {
	CloseScript(cl *Context)
}

// Options wires the manager to its collaborators. Only Events is required
// for connections that register with the event source.
type Options struct {
	Events       api.EventSource
	StateMachine StateMachine
	TLS          TLSLayer
	Closer       ProtocolCloser
	Script       ScriptCloser
	Logger       *slog.Logger
	Metrics      *control.Metrics
	MaxClients   int
	RxSize       int
	TxSize       int
}

// Manager owns the registry of live contexts.
type Manager struct {
	events  api.EventSource
	sm      StateMachine
	tls     TLSLayer
	closer  ProtocolCloser
	script  ScriptCloser
	log     *slog.Logger
	metrics *control.Metrics
	max     int
	rxSize  int
	txSize  int

	registry Registry
	start    time.Time

	// counters readable from probe goroutines
	active   atomic.Int64
	created  atomic.Int64
	freed    atomic.Int64
	graceful atomic.Int64
}

// NewManager builds a manager; missing collaborators are treated as no-ops.
func NewManager(opts Options) *Manager {
	m := &Manager{
		events:  opts.Events,
		sm:      opts.StateMachine,
		tls:     opts.TLS,
		closer:  opts.Closer,
		script:  opts.Script,
		log:     opts.Logger,
		metrics: opts.Metrics,
		max:     opts.MaxClients,
		rxSize:  opts.RxSize,
		txSize:  opts.TxSize,
		start:   time.Now(),
	}
	if m.log == nil {
		m.log = logging.Discard()
	}
	if m.rxSize <= 0 {
		m.rxSize = RxBufferSize
	}
	if m.txSize <= 0 {
		m.txSize = TxBufferSize
	}
	return m
}

// Registry exposes the live contexts for diagnostics.
func (m *Manager) Registry() *Registry { return &m.registry }

// Len returns the number of live contexts.
func (m *Manager) Len() int { return m.registry.Len() }

// Create builds the context for an accepted descriptor, registers it and
// hands it to the TLS layer or the state machine. On error nothing was
// allocated and the caller still owns fd.
//
// When the TLS layer refuses the connection, the returned context belongs to
// the layer and may already be released.
func (m *Manager) Create(fd int, ep *Endpoint, peer netip.AddrPort, useTLS bool) (*Context, error) {
	if m.max > 0 && m.registry.Len() >= m.max {
		m.metrics.Rejected()
		return nil, api.NewError(api.ErrCodeResourceExhausted, "client limit reached").
			Wrap(api.ErrResourceExhausted).
			WithContext("max_clients", m.max)
	}
	if useTLS && m.tls == nil {
		return nil, fmt.Errorf("create client: tls requested: %w", api.ErrUnsupported)
	}

	cl := &Context{
		mgr:      m,
		Endpoint: ep,
		Peer:     peer,
		Created:  time.Now(),
		Rx:       NewBuffer(m.rxSize),
		Tx:       NewBuffer(m.txSize),
	}
	cl.Downstream.owner = cl
	cl.Downstream.Handle = NewHandle(fd)
	cl.Upstream.owner = cl
	cl.Upstream.upstream = true

	m.registry.Register(cl)
	m.active.Add(1)
	m.created.Add(1)
	m.metrics.ClientCreated()
	m.Trace(cl, "connected")

	m.Dispatch(cl, func() {
		if useTLS {
			cl.Downstream.encrypted = true
			if !m.tls.Init(cl) {
				m.metrics.TLSInitFailed()
				return
			}
		}
		if m.sm != nil {
			m.sm.Init(cl, StateConnAccept)
		}
	})
	return cl, nil
}

// Accept advances the downstream TLS handshake by one step. Plain
// connections are accepted immediately.
func (m *Manager) Accept(cl *Context) (bool, error) {
	if !cl.Downstream.encrypted {
		return true, nil
	}
	if cl.Closing() || cl.Downstream.session == nil {
		return false, api.ErrTransportClosed
	}
	return m.tls.Accept(cl)
}

// Dispatch runs fn as a callback frame of cl. Teardown requested while any
// frame of cl is active is completed when the outermost frame returns.
// Callbacks for a context that is closing are dropped.
func (m *Manager) Dispatch(cl *Context, fn func()) {
	if cl.closing || cl.released {
		return
	}
	cl.depth++
	defer func() {
		cl.depth--
		if cl.depth == 0 && cl.closing && !cl.released {
			m.release(cl)
		}
	}()
	fn()
}

// Free tears cl down. The reason is formatted only when tracing is enabled.
// Repeated calls, and calls for an already released context, are no-ops.
func (m *Manager) Free(cl *Context, reason string, args ...any) {
	if cl == nil || cl.mgr != m || cl.released || cl.closing {
		return
	}
	cl.closing = true
	cl.reasonFmt, cl.reasonArg = reason, args
	if cl.depth > 0 {
		m.Trace(cl, "teardown deferred until callback returns")
		return
	}
	m.release(cl)
}

// release performs the ordered teardown. Every step tolerates sub-resources
// that are already gone.
func (m *Manager) release(cl *Context) {
	if m.tracing() {
		reason := "unspecified reason"
		if cl.reasonFmt != "" {
			reason = fmt.Sprintf(cl.reasonFmt, cl.reasonArg...)
		}
		m.Trace(cl, "destroying context: %s", reason)
	}

	cl.Upstream.CancelTimeout()
	cl.Upstream.Unwatch()
	m.closeHandle(cl, &cl.Upstream.Handle, "upstream")

	cl.Downstream.CancelTimeout()
	cl.Downstream.Unwatch()
	if cl.Downstream.session != nil {
		if m.tls != nil {
			m.tls.Free(cl)
		} else {
			_ = cl.Downstream.session.Close()
		}
		cl.Downstream.session = nil
	}
	cl.Downstream.tr = nil
	m.closeHandle(cl, &cl.Downstream.Handle, "downstream")

	m.closeHandle(cl, &cl.Script, "script")

	cl.TxQueue.Drain()

	if m.script != nil {
		m.script.CloseScript(cl)
	}

	cl.releaseHeaders()
	cl.Headers = nil
	cl.RequestURI = ""
	cl.Err = nil
	cl.Data = nil

	m.registry.Unregister(cl)
	cl.released = true
	cl.reasonFmt, cl.reasonArg = "", nil
	cl.Rx, cl.Tx = nil, nil

	m.active.Add(-1)
	m.freed.Add(1)
	if cl.graceful {
		m.metrics.ClientFreed(control.FreeGraceful)
	} else {
		m.metrics.ClientFreed(control.FreeImmediate)
	}
}

func (m *Manager) closeHandle(cl *Context, h *Handle, which string) {
	if err := h.Close(); err != nil {
		m.Trace(cl, "%s close: %v", which, err)
	}
}

// FreeAll shuts every live context down. Contexts on graceful-close
// endpoints get a protocol-level close carrying the recorded error, or
// "going away"; all others are freed immediately. Graceful closes may
// complete on later loop iterations. Contexts already closing are skipped.
func (m *Manager) FreeAll() (graceful, immediate int) {
	m.registry.ForEachRemovable(func(cl *Context) {
		if cl.Closing() {
			return
		}
		if cl.Endpoint != nil && cl.Endpoint.Protocol.Graceful() && m.closer != nil {
			code, msg := StatusGoingAway, shutdownCloseMessage
			if cl.Err != nil {
				if cl.Err.Code != 0 {
					code = cl.Err.Code
				}
				if cl.Err.Message != "" {
					msg = cl.Err.Message
				}
			}
			graceful++
			m.graceful.Add(1)
			cl.graceful = true
			m.Dispatch(cl, func() { m.closer.CloseConnection(cl, code, msg) })
			return
		}
		immediate++
		m.Free(cl, "server shutdown")
	})
	return graceful, immediate
}

// Stats returns counters safe to read from any goroutine.
func (m *Manager) Stats() map[string]any {
	return map[string]any{
		"active":   m.active.Load(),
		"created":  m.created.Load(),
		"freed":    m.freed.Load(),
		"graceful": m.graceful.Load(),
	}
}

// RegisterProbes publishes Stats under "clients".
func (m *Manager) RegisterProbes(d api.Debug) {
	d.RegisterProbe("clients", func() any { return m.Stats() })
}

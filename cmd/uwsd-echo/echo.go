// File: cmd/uwsd-echo/echo.go
// Author: momentics <momentics@gmail.com>
//
// Connection state machine: TLS accept, then echo or relay to a worker.

package main

import (
	"errors"

	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/internal/client"
)

type echoMachine struct {
	d *daemon
}

var _ client.StateMachine = (*echoMachine)(nil)

// session is the per-connection state kept in Context.Data.
type session struct {
	accepted bool
	relay    bool
}

func (m *echoMachine) Init(cl *client.Context, _ client.State) {
	s := &session{}
	cl.Data = s
	if path, ok := m.d.scripts[cl.Endpoint]; ok {
		if err := m.d.sup.Attach(cl, path); err != nil {
			cl.Close("script: %v", err)
			return
		}
		// the worker socket is serviced like an upstream connection
		cl.Upstream.Attach(cl.Script.Detach())
		if err := cl.Upstream.Watch(api.EventRead, func(int, api.Events) { m.upstreamReady(cl) }); err != nil {
			cl.Close("watch upstream: %v", err)
			return
		}
		s.relay = true
	}
	if err := cl.Downstream.Watch(api.EventRead, func(_ int, ev api.Events) { m.downstreamReady(cl, ev) }); err != nil {
		cl.Close("watch downstream: %v", err)
		return
	}
	m.armIdle(cl)
	m.downstreamReady(cl, api.EventRead)
}

func (m *echoMachine) armIdle(cl *client.Context) {
	if idle := m.d.store.Snapshot().IdleTimeout; idle > 0 {
		cl.Downstream.SetTimeout(idle, func() {
			cl.SetError(1001, "idle timeout")
			cl.Close("idle for %s", idle)
		})
	}
}

func (m *echoMachine) downstreamReady(cl *client.Context, ev api.Events) {
	s := cl.Data.(*session)
	if !s.accepted {
		done, err := m.d.mgr.Accept(cl)
		if errors.Is(err, api.ErrWouldBlock) {
			return
		}
		if err != nil {
			cl.Close("tls accept: %v", err)
			return
		}
		s.accepted = done
		cl.Trace("connection accepted")
	}

	if ev&api.EventWrite != 0 && !m.flush(cl) {
		return
	}
	if !cl.Tx.Empty() {
		return
	}

	n, err := cl.Rx.Fill(&cl.Downstream)
	switch {
	case errors.Is(err, api.ErrWouldBlock):
		return
	case err != nil:
		cl.Close("downstream read: %v", err)
		return
	case n == 0:
		cl.Close("downstream closed connection")
		return
	}
	m.armIdle(cl)

	if s.relay {
		m.forward(cl)
		return
	}
	_, _ = cl.Tx.Write(cl.Rx.Bytes())
	cl.Rx.Consume(cl.Rx.Len())
	m.flush(cl)
}

// forward relays received downstream bytes to the worker.
func (m *echoMachine) forward(cl *client.Context) {
	_, err := cl.Rx.Drain(&cl.Upstream)
	if err != nil && !errors.Is(err, api.ErrWouldBlock) {
		cl.Close("upstream write: %v", err)
	}
}

func (m *echoMachine) upstreamReady(cl *client.Context) {
	if !cl.Tx.Empty() {
		// resumed by flush once the client caught up
		_ = cl.Upstream.SetInterest(0)
		return
	}
	n, err := cl.Tx.Fill(&cl.Upstream)
	switch {
	case errors.Is(err, api.ErrWouldBlock):
		return
	case err != nil:
		cl.Close("upstream read: %v", err)
		return
	case n == 0:
		cl.Close("script finished")
		return
	}
	m.flush(cl)
}

// flush drains Tx downstream and reports whether it is empty. Pending
// output switches the downstream watch to writability.
func (m *echoMachine) flush(cl *client.Context) bool {
	if _, err := cl.Tx.Drain(&cl.Downstream); err != nil && !errors.Is(err, api.ErrWouldBlock) {
		cl.Close("downstream write: %v", err)
		return false
	}
	want := api.EventRead
	if !cl.Tx.Empty() {
		want = api.EventWrite
	}
	if cl.Downstream.Interest() != want {
		_ = cl.Downstream.SetInterest(want)
	}
	if cl.Tx.Empty() && cl.Upstream.Watched() && cl.Upstream.Interest() == 0 {
		_ = cl.Upstream.SetInterest(api.EventRead)
	}
	return cl.Tx.Empty()
}

// Package fake
// Author: momentics <momentics@gmail.com>
//
// Recording collaborators for the client lifecycle manager.

package fake

import (
	"fmt"

	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/internal/client"
)

// StateMachine records every Init call and optionally runs OnInit.
type StateMachine struct {
	Inits  []*client.Context
	States []client.State
	OnInit func(cl *client.Context)
}

// Init implements client.StateMachine.
func (s *StateMachine) Init(cl *client.Context, st client.State) {
	s.Inits = append(s.Inits, cl)
	s.States = append(s.States, st)
	if s.OnInit != nil {
		s.OnInit(cl)
	}
}

// TLS is a fake TLS layer handing out fake sessions.
type TLS struct {
	// FailInit makes Init release the context and report failure.
	FailInit bool
	// DeferRelease keeps the context alive after a failed Init; the test
	// releases it later through ReleasePending.
	DeferRelease bool
	// Steps is the number of would-block handshake steps per session.
	Steps int
	// Trace records hook calls in order.
	Trace    []string
	Sessions map[*client.Context]*Session
	pending  []*client.Context
	// OnFree runs before the session is closed, with the context still
	// holding its downstream descriptor.
	OnFree func(cl *client.Context)
}

// NewTLS creates a fake TLS layer.
func NewTLS() *TLS {
	return &TLS{Sessions: make(map[*client.Context]*Session)}
}

// Init implements client.TLSLayer.
func (t *TLS) Init(cl *client.Context) bool {
	t.Trace = append(t.Trace, "init")
	if t.FailInit {
		if t.DeferRelease {
			t.pending = append(t.pending, cl)
		} else {
			cl.Close("Unable to initialize TLS context: %s", "fake failure")
		}
		return false
	}
	s := NewSession(t.Steps)
	t.Sessions[cl] = s
	cl.Downstream.SetSession(s)
	return true
}

// ReleasePending releases contexts kept by a deferred failed Init.
func (t *TLS) ReleasePending() int {
	n := len(t.pending)
	for _, cl := range t.pending {
		cl.Close("Unable to initialize TLS context: %s", "fake failure")
	}
	t.pending = nil
	return n
}

// Accept implements client.TLSLayer.
func (t *TLS) Accept(cl *client.Context) (bool, error) {
	t.Trace = append(t.Trace, "accept")
	s := cl.Downstream.Session()
	if s == nil {
		return false, api.ErrTransportClosed
	}
	if err := s.Handshake(); err != nil {
		return false, err
	}
	return true, nil
}

// Free implements client.TLSLayer.
func (t *TLS) Free(cl *client.Context) {
	t.Trace = append(t.Trace, fmt.Sprintf("free fd=%d", cl.Downstream.FD()))
	if t.OnFree != nil {
		t.OnFree(cl)
	}
	if s := cl.Downstream.Session(); s != nil {
		_ = s.Close()
	}
}

// CloseCall is one recorded graceful close.
type CloseCall struct {
	Client *client.Context
	Code   uint16
	Reason string
}

// Closer records graceful close requests. With AutoRelease it releases the
// context immediately, as a close handshake that completes in one step.
type Closer struct {
	Calls       []CloseCall
	AutoRelease bool
}

// CloseConnection implements client.ProtocolCloser.
func (c *Closer) CloseConnection(cl *client.Context, code uint16, reason string) {
	c.Calls = append(c.Calls, CloseCall{Client: cl, Code: code, Reason: reason})
	if c.AutoRelease {
		cl.Close("websocket close %d", code)
	}
}

// Script records subprocess close requests.
type Script struct {
	Closed []*client.Context
}

// CloseScript implements client.ScriptCloser.
func (s *Script) CloseScript(cl *client.Context) {
	s.Closed = append(s.Closed, cl)
}

// Package client
// Author: momentics <momentics@gmail.com>
//
// Per-connection state record.

package client

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/eapache/queue"
)

// Protocol is the kind of listening endpoint a connection arrived on.
type Protocol int

const (
	ProtocolHTTP Protocol = iota
	ProtocolHTTPS
	ProtocolWS
	ProtocolWSS
)

var protocolNames = [...]string{"http", "https", "ws", "wss"}

func (p Protocol) String() string {
	if int(p) < len(protocolNames) {
		return protocolNames[p]
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// ParseProtocol maps a configuration name onto a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	for i, name := range protocolNames {
		if strings.EqualFold(s, name) {
			return Protocol(i), nil
		}
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// Encrypted reports whether connections on this protocol start with TLS.
func (p Protocol) Encrypted() bool { return p == ProtocolHTTPS || p == ProtocolWSS }

// Graceful reports whether shutdown must go through a protocol-level close
// (framed, connection-oriented protocols) instead of an immediate teardown.
func (p Protocol) Graceful() bool { return p == ProtocolWS || p == ProtocolWSS }

// Endpoint describes the listening socket a context was accepted on.
type Endpoint struct {
	Name     string
	Addr     string
	Protocol Protocol
}

// State is the initial state handed to the protocol state machine.
type State int

const (
	// StateConnAccept is the state of a freshly accepted, ready connection.
	StateConnAccept State = iota
)

func (s State) String() string {
	if s == StateConnAccept {
		return "CONN_ACCEPT"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Header is one cached request header.
type Header struct {
	Name  string
	Value string
}

// Frame is an outbound protocol frame waiting for transmission.
type Frame struct {
	Opcode  byte
	Payload []byte
}

// CloseError is the status recorded for a protocol-level close.
type CloseError struct {
	Code    uint16
	Message string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close %d: %s", e.Code, e.Message)
}

// FrameQueue is a FIFO of outbound frames.
type FrameQueue struct {
	q *queue.Queue
}

// Push appends f at the tail.
func (fq *FrameQueue) Push(f *Frame) {
	if fq.q == nil {
		fq.q = queue.New()
	}
	fq.q.Add(f)
}

// Peek returns the head frame without removing it.
func (fq *FrameQueue) Peek() *Frame {
	if fq.Len() == 0 {
		return nil
	}
	return fq.q.Peek().(*Frame)
}

// Pop removes and returns the head frame, or nil when empty.
func (fq *FrameQueue) Pop() *Frame {
	if fq.Len() == 0 {
		return nil
	}
	return fq.q.Remove().(*Frame)
}

// Len returns the number of queued frames.
func (fq *FrameQueue) Len() int {
	if fq.q == nil {
		return 0
	}
	return fq.q.Length()
}

// Drain releases every queued frame and returns how many there were.
func (fq *FrameQueue) Drain() int {
	n := 0
	for fq.Pop() != nil {
		n++
	}
	fq.q = nil
	return n
}

// Context is the state of one accepted client connection.
type Context struct {
	prev, next *Context
	registry   *Registry
	mgr        *Manager

	Endpoint *Endpoint
	Peer     netip.AddrPort
	Created  time.Time

	Downstream Conn
	Upstream   Conn
	Script     Handle

	Rx *Buffer
	Tx *Buffer

	Headers    []Header
	RequestURI string
	TxQueue    FrameQueue
	Err        *CloseError

	// Data is owned by the protocol state machine.
	Data any

	depth     int
	closing   bool
	released  bool
	graceful  bool
	reasonFmt string
	reasonArg []any
}

// Closing reports whether teardown has been requested.
func (cl *Context) Closing() bool { return cl.closing || cl.released }

// Released reports whether teardown has completed.
func (cl *Context) Released() bool { return cl.released }

// Close requests teardown through the owning manager.
func (cl *Context) Close(reason string, args ...any) {
	if cl.mgr != nil {
		cl.mgr.Free(cl, reason, args...)
	}
}

// Trace emits a diagnostic line through the owning manager.
func (cl *Context) Trace(format string, args ...any) {
	if cl.mgr != nil {
		cl.mgr.Trace(cl, format, args...)
	}
}

// SetError records the status for a later protocol-level close.
func (cl *Context) SetError(code uint16, format string, args ...any) {
	cl.Err = &CloseError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AddHeader caches one request header.
func (cl *Context) AddHeader(name, value string) {
	cl.Headers = append(cl.Headers, Header{Name: name, Value: value})
}

// Header returns the first cached header matching name case-insensitively.
func (cl *Context) Header(name string) (string, bool) {
	for _, h := range cl.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// releaseHeaders drops the cached pairs one by one, count down to zero.
func (cl *Context) releaseHeaders() {
	n := len(cl.Headers)
	for n > 0 {
		n--
		cl.Headers[n] = Header{}
		cl.Headers = cl.Headers[:n]
	}
}

// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the collaborator contracts.

package fake

import (
	"sync"

	"github.com/momentics/hioload-uwsd/api"
)

// Session is a fake api.TLSSession backed by in-memory records.
type Session struct {
	mu         sync.Mutex
	sent       [][]byte
	recv       [][]byte
	closed     bool
	handshakes int
	pending    int
	sendError  error
	recvError  error
	closeError error
}

var _ api.TLSSession = (*Session)(nil)

// NewSession creates a session whose handshake needs steps calls to finish.
func NewSession(steps int) *Session {
	return &Session{pending: steps}
}

// Handshake implements api.TLSSession.
func (s *Session) Handshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.ErrTransportClosed
	}
	s.handshakes++
	if s.pending > 0 {
		s.pending--
		return api.ErrWouldBlock
	}
	return nil
}

// Read implements api.TLSSession.
func (s *Session) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, api.ErrTransportClosed
	}
	if s.recvError != nil {
		return 0, s.recvError
	}
	if len(s.recv) == 0 {
		return 0, api.ErrWouldBlock
	}
	n := copy(p, s.recv[0])
	if n < len(s.recv[0]) {
		s.recv[0] = s.recv[0][n:]
	} else {
		s.recv = s.recv[1:]
	}
	return n, nil
}

// Write implements api.TLSSession.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, api.ErrTransportClosed
	}
	if s.sendError != nil {
		return 0, s.sendError
	}
	s.sent = append(s.sent, append([]byte(nil), p...))
	return len(p), nil
}

// Close implements api.TLSSession.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeError != nil {
		return s.closeError
	}
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Handshakes returns how many handshake steps ran.
func (s *Session) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// SetSendError configures the session to return an error on Write.
func (s *Session) SetSendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendError = err
}

// SetRecvError configures the session to return an error on Read.
func (s *Session) SetRecvError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recvError = err
}

// AddRecvData queues data returned by later Read calls.
func (s *Session) AddRecvData(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recv = append(s.recv, append([]byte(nil), data...))
}

// GetSentData returns every record written.
func (s *Session) GetSentData() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := make([][]byte, len(s.sent))
	copy(sent, s.sent)
	return sent
}

//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"errors"
	"time"

	"github.com/momentics/hioload-uwsd/api"
)

// Reactor is unavailable outside Linux.
type Reactor struct {
	loopState
}

var errUnsupported = errors.New("reactor: this platform is not supported")

// New returns an error for unsupported platforms.
func New() (*Reactor, error) {
	return nil, errUnsupported
}

func (r *Reactor) Register(int, api.Events, api.FDCallback) error { return errUnsupported }
func (r *Reactor) Modify(int, api.Events) error                   { return errUnsupported }
func (r *Reactor) Unregister(int) error                           { return errUnsupported }
func (r *Reactor) Post(fn func())                                 {}
func (r *Reactor) Poll(time.Duration) (int, error)                { return 0, errUnsupported }
func (r *Reactor) Run() error                                     { return errUnsupported }
func (r *Reactor) Stop()                                          {}
func (r *Reactor) Close() error                                   { return nil }

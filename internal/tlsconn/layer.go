// Package tlsconn
// Author: momentics <momentics@gmail.com>
//
// client.TLSLayer backed by crypto/tls.

package tlsconn

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/internal/client"
	"github.com/momentics/hioload-uwsd/internal/logging"
)

// Poster runs a function on the event loop goroutine.
type Poster interface {
	Post(fn func())
}

// Options tunes a Layer. WriteTimeout bounds how long encrypted records
// may sit unsent before the session is failed.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Logger           *slog.Logger
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

// Layer implements client.TLSLayer.
type Layer struct {
	config *tls.Config
	post   Poster
	opts   Options
	log    *slog.Logger
}

var _ client.TLSLayer = (*Layer)(nil)

// New creates a layer serving cfg. post must deliver to the goroutine that
// runs the client manager.
func New(cfg *tls.Config, post Poster, opts Options) *Layer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Layer{config: cfg, post: post, opts: opts, log: log}
}

// ServerConfig loads a certificate pair into a server configuration.
func ServerConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Init wraps the downstream descriptor in a server session. On failure the
// context is released here and false is returned.
func (l *Layer) Init(cl *client.Context) bool {
	s, err := newSession(cl.Downstream.FD(), l.config, l.opts)
	if err != nil {
		cl.Close("Unable to initialize TLS context: %v", err)
		return false
	}
	s.onDone = func() {
		if l.post == nil {
			return
		}
		l.post.Post(func() { l.resume(cl, s) })
	}
	cl.Downstream.SetSession(s)
	return true
}

// Accept advances the handshake. While it runs the downstream descriptor is
// parked so level-triggered readiness does not spin the loop.
func (l *Layer) Accept(cl *client.Context) (bool, error) {
	s, ok := cl.Downstream.Session().(*Session)
	if !ok || s == nil {
		return false, api.ErrTransportClosed
	}
	err := s.Handshake()
	switch {
	case err == nil:
		cl.Trace("tls handshake complete: %s", tls.VersionName(s.conn.ConnectionState().Version))
		return true, nil
	case errors.Is(err, api.ErrWouldBlock):
		if cl.Downstream.Watched() && cl.Downstream.Interest() != 0 {
			s.parked = cl.Downstream.Interest()
			_ = cl.Downstream.SetInterest(0)
		}
		return false, api.ErrWouldBlock
	default:
		l.log.Debug("tls handshake failed", slog.String("peer", client.FormatPeer(cl.Peer)), slog.Any("error", err))
		return false, err
	}
}

// resume runs on the loop once the handshake goroutine finished.
func (l *Layer) resume(cl *client.Context, s *Session) {
	if cl.Closing() || cl.Downstream.Session() != s {
		return
	}
	if s.parked != 0 {
		_ = cl.Downstream.SetInterest(s.parked)
		s.parked = 0
	}
	cl.Downstream.Notify(api.EventRead)
}

// Free sends close_notify and releases the session's duplicate descriptor.
func (l *Layer) Free(cl *client.Context) {
	if s := cl.Downstream.Session(); s != nil {
		if err := s.Close(); err != nil {
			cl.Trace("tls close: %v", err)
		}
	}
}

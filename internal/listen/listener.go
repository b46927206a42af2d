// Package listen
// Author: momentics <momentics@gmail.com>
//
// Non-blocking TCP listening sockets feeding accepted descriptors to the
// client manager.

package listen

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"

	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/internal/client"
	"github.com/momentics/hioload-uwsd/internal/logging"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

const backlog = 1024

// Creator receives accepted descriptors. *client.Manager implements it.
type Creator interface {
	Create(fd int, ep *client.Endpoint, peer netip.AddrPort, useTLS bool) (*client.Context, error)
}

// Listener is one bound socket serving an endpoint.
type Listener struct {
	fd       int
	endpoint *client.Endpoint
	creator  Creator
	events   api.EventSource
	log      *slog.Logger
	limiter  *rate.Limiter
	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// Listen binds ep.Addr ("host:port", host may be empty) with SO_REUSEADDR.
func Listen(ep *client.Endpoint, creator Creator, events api.EventSource, log *slog.Logger) (*Listener, error) {
	sa, family, err := resolve(ep.Addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", ep.Addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", ep.Addr, err)
	}
	if log == nil {
		log = logging.Discard()
	}
	l := &Listener{fd: fd, endpoint: ep, creator: creator, events: events, log: log}
	if events != nil {
		if err := events.Register(fd, api.EventRead, func(int, api.Events) { l.AcceptPending() }); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("register listener: %w", err)
		}
	}
	return l, nil
}

func resolve(addr string) (unix.Sockaddr, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, 0, fmt.Errorf("listen port %q: %w", portStr, err)
	}
	if host == "" {
		return &unix.SockaddrInet6{Port: int(port)}, unix.AF_INET6, nil
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return nil, 0, fmt.Errorf("listen host %q: %w", host, err)
	}
	if ip.Is4() {
		return &unix.SockaddrInet4{Port: int(port), Addr: ip.As4()}, unix.AF_INET, nil
	}
	return &unix.SockaddrInet6{Port: int(port), Addr: ip.As16()}, unix.AF_INET6, nil
}

// FD returns the listening descriptor, -1 after Close.
func (l *Listener) FD() int { return l.fd }

// Endpoint returns the served endpoint.
func (l *Listener) Endpoint() *client.Endpoint { return l.endpoint }

// Addr returns the bound address, useful with port 0.
func (l *Listener) Addr() netip.AddrPort {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return client.PeerFromSockaddr(sa)
}

// Accepted returns the number of connections handed to the creator.
func (l *Listener) Accepted() uint64 { return l.accepted.Load() }

// Dropped returns the number of connections closed by the rate limit.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

// SetLimiter bounds the accept rate; connections over the limit are closed
// right after accept. nil removes the bound.
func (l *Listener) SetLimiter(lim *rate.Limiter) { l.limiter = lim }

// AcceptPending accepts until the backlog is empty. Descriptors the creator
// refuses are closed here.
func (l *Listener) AcceptPending() int {
	n := 0
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			if !errors.Is(err, unix.EAGAIN) {
				l.log.Error("accept failed", slog.String("endpoint", l.endpoint.Name), slog.Any("error", err))
			}
			return n
		}
		peer := client.PeerFromSockaddr(sa)
		if l.limiter != nil && !l.limiter.Allow() {
			l.log.Debug("accept rate exceeded", slog.String("endpoint", l.endpoint.Name), slog.String("peer", client.FormatPeer(peer)))
			unix.Close(fd)
			l.dropped.Add(1)
			continue
		}
		if _, err := l.creator.Create(fd, l.endpoint, peer, l.endpoint.Protocol.Encrypted()); err != nil {
			l.log.Warn("connection refused",
				slog.String("endpoint", l.endpoint.Name),
				slog.String("peer", client.FormatPeer(peer)),
				slog.Any("error", err))
			unix.Close(fd)
			continue
		}
		l.accepted.Add(1)
		n++
	}
}

// Close deregisters and closes the listening socket.
func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}
	if l.events != nil {
		_ = l.events.Unregister(l.fd)
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

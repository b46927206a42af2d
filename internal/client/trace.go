// Package client
// Author: momentics <momentics@gmail.com>
//
// Connection diagnostics keyed by peer address and monotonic time.

package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// PeerFromSockaddr converts the address returned by accept into a peer
// address of the same family. Unsupported families yield the zero AddrPort.
func PeerFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		addr := netip.AddrFrom16(a.Addr)
		if a.ZoneId != 0 {
			addr = addr.WithZone(strconv.FormatUint(uint64(a.ZoneId), 10))
		}
		return netip.AddrPortFrom(addr, uint16(a.Port))
	}
	return netip.AddrPort{}
}

// FormatPeer renders "a.b.c.d:port" for IPv4 and "[addr]:port" for IPv6.
func FormatPeer(p netip.AddrPort) string {
	if !p.IsValid() {
		return "unknown"
	}
	if p.Addr().Is4() {
		return p.Addr().String() + ":" + strconv.Itoa(int(p.Port()))
	}
	return "[" + p.Addr().String() + "]:" + strconv.Itoa(int(p.Port()))
}

// formatStamp renders elapsed time as [ssssssssss.mmmm].
func formatStamp(d time.Duration) string {
	return fmt.Sprintf("[%010d.%04d]", int64(d/time.Second), int64(d%time.Second/time.Millisecond))
}

// tracing reports whether debug diagnostics are enabled.
func (m *Manager) tracing() bool {
	return m.log.Enabled(context.Background(), slog.LevelDebug)
}

// Trace emits one diagnostic line for cl at debug level. Formatting only
// happens when debug logging is enabled; output errors are ignored by slog.
func (m *Manager) Trace(cl *Context, format string, args ...any) {
	if !m.tracing() {
		return
	}
	peer := FormatPeer(cl.Peer)
	m.log.Debug(formatStamp(time.Since(m.start))+" "+peer+"  "+fmt.Sprintf(format, args...),
		slog.String("peer", peer))
}

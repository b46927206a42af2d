package client_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/netip"
	"regexp"
	"strings"
	"testing"

	"github.com/momentics/hioload-uwsd/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPeerFromSockaddr(t *testing.T) {
	v4 := client.PeerFromSockaddr(&unix.SockaddrInet4{Port: 40000, Addr: [4]byte{192, 0, 2, 10}})
	assert.Equal(t, peerV4, v4)
	assert.True(t, v4.Addr().Is4())

	v6 := client.PeerFromSockaddr(&unix.SockaddrInet6{
		Port: 40001,
		Addr: [16]byte{0x20, 0x01, 0x0d, 0xb8, 15: 0x01},
	})
	assert.Equal(t, peerV6, v6)
	assert.True(t, v6.Addr().Is6())

	mapped := client.PeerFromSockaddr(&unix.SockaddrInet6{
		Port: 1,
		Addr: [16]byte{10: 0xff, 11: 0xff, 12: 192, 13: 0, 14: 2, 15: 1},
	})
	assert.True(t, mapped.Addr().Is6(), "family of the accepted socket is kept")

	assert.False(t, client.PeerFromSockaddr(&unix.SockaddrUnix{Name: "/tmp/x"}).IsValid())
}

func TestFormatPeer(t *testing.T) {
	cases := []struct {
		in   netip.AddrPort
		want string
	}{
		{peerV4, "192.0.2.10:40000"},
		{peerV6, "[2001:db8::1]:40001"},
		{netip.MustParseAddrPort("[::ffff:192.0.2.1]:1"), "[::ffff:192.0.2.1]:1"},
		{netip.AddrPort{}, "unknown"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, client.FormatPeer(c.in))
	}
}

func TestTrace_LineFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newHarness(t, func(o *client.Options) { o.Logger = log })

	cl, err := h.mgr.Create(socketFD(t), wsEndpoint, peerV6, false)
	require.NoError(t, err)
	cl.Trace("handshake %s", "ok")
	h.mgr.Free(cl, "peer closed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	msgs := make([]string, len(lines))
	for i, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, "DEBUG", rec["level"])
		assert.Equal(t, "[2001:db8::1]:40001", rec["peer"])
		msgs[i] = rec["msg"].(string)
	}

	stamp := regexp.MustCompile(`^\[\d{10}\.\d{4}\] \[2001:db8::1\]:40001  `)
	for _, m := range msgs {
		assert.Regexp(t, stamp, m)
	}
	assert.True(t, strings.HasSuffix(msgs[0], "  connected"))
	assert.True(t, strings.HasSuffix(msgs[1], "  handshake ok"))
	assert.True(t, strings.HasSuffix(msgs[2], "  destroying context: peer closed"))
}

func TestTrace_DefaultReason(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newHarness(t, func(o *client.Options) { o.Logger = log })

	cl, err := h.mgr.Create(socketFD(t), httpEndpoint, peerV4, false)
	require.NoError(t, err)
	h.mgr.Free(cl, "")
	assert.Contains(t, buf.String(), "192.0.2.10:40000  destroying context: unspecified reason")
}

func TestTrace_DisabledProducesNothing(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	h := newHarness(t, func(o *client.Options) { o.Logger = log })

	cl, err := h.mgr.Create(socketFD(t), httpEndpoint, peerV4, false)
	require.NoError(t, err)
	cl.Trace("never %d", 1)
	h.mgr.Free(cl, "gone")
	assert.Zero(t, buf.Len())
}

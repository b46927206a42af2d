package client_test

import (
	"net/netip"
	"strconv"
	"testing"

	"github.com/momentics/hioload-uwsd/fake"
	"github.com/momentics/hioload-uwsd/internal/client"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type harness struct {
	events *fake.EventSource
	sm     *fake.StateMachine
	tls    *fake.TLS
	closer *fake.Closer
	script *fake.Script
	mgr    *client.Manager
}

func newHarness(t *testing.T, mutate ...func(*client.Options)) *harness {
	t.Helper()
	h := &harness{
		events: fake.NewEventSource(),
		sm:     &fake.StateMachine{},
		tls:    fake.NewTLS(),
		closer: &fake.Closer{},
		script: &fake.Script{},
	}
	opts := client.Options{
		Events:       h.events,
		StateMachine: h.sm,
		TLS:          h.tls,
		Closer:       h.closer,
		Script:       h.script,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	h.mgr = client.NewManager(opts)
	return h
}

// socketFD returns one end of a fresh socket pair; the peer end is closed at
// cleanup.
func socketFD(t *testing.T) int {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[1])
		if isOpen(fds[0]) {
			unix.Close(fds[0])
		}
	})
	return fds[0]
}

func isOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

var (
	wsEndpoint   = &client.Endpoint{Name: "ws", Addr: ":8080", Protocol: client.ProtocolWS}
	httpEndpoint = &client.Endpoint{Name: "http", Addr: ":8081", Protocol: client.ProtocolHTTP}
	peerV4       = netip.MustParseAddrPort("192.0.2.10:40000")
	peerV6       = netip.MustParseAddrPort("[2001:db8::1]:40001")
)

func itoa(n int) string { return strconv.Itoa(n) }

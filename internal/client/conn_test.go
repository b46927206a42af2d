package client_test

import (
	"testing"

	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAdvanceVec(t *testing.T) {
	bufs := [][]byte{[]byte("abc"), []byte("de"), []byte("fgh")}

	rest := client.AdvanceVec(bufs, 0)
	assert.Equal(t, [][]byte{[]byte("abc"), []byte("de"), []byte("fgh")}, rest)

	rest = client.AdvanceVec(rest, 4)
	assert.Equal(t, [][]byte{[]byte("e"), []byte("fgh")}, rest)

	rest = client.AdvanceVec(rest, 1)
	assert.Equal(t, [][]byte{[]byte("fgh")}, rest)

	rest = client.AdvanceVec(rest, 3)
	assert.Empty(t, rest)
}

func TestAdvanceVec_SkipsEmptySegments(t *testing.T) {
	rest := client.AdvanceVec([][]byte{{}, []byte("ab"), {}, []byte("c")}, 2)
	assert.Equal(t, [][]byte{[]byte("c")}, rest)
}

func TestConn_SendVecAndRecv(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	h := newHarness(t)
	cl, err := h.mgr.Create(fds[0], httpEndpoint, peerV4, false)
	require.NoError(t, err)
	defer h.mgr.Free(cl, "")

	rest, err := cl.Downstream.SendVec([][]byte{[]byte("HTTP/1.1 200 OK\r\n"), []byte("\r\n")})
	require.NoError(t, err)
	assert.Empty(t, rest)

	got := make([]byte, 64)
	n, err := unix.Read(fds[1], got)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n\r\n", string(got[:n]))

	_, err = cl.Downstream.Recv(got)
	assert.ErrorIs(t, err, api.ErrWouldBlock)

	_, err = unix.Write(fds[1], []byte("GET / HTTP/1.1\r\n"))
	require.NoError(t, err)
	n, err = cl.Rx.Fill(&cl.Downstream)
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.1\r\n", string(cl.Rx.Bytes()))
	assert.Equal(t, n, cl.Rx.Len())

	require.NoError(t, unix.Shutdown(fds[1], unix.SHUT_WR))
	n, err = cl.Downstream.Recv(got)
	assert.NoError(t, err)
	assert.Zero(t, n, "orderly shutdown reads as zero bytes")
}

func TestConn_WatchModifyUnwatch(t *testing.T) {
	h := newHarness(t)
	fd := socketFD(t)
	cl, err := h.mgr.Create(fd, httpEndpoint, peerV4, false)
	require.NoError(t, err)

	var seen []api.Events
	cb := func(_ int, ev api.Events) { seen = append(seen, ev) }
	require.NoError(t, cl.Downstream.Watch(api.EventRead, cb))
	require.NoError(t, cl.Downstream.Watch(api.EventRead|api.EventWrite, cb))
	assert.True(t, cl.Downstream.Watched())
	assert.Equal(t, api.EventRead|api.EventWrite, h.events.Mask(fd))

	h.events.Fire(fd, api.EventWrite)
	cl.Downstream.Notify(api.EventRead)
	assert.Equal(t, []api.Events{api.EventWrite, api.EventRead}, seen)

	cl.Downstream.Unwatch()
	cl.Downstream.Unwatch()
	assert.False(t, cl.Downstream.Watched())
	assert.False(t, h.events.Registered(fd))
	assert.Equal(t, []string{
		"register " + itoa(fd), "modify " + itoa(fd), "unregister " + itoa(fd),
	}, h.events.Ops)

	h.mgr.Free(cl, "")
	assert.ErrorIs(t, cl.Downstream.Watch(api.EventRead, cb), api.ErrTransportClosed)
}

func TestConn_UpstreamAttach(t *testing.T) {
	h := newHarness(t)
	cl, err := h.mgr.Create(socketFD(t), httpEndpoint, peerV4, false)
	require.NoError(t, err)

	first, second := socketFD(t), socketFD(t)
	cl.Upstream.Attach(first)
	cl.Upstream.Attach(second)
	assert.False(t, isOpen(first), "re-attaching closes the previous descriptor")
	assert.Equal(t, second, cl.Upstream.FD())
	assert.Same(t, cl, cl.Upstream.Context())

	h.mgr.Free(cl, "")
	assert.False(t, isOpen(second))
	assert.Equal(t, -1, cl.Upstream.FD())
}

func TestConn_SetInterestParksDescriptor(t *testing.T) {
	h := newHarness(t)
	fd := socketFD(t)
	cl, err := h.mgr.Create(fd, httpEndpoint, peerV4, false)
	require.NoError(t, err)

	assert.ErrorIs(t, cl.Downstream.SetInterest(api.EventRead), api.ErrNotFound)

	require.NoError(t, cl.Downstream.Watch(api.EventRead|api.EventWrite, func(int, api.Events) {}))
	require.NoError(t, cl.Downstream.SetInterest(0))
	assert.Zero(t, h.events.Mask(fd))
	assert.Zero(t, cl.Downstream.Interest())
	assert.True(t, cl.Downstream.Watched())

	require.NoError(t, cl.Downstream.SetInterest(api.EventRead))
	assert.Equal(t, api.EventRead, cl.Downstream.Interest())

	cl.Downstream.Unwatch()
	assert.Zero(t, cl.Downstream.Interest())
}

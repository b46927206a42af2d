package wsclose_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/fake"
	"github.com/momentics/hioload-uwsd/internal/client"
	"github.com/momentics/hioload-uwsd/internal/wsclose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type rig struct {
	events *fake.EventSource
	closer *wsclose.Closer
	mgr    *client.Manager
	cl     *client.Context
	fd     int
	peer   int
}

func newRig(t *testing.T) *rig {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fds[1]) })

	r := &rig{
		events: fake.NewEventSource(),
		closer: wsclose.NewCloser(2*time.Second, nil),
		fd:     fds[0],
		peer:   fds[1],
	}
	r.mgr = client.NewManager(client.Options{Events: r.events, Closer: r.closer})
	r.cl, err = r.mgr.Create(fds[0], &client.Endpoint{Protocol: client.ProtocolWS}, netip.MustParseAddrPort("192.0.2.7:5000"), false)
	require.NoError(t, err)
	return r
}

func (r *rig) readFrame(t *testing.T) *wsclose.Frame {
	t.Helper()
	buf := make([]byte, 256)
	n, err := unix.Read(r.peer, buf)
	require.NoError(t, err)
	f, used, err := wsclose.ParseFrame(buf[:n])
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, n, used)
	return f
}

func TestFreeAll_SendsGoingAwayAndWaitsForReply(t *testing.T) {
	r := newRig(t)

	graceful, immediate := r.mgr.FreeAll()
	assert.Equal(t, 1, graceful)
	assert.Zero(t, immediate)

	f := r.readFrame(t)
	assert.Equal(t, byte(wsclose.OpcodeClose), f.Opcode)
	code, reason := wsclose.ParseClosePayload(f.Payload)
	assert.Equal(t, wsclose.CloseGoingAway, code)
	assert.Equal(t, "Server shutting down", reason)

	assert.False(t, r.cl.Released())
	assert.True(t, r.events.Registered(r.fd))
	assert.Equal(t, api.EventRead, r.events.Mask(r.fd))
	assert.Equal(t, 1, r.closer.Pending())

	// a text frame first, then the close reply
	_, err := unix.Write(r.peer, maskedFrame(wsclose.OpcodeText, []byte("late"), [4]byte{9, 9, 9, 9}))
	require.NoError(t, err)
	r.events.Fire(r.fd, api.EventRead)
	assert.False(t, r.cl.Released())

	_, err = unix.Write(r.peer, maskedFrame(wsclose.OpcodeClose, wsclose.ClosePayload(wsclose.CloseNormalClosure, ""), [4]byte{1, 2, 3, 4}))
	require.NoError(t, err)
	r.events.Fire(r.fd, api.EventRead)

	assert.True(t, r.cl.Released())
	assert.Zero(t, r.mgr.Len())
	assert.Zero(t, r.closer.Pending())
	assert.Zero(t, r.events.PendingTimers())
}

func TestCloseConnection_RecordedError(t *testing.T) {
	r := newRig(t)
	r.cl.SetError(wsclose.ClosePolicyViolation, "origin %s not allowed", "evil.example")

	r.mgr.FreeAll()
	code, reason := wsclose.ParseClosePayload(r.readFrame(t).Payload)
	assert.Equal(t, wsclose.ClosePolicyViolation, code)
	assert.Equal(t, "origin evil.example not allowed", reason)
}

func TestCloseConnection_Timeout(t *testing.T) {
	r := newRig(t)
	r.closer.CloseConnection(r.cl, wsclose.CloseNormalClosure, "done")
	r.readFrame(t)

	r.events.Advance(time.Second)
	assert.False(t, r.cl.Released())
	r.events.Advance(time.Second)
	assert.True(t, r.cl.Released())
	assert.Zero(t, r.closer.Pending())
}

func TestCloseConnection_PeerHangsUp(t *testing.T) {
	r := newRig(t)
	r.closer.CloseConnection(r.cl, wsclose.CloseNormalClosure, "done")
	require.NoError(t, unix.Shutdown(r.peer, unix.SHUT_WR))
	r.events.Fire(r.fd, api.EventRead)
	assert.True(t, r.cl.Released())
}

func TestCloseConnection_Idempotent(t *testing.T) {
	r := newRig(t)
	r.closer.CloseConnection(r.cl, wsclose.CloseNormalClosure, "first")
	r.closer.CloseConnection(r.cl, wsclose.CloseGoingAway, "second")
	assert.Equal(t, 1, r.closer.Pending())

	buf := make([]byte, 256)
	n, err := unix.Read(r.peer, buf)
	require.NoError(t, err)
	f, used, err := wsclose.ParseFrame(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, n, used, "exactly one close frame was sent")
	_, reason := wsclose.ParseClosePayload(f.Payload)
	assert.Equal(t, "first", reason)

	r.mgr.Free(r.cl, "")
	r.closer.CloseConnection(r.cl, wsclose.CloseNormalClosure, "after release")
	assert.Zero(t, r.closer.Pending())
}

func TestCloseConnection_FlushesQueuedFramesFirst(t *testing.T) {
	r := newRig(t)
	r.cl.TxQueue.Push(&client.Frame{Opcode: wsclose.OpcodeText, Payload: []byte("last words")})
	r.closer.CloseConnection(r.cl, wsclose.CloseNormalClosure, "")

	buf := make([]byte, 256)
	n, err := unix.Read(r.peer, buf)
	require.NoError(t, err)
	first, used, err := wsclose.ParseFrame(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, "last words", string(first.Payload))
	second, _, err := wsclose.ParseFrame(buf[used:n])
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, byte(wsclose.OpcodeClose), second.Opcode)
	assert.Zero(t, r.cl.TxQueue.Len())
}

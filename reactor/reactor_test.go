//go:build linux

package reactor_test

import (
	"testing"
	"time"

	"github.com/momentics/hioload-uwsd/api"
	"github.com/momentics/hioload-uwsd/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func pipe(t *testing.T) (int, int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestReactor_ReadReadiness(t *testing.T) {
	r := newReactor(t)
	rd, wr := pipe(t)

	var got api.Events
	require.NoError(t, r.Register(rd, api.EventRead, func(fd int, ev api.Events) {
		assert.Equal(t, rd, fd)
		got = ev
	}))
	assert.ErrorIs(t, r.Register(rd, api.EventRead, nil), api.ErrAlreadyExists)

	_, err := unix.Write(wr, []byte("x"))
	require.NoError(t, err)

	n, err := r.Poll(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotZero(t, got&api.EventRead)

	require.NoError(t, r.Unregister(rd))
	assert.ErrorIs(t, r.Unregister(rd), api.ErrNotFound)
	n, err = r.Poll(0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReactor_StaleEventSkipsNewRegistration(t *testing.T) {
	r := newReactor(t)
	rd1, wr1 := pipe(t)
	rd2, wr2 := pipe(t)
	other := map[int]int{rd1: rd2, rd2: rd1}

	first, stale, fresh := -1, 0, 0
	cb := func(fd int, _ api.Events) {
		if first >= 0 {
			stale++
			return
		}
		first = fd
		// same fd number, new owner
		peer := other[fd]
		require.NoError(t, r.Unregister(peer))
		require.NoError(t, r.Register(peer, api.EventRead, func(int, api.Events) { fresh++ }))
	}
	require.NoError(t, r.Register(rd1, api.EventRead, cb))
	require.NoError(t, r.Register(rd2, api.EventRead, cb))

	for _, wr := range []int{wr1, wr2} {
		_, err := unix.Write(wr, []byte("x"))
		require.NoError(t, err)
	}

	n, err := r.Poll(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, stale)
	assert.Zero(t, fresh, "event of the previous registration is not delivered")

	n, err = r.Poll(time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	assert.Equal(t, 1, fresh)
}

func TestReactor_ModifyKeepsRegistration(t *testing.T) {
	r := newReactor(t)
	rd, wr := pipe(t)

	calls := 0
	require.NoError(t, r.Register(rd, 0, func(int, api.Events) { calls++ }))
	require.NoError(t, r.Modify(rd, api.EventRead))
	_, err := unix.Write(wr, []byte("x"))
	require.NoError(t, err)

	_, err = r.Poll(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestReactor_TimersFireInOrderAndStop(t *testing.T) {
	r := newReactor(t)
	var order []int
	r.AfterFunc(20*time.Millisecond, func() { order = append(order, 2) })
	r.AfterFunc(5*time.Millisecond, func() { order = append(order, 1) })
	cancelled := r.AfterFunc(10*time.Millisecond, func() { order = append(order, 99) })
	assert.True(t, cancelled.Stop())
	assert.False(t, cancelled.Stop())

	deadline := time.Now().Add(time.Second)
	for len(order) < 2 && time.Now().Before(deadline) {
		_, err := r.Poll(50 * time.Millisecond)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 2}, order)
}

func TestReactor_PostWakesLoop(t *testing.T) {
	r := newReactor(t)
	done := make(chan struct{})
	ran := false
	go func() {
		r.Post(func() { ran = true })
		close(done)
	}()
	<-done
	_, err := r.Poll(time.Second)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestReactor_DeferRunsAfterCallbacks(t *testing.T) {
	r := newReactor(t)
	rd, wr := pipe(t)
	var trace []string
	require.NoError(t, r.Register(rd, api.EventRead, func(int, api.Events) {
		r.Defer(func() { trace = append(trace, "deferred") })
		trace = append(trace, "callback")
	}))
	_, err := unix.Write(wr, []byte("x"))
	require.NoError(t, err)
	_, err = r.Poll(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"callback", "deferred"}, trace)
}

func TestReactor_RunStop(t *testing.T) {
	r := newReactor(t)
	errc := make(chan error, 1)
	go func() { errc <- r.Run() }()
	r.Stop()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

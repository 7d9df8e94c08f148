//go:build linux
// +build linux

package reactor_test

import (
	"testing"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestEpollReactor_ReadReadiness(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	rd, wr := newPipe(t)
	var got api.EventMask
	calls := 0
	require.NoError(t, r.Register(rd, api.EventRead, func(fd int, ev api.EventMask) {
		assert.Equal(t, rd, fd)
		got = ev
		calls++
	}))

	n, err := r.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing written yet")

	_, err = unix.Write(wr, []byte("x"))
	require.NoError(t, err)

	n, err = r.Poll(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
	assert.NotZero(t, got&api.EventRead)
}

func TestEpollReactor_ModifyAndUnregister(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	_, wr := newPipe(t)
	calls := 0
	require.NoError(t, r.Register(wr, api.EventNone, func(int, api.EventMask) { calls++ }))

	n, err := r.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no interest registered")

	require.NoError(t, r.Modify(wr, api.EventWrite))
	n, err = r.Poll(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "empty pipe is writable")

	require.NoError(t, r.Unregister(wr))
	n, err = r.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, calls)
}

func TestEpollReactor_PanicIsContained(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	_, wr := newPipe(t)
	require.NoError(t, r.Register(wr, api.EventWrite, func(int, api.EventMask) { panic("boom") }))
	assert.NotPanics(t, func() {
		_, err = r.Poll(1000)
	})
	assert.NoError(t, err)
}

func TestEpollReactor_RegisterNilCallback(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	_, wr := newPipe(t)
	assert.ErrorIs(t, r.Register(wr, api.EventWrite, nil), api.ErrInvalidArgument)
}

func TestEpollReactor_NoInterestSuppressesHangup(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	require.NoError(t, unix.Close(fds[1]))

	calls := 0
	require.NoError(t, r.Register(fds[0], api.EventNone, func(int, api.EventMask) { calls++ }))
	n, err := r.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "hangup on a descriptor without interest is not reported")

	require.NoError(t, r.Modify(fds[0], api.EventRead))
	n, err = r.Poll(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, r.Modify(fds[0], api.EventNone))
	n, err = r.Poll(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, calls)

	require.NoError(t, r.Unregister(fds[0]))
	assert.Error(t, r.Modify(fds[0], api.EventRead), "unknown descriptor")
}

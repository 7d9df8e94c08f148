package multi

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/fake"
	"github.com/momentics/hioload-xfer/internal/locale"
	"github.com/momentics/hioload-xfer/internal/native"
	"github.com/momentics/hioload-xfer/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Driver = (*fake.Driver)(nil)

type completion struct {
	err    error
	h      *transfer.Handle
	status native.Code
}

type rig struct {
	loop   *fake.Loop
	driver *fake.Driver
	engine *Engine
	calls  []completion
	errs   []error
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{loop: fake.NewLoop(), driver: fake.NewDriver()}
	e, err := New(Config{
		Loop:    r.loop,
		Driver:  r.driver,
		Name:    t.Name(),
		OnError: func(err error) { r.errs = append(r.errs, err) },
	})
	require.NoError(t, err)
	e.SetCompletionCallback(func(err error, h *transfer.Handle, status native.Code) {
		r.calls = append(r.calls, completion{err, h, status})
	})
	r.engine = e
	return r
}

func (r *rig) add(t *testing.T) *transfer.Handle {
	t.Helper()
	h := transfer.Open()
	require.NoError(t, r.engine.Add(h))
	return h
}

func TestEngine_NewNeedsLoop(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestEngine_DispatchesEachMessageOnce(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	assert.Equal(t, transfer.StateRegistered, h.State())

	require.Equal(t, 0, r.driver.NotifySocket(h.Native(), 5, native.PollIn))
	assert.Equal(t, transfer.StateInFlight, h.State())

	r.driver.Complete(h.Native(), native.OK)
	require.True(t, r.loop.Fire(5, api.EventRead))
	require.Len(t, r.calls, 1)
	assert.NoError(t, r.calls[0].err)
	assert.Same(t, h, r.calls[0].h)
	assert.Equal(t, native.OK, r.calls[0].status)
	assert.Equal(t, transfer.StateCompleted, h.State())

	r.loop.Fire(5, api.EventRead)
	assert.Len(t, r.calls, 1)
	assert.Equal(t, []fake.Action{{FD: 5, Select: native.CSelectIn}, {FD: 5, Select: native.CSelectIn}}, r.driver.Actions)
}

func TestEngine_DispatchOrderFollowsDriver(t *testing.T) {
	r := newRig(t)
	h1 := r.add(t)
	h2 := r.add(t)
	r.driver.NotifySocket(h1.Native(), 5, native.PollIn)

	r.driver.Complete(h1.Native(), native.OK)
	r.driver.Complete(h2.Native(), native.CouldntConnect)
	r.loop.Fire(5, api.EventRead)

	require.Len(t, r.calls, 2)
	assert.Same(t, h1, r.calls[0].h)
	assert.NoError(t, r.calls[0].err)
	assert.Equal(t, native.OK, r.calls[0].status)

	assert.Same(t, h2, r.calls[1].h)
	assert.Equal(t, native.CouldntConnect, r.calls[1].status)
	assert.Equal(t, api.ErrCodeTransfer, api.CodeOf(r.calls[1].err))
	assert.True(t, errors.Is(r.calls[1].err, native.CouldntConnect))
}

func TestEngine_ResultClassesAreDistinct(t *testing.T) {
	r := newRig(t)
	ok, failed, aborted := r.add(t), r.add(t), r.add(t)
	r.driver.Complete(ok.Native(), native.OK)
	r.driver.Complete(failed.Native(), native.OperationTimedOut)
	r.driver.Complete(aborted.Native(), native.AbortedByCallback)
	r.engine.onTimeout()

	require.Len(t, r.calls, 3)
	assert.Equal(t, api.ErrCodeOK, api.CodeOf(r.calls[0].err))
	assert.Equal(t, api.ErrCodeTransfer, api.CodeOf(r.calls[1].err))
	assert.Equal(t, api.ErrCodeCallbackAbort, api.CodeOf(r.calls[2].err))
}

func TestEngine_RegistrationIsExclusive(t *testing.T) {
	r := newRig(t)
	other := newRig(t)
	h := r.add(t)

	assert.ErrorIs(t, r.engine.Add(h), api.ErrAlreadyRegistered)
	assert.ErrorIs(t, other.engine.Add(h), api.ErrAlreadyRegistered)
	assert.ErrorIs(t, other.engine.Remove(h), api.ErrNotRegistered)
	assert.ErrorIs(t, h.Perform(), api.ErrAlreadyRegistered)
	assert.ErrorIs(t, h.Close(), api.ErrStillRegistered)
	assert.Equal(t, 1, r.engine.Active())
	assert.Equal(t, 0, other.engine.Active())

	require.NoError(t, r.engine.Remove(h))
	assert.ErrorIs(t, r.engine.Remove(h), api.ErrNotRegistered)
	require.NoError(t, other.engine.Add(h))
	assert.Same(t, other.engine, h.Owner())
}

func TestEngine_AddRejectsBadHandles(t *testing.T) {
	r := newRig(t)
	assert.ErrorIs(t, r.engine.Add(nil), api.ErrNilHandle)
	assert.ErrorIs(t, r.engine.Remove(nil), api.ErrNilHandle)

	h := transfer.Open()
	require.NoError(t, h.Close())
	err := r.engine.Add(h)
	assert.ErrorIs(t, err, api.ErrHandleClosed)
	assert.Equal(t, api.ErrCodeUsage, api.CodeOf(err))
}

func TestEngine_AddDriverOutOfMemory(t *testing.T) {
	r := newRig(t)
	r.driver.AddCode = native.MOutOfMemory
	h := transfer.Open()
	err := r.engine.Add(h)
	assert.Equal(t, api.ErrCodeResourceExhausted, api.CodeOf(err))
	assert.ErrorIs(t, err, api.ErrResourceExhausted)
	assert.Nil(t, h.Owner(), "failed add leaves the handle free")
	assert.Equal(t, transfer.StateIdle, h.State())
	assert.Equal(t, 0, r.engine.Active())
	require.NoError(t, r.engine.Add(h))
}

func TestEngine_SocketContextLifecycle(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	easy := h.Native()

	require.Equal(t, 0, r.driver.NotifySocket(easy, 7, native.PollOut))
	mask, ok := r.loop.Watching(7)
	require.True(t, ok)
	assert.Equal(t, api.EventWrite, mask)
	ctx, ok := r.driver.Assigned(7)
	require.True(t, ok)
	require.IsType(t, &socketContext{}, ctx)
	assert.Equal(t, 1, r.engine.Sockets())

	require.Equal(t, 0, r.driver.NotifySocket(easy, 7, native.PollInOut))
	mask, _ = r.loop.Watching(7)
	assert.Equal(t, api.EventRead|api.EventWrite, mask)
	again, _ := r.driver.Assigned(7)
	assert.Same(t, ctx, again, "interest change reuses the context")
	assert.Equal(t, 1, r.loop.Watches())

	require.Equal(t, 0, r.driver.NotifySocket(easy, 7, native.PollRemove))
	_, ok = r.loop.Watching(7)
	assert.False(t, ok)
	assert.Equal(t, 0, r.engine.Sockets())
	assert.True(t, ctx.(*socketContext).closed)
	assert.NoError(t, r.engine.Err())
}

func TestEngine_RemoveWithoutContextPoisons(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	rc := r.driver.NotifySocketRaw(h.Native(), 9, native.PollRemove, nil)
	assert.Equal(t, -1, rc)

	require.Error(t, r.engine.Err())
	assert.True(t, api.IsFatal(r.engine.Err()))
	require.Len(t, r.errs, 1)
	assert.True(t, api.IsFatal(r.errs[0]))

	err := r.engine.Add(transfer.Open())
	assert.ErrorIs(t, err, api.ErrEnginePoisoned)
	assert.Equal(t, api.ErrCodeFatalProtocol, api.CodeOf(err))
	assert.ErrorIs(t, r.engine.Remove(h), api.ErrEnginePoisoned)
}

func TestEngine_SecondContextForLiveFDPoisons(t *testing.T) {
	r := newRig(t)
	h1, h2 := r.add(t), r.add(t)
	require.Equal(t, 0, r.driver.NotifySocket(h1.Native(), 4, native.PollIn))
	assert.Equal(t, -1, r.driver.NotifySocketRaw(h2.Native(), 4, native.PollIn, nil))
	assert.True(t, api.IsFatal(r.engine.Err()))
	assert.Equal(t, 0, r.loop.Watches(), "poisoning stops every watcher")
	assert.Equal(t, 0, r.engine.Sockets())
}

func TestEngine_WatchFailureIsReportedWithTransfer(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	r.loop.WatchErr = errors.New("too many open files")

	assert.Equal(t, -1, r.driver.NotifySocket(h.Native(), 11, native.PollIn))
	assert.NoError(t, r.engine.Err(), "exhaustion does not poison the engine")
	assert.Equal(t, 0, r.engine.Sockets())
	_, known := r.driver.Assigned(11)
	assert.False(t, known)

	r.driver.Complete(h.Native(), native.AbortedByCallback)
	r.engine.onTimeout()
	require.Len(t, r.calls, 1)
	assert.Equal(t, api.ErrCodeResourceExhausted, api.CodeOf(r.calls[0].err))
	assert.ErrorIs(t, r.calls[0].err, api.ErrResourceExhausted)
	assert.Equal(t, native.AbortedByCallback, r.calls[0].status)
}

func TestEngine_ModifyFailureIsReportedWithTransfer(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	require.Equal(t, 0, r.driver.NotifySocket(h.Native(), 3, native.PollIn))
	r.loop.ModifyErr = errors.New("enomem")
	assert.Equal(t, -1, r.driver.NotifySocket(h.Native(), 3, native.PollOut))

	r.driver.Complete(h.Native(), native.AbortedByCallback)
	r.loop.Fire(3, api.EventRead)
	require.Len(t, r.calls, 1)
	assert.Equal(t, api.ErrCodeResourceExhausted, api.CodeOf(r.calls[0].err))
}

func TestEngine_PendingErrorTakesPrecedence(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	cause := api.NewError(api.ErrCodeCallbackAbort, "write callback failed")
	h.SetPendingError(cause)

	r.driver.Complete(h.Native(), native.OK)
	r.engine.onTimeout()
	require.Len(t, r.calls, 1)
	assert.Same(t, cause, r.calls[0].err)
	assert.Equal(t, native.AbortedByCallback, r.calls[0].status, "success is reclassified")
	assert.Nil(t, h.TakePendingError(), "dispatch consumes the pending error")
}

func TestEngine_TimerSupersession(t *testing.T) {
	r := newRig(t)
	r.driver.NotifyTimer(100)
	assert.Equal(t, 1, r.loop.ArmedTimers())
	assert.True(t, r.engine.TimerArmed())

	r.driver.NotifyTimer(200)
	assert.Equal(t, 1, r.loop.ArmedTimers(), "a new deadline replaces the old one")

	r.loop.Advance(150 * time.Millisecond)
	assert.Empty(t, r.driver.Actions, "superseded deadline never drives")

	r.loop.Advance(100 * time.Millisecond)
	require.Len(t, r.driver.Actions, 1)
	assert.Equal(t, native.SocketTimeout, r.driver.Actions[0].FD)
	assert.False(t, r.engine.TimerArmed())

	r.driver.NotifyTimer(50)
	r.driver.NotifyTimer(-1)
	assert.Equal(t, 0, r.loop.ArmedTimers())
	assert.False(t, r.engine.TimerArmed())
	r.loop.Advance(time.Second)
	assert.Len(t, r.driver.Actions, 1)
}

func TestEngine_ZeroTimeoutNeverDrivesInsideHook(t *testing.T) {
	r := newRig(t)
	r.driver.NotifyTimer(0)
	assert.Empty(t, r.driver.Actions)
	r.loop.Advance(0)
	assert.Len(t, r.driver.Actions, 1)
}

func TestEngine_TimerRearmedDuringDrive(t *testing.T) {
	r := newRig(t)
	r.driver.OnAction = func(fd int, _ native.CSelect) {
		if len(r.driver.Actions) == 1 {
			r.driver.NotifyTimer(0)
		}
	}
	r.driver.NotifyTimer(0)
	r.loop.Advance(0)
	assert.Len(t, r.driver.Actions, 1, "timer armed inside a drive waits for the next iteration")
	r.loop.Advance(0)
	assert.Len(t, r.driver.Actions, 2)
}

func TestEngine_NoCallbackIsNoop(t *testing.T) {
	r := newRig(t)
	r.engine.SetCompletionCallback(nil)
	h := r.add(t)
	r.driver.Complete(h.Native(), native.OK)
	assert.NotPanics(t, r.engine.onTimeout)
	assert.Equal(t, transfer.StateCompleted, h.State())
	assert.Empty(t, r.errs)
}

func TestEngine_RemoveBeforeCompletion(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	require.Equal(t, 0, r.driver.NotifySocket(h.Native(), 6, native.PollIn))
	r.driver.Complete(h.Native(), native.OK)

	require.NoError(t, r.engine.Remove(h))
	assert.False(t, r.driver.Added(h.Native()))
	assert.Equal(t, 0, r.loop.Watches(), "removal announces PollRemove")
	assert.Equal(t, transfer.StateIdle, h.State())
	assert.Nil(t, h.Owner())

	assert.False(t, r.loop.Fire(6, api.EventRead))
	r.engine.onTimeout()
	assert.Empty(t, r.calls)
	require.NoError(t, h.Close())
}

func TestEngine_RemoveAndCloseFromCompletion(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	var closeErr error
	r.engine.SetCompletionCallback(func(err error, done *transfer.Handle, _ native.Code) {
		require.NoError(t, r.engine.Remove(done))
		closeErr = done.Close()
	})
	r.driver.Complete(h.Native(), native.OK)
	r.engine.onTimeout()
	assert.NoError(t, closeErr)
	assert.Equal(t, transfer.StateClosed, h.State())
	assert.Equal(t, 0, r.engine.Active())
}

func TestEngine_RemoveFromInsideDriverIsRejected(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	var removeErr error
	r.driver.OnAction = func(int, native.CSelect) { removeErr = r.engine.Remove(h) }
	r.engine.onTimeout()
	require.Error(t, removeErr)
	assert.Equal(t, api.ErrCodeUsage, api.CodeOf(removeErr))
	assert.Same(t, r.engine, h.Owner())
}

func TestEngine_DriveFailurePoisons(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	r.driver.NotifySocket(h.Native(), 5, native.PollIn)
	r.driver.Complete(h.Native(), native.OK)
	r.driver.QueueCodes(native.MBadSocket)

	r.loop.Fire(5, api.EventRead)
	assert.Empty(t, r.calls, "nothing is dispatched after a failed drive")
	require.Len(t, r.errs, 1)
	assert.Equal(t, api.ErrCodeFatalProtocol, api.CodeOf(r.errs[0]))
	assert.True(t, errors.Is(r.errs[0], native.MBadSocket))
	assert.False(t, r.engine.TimerArmed())
	assert.Equal(t, 0, r.engine.Sockets())
	_, watched := r.loop.Watching(5)
	assert.False(t, watched)

	r.loop.Fire(5, api.EventRead)
	assert.Len(t, r.driver.Actions, 1, "a poisoned engine stops driving")
	assert.Len(t, r.errs, 1, "poison is reported once")
}

func TestEngine_CallMultiPerformLoops(t *testing.T) {
	r := newRig(t)
	r.driver.QueueCodes(native.MCallMultiPerform, native.MCallMultiPerform)
	r.engine.onTimeout()
	assert.Len(t, r.driver.Actions, 3)
	assert.NoError(t, r.engine.Err())
}

func TestEngine_UnknownCompletionPoisons(t *testing.T) {
	r := newRig(t)
	stray := transfer.Open()
	r.driver.Complete(stray.Native(), native.OK)
	r.engine.onTimeout()
	assert.True(t, api.IsFatal(r.engine.Err()))
	assert.Empty(t, r.calls)
}

func TestEngine_CompletionPanicIsContained(t *testing.T) {
	r := newRig(t)
	h1, h2 := r.add(t), r.add(t)
	var seen []*transfer.Handle
	r.engine.SetCompletionCallback(func(err error, h *transfer.Handle, _ native.Code) {
		seen = append(seen, h)
		if h == h1 {
			panic("boom")
		}
	})
	r.driver.Complete(h1.Native(), native.OK)
	r.driver.Complete(h2.Native(), native.OK)
	assert.NotPanics(t, r.engine.onTimeout)

	assert.Equal(t, []*transfer.Handle{h1, h2}, seen)
	require.Len(t, r.errs, 1)
	assert.Equal(t, api.ErrCodeCallbackAbort, api.CodeOf(r.errs[0]))
	assert.NoError(t, r.engine.Err())
}

func TestEngine_AddFromCompletion(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	next := transfer.Open()
	r.engine.SetCompletionCallback(func(err error, done *transfer.Handle, _ native.Code) {
		if done == h {
			require.NoError(t, r.engine.Remove(done))
			require.NoError(t, r.engine.Add(next))
		}
	})
	r.driver.Complete(h.Native(), native.OK)
	r.engine.onTimeout()
	assert.True(t, r.driver.Added(next.Native()))
	assert.Equal(t, 1, r.engine.Active())
}

func TestEngine_Close(t *testing.T) {
	r := newRig(t)
	h := r.add(t)
	r.driver.NotifySocket(h.Native(), 8, native.PollIn)
	r.driver.NotifyTimer(1000)

	require.NoError(t, r.engine.Close())
	assert.Nil(t, h.Owner())
	assert.Equal(t, transfer.StateIdle, h.State())
	assert.Equal(t, 0, r.loop.Watches())
	assert.Equal(t, 0, r.loop.ArmedTimers())
	assert.Equal(t, 0, r.engine.Active())
	assert.Empty(t, r.calls)

	assert.ErrorIs(t, r.engine.Close(), api.ErrEngineClosed)
	assert.ErrorIs(t, r.engine.Add(transfer.Open()), api.ErrEngineClosed)
	require.NoError(t, h.Close())
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	loop, driver := fake.NewLoop(), fake.NewDriver()
	e, err := New(Config{Loop: loop, Driver: driver, Name: "metrics", Registerer: reg})
	require.NoError(t, err)

	h1, h2 := transfer.Open(), transfer.Open()
	require.NoError(t, e.Add(h1))
	require.NoError(t, e.Add(h2))
	driver.NotifySocket(h1.Native(), 5, native.PollIn)
	assert.Equal(t, float64(2), testutil.ToFloat64(e.metrics.added))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.sockets))

	driver.Complete(h1.Native(), native.OK)
	driver.Complete(h2.Native(), native.CouldntConnect)
	loop.Fire(5, api.EventRead)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.completed.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.completed.WithLabelValues("transfer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.drives))

	n, err := testutil.GatherAndCount(reg, "hioload_xfer_added_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, e.Remove(h1))
	require.NoError(t, e.Close())
	n, err = testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "close unregisters the collectors")
}

type panickingDriver struct{ *fake.Driver }

func (panickingDriver) Add(*native.Easy) native.MCode { panic("driver add") }

func TestEngine_AddReleasesLocaleOnPanic(t *testing.T) {
	e, err := New(Config{Loop: fake.NewLoop(), Driver: panickingDriver{fake.NewDriver()}, Name: t.Name()})
	require.NoError(t, err)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	assert.Panics(t, func() { _ = e.Add(transfer.Open()) })
	assert.False(t, locale.Active(), "conversion context released on the panic path")
}

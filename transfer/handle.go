// File: transfer/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transfer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/internal/locale"
	"github.com/momentics/hioload-xfer/internal/native"
	"github.com/rs/xid"
)

// ErrAgain is returned by Send and Recv when the socket is not ready.
var ErrAgain = errors.New("transfer: socket not ready for send/recv")

// State is the lifecycle position of a Handle.
type State int32

const (
	StateIdle State = iota
	StateRegistered
	StateInFlight
	StateCompleted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRegistered:
		return "registered"
	case StateInFlight:
		return "in_flight"
	case StateCompleted:
		return "completed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// PauseMask selects the directions Pause stops.
type PauseMask int

const (
	PauseRecv = PauseMask(native.PauseRecv)
	PauseSend = PauseMask(native.PauseSend)
	PauseAll  = PauseMask(native.PauseAll)
	PauseCont = PauseMask(native.PauseCont)
)

// Handle is one transfer. It is not safe for concurrent use; inside an
// engine it belongs to the engine's loop goroutine.
type Handle struct {
	id         xid.ID
	easy       *native.Easy
	state      atomic.Int32
	owner      any
	pendingErr error
	funcs      map[OptionID]any
}

// Open allocates a new handle. The handle stays open until Close.
func Open() *Handle {
	e := native.NewEasy()
	if e == nil {
		panic("transfer: native handle allocation failed")
	}
	return newHandle(e)
}

func newHandle(e *native.Easy) *Handle {
	h := &Handle{
		id:    xid.New(),
		easy:  e,
		funcs: make(map[OptionID]any),
	}
	trackOpen(h)
	return h
}

// ID returns the stable logical identifier of h.
func (h *Handle) ID() string { return h.id.String() }

// State returns the lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Native exposes the underlying transfer for the engine.
func (h *Handle) Native() *native.Easy { return h.easy }

func (h *Handle) setState(s State) { h.state.Store(int32(s)) }

func (h *Handle) usable() error {
	if h == nil {
		return api.Usage(api.ErrNilHandle, "nil transfer handle")
	}
	if h.State() == StateClosed {
		return api.Usage(api.ErrHandleClosed, "transfer handle is closed").WithContext("handle", h.ID())
	}
	return nil
}

// Duplicate returns an independent handle with the same options and
// callbacks. Callbacks on the copy receive the copy, never h.
func (h *Handle) Duplicate() (*Handle, error) {
	if h == nil {
		return nil, api.Usage(api.ErrNilHandle, "duplicate of nil handle")
	}
	if err := h.usable(); err != nil {
		return nil, err
	}
	d := newHandle(h.easy.Dup())
	for id, fn := range h.funcs {
		d.funcs[id] = fn
		d.bind(id, fn)
	}
	return d, nil
}

// Close releases the native transfer. A handle owned by an engine must be
// removed first.
func (h *Handle) Close() error {
	if h == nil {
		return api.Usage(api.ErrNilHandle, "close of nil handle")
	}
	if h.State() == StateClosed {
		return api.Usage(api.ErrAlreadyClosed, "transfer handle already closed").WithContext("handle", h.ID())
	}
	if h.owner != nil {
		return api.Usage(api.ErrStillRegistered, "remove the handle from its engine before closing").WithContext("handle", h.ID())
	}
	h.easy.Cleanup()
	h.funcs = nil
	h.pendingErr = nil
	h.setState(StateClosed)
	trackClosed(h)
	return nil
}

// Reset returns h to its freshly opened configuration.
func (h *Handle) Reset() error {
	if err := h.usable(); err != nil {
		return err
	}
	if h.owner != nil {
		return api.Usage(api.ErrStillRegistered, "cannot reset a registered handle").WithContext("handle", h.ID())
	}
	h.easy.Reset()
	h.funcs = make(map[OptionID]any)
	h.pendingErr = nil
	h.setState(StateIdle)
	return nil
}

// SetOpt sets one option through the registry.
func (h *Handle) SetOpt(id OptionID, v any) error {
	if err := h.usable(); err != nil {
		return err
	}
	o, ok := byID[id]
	if !ok {
		return api.Usage(api.ErrInvalidOption, fmt.Sprintf("unknown option %d", int(id)))
	}
	if o.Kind == KindFunc {
		fn, ok := normalizeCallback(id, v)
		if !ok {
			return optionError(o, v)
		}
		if code := h.bind(id, fn); code != native.OK {
			return optionError(o, v)
		}
		if fn == nil {
			delete(h.funcs, id)
		} else {
			h.funcs[id] = fn
		}
		return nil
	}
	nv, err := nativeValue(o, v)
	if err != nil {
		return err
	}
	if code := h.easy.Setopt(o.native, nv); code != native.OK {
		return api.Usage(api.ErrInvalidOption, fmt.Sprintf("option %s rejected", o.Name)).
			WithContext("option", o.Name).Wrap(fmt.Errorf("%w: %v", api.ErrInvalidOption, code))
	}
	return nil
}

// SetOptByName resolves name through the registry and sets it.
func (h *Handle) SetOptByName(name string, v any) error {
	o, ok := LookupOption(name)
	if !ok {
		return api.Usage(api.ErrInvalidOption, fmt.Sprintf("unknown option %q", name))
	}
	return h.SetOpt(o.ID, v)
}

// GetInfo returns one piece of transfer information.
func (h *Handle) GetInfo(id InfoID) (any, error) {
	if err := h.usable(); err != nil {
		return nil, err
	}
	v, ok := infoValue(h.easy.Info(), id)
	if !ok {
		return nil, api.Usage(api.ErrInvalidArgument, fmt.Sprintf("unknown info %d", int(id)))
	}
	return v, nil
}

// Info returns all transfer information at once.
func (h *Handle) Info() Info {
	return h.easy.Info()
}

// Perform runs the transfer on the calling goroutine. An error returned by a
// data callback comes back classified as a callback abort; a callback panic
// propagates.
func (h *Handle) Perform() error {
	if err := h.usable(); err != nil {
		return err
	}
	if h.owner != nil {
		return api.Usage(api.ErrAlreadyRegistered, "handle is driven by an engine").WithContext("handle", h.ID())
	}
	h.pendingErr = nil
	scope := locale.Acquire()
	defer scope.Release()

	code := h.easy.Perform()
	if err := h.TakePendingError(); err != nil {
		return err
	}
	return ResultError(code)
}

// ResultError classifies a native result code: nil for success, a callback
// abort or a transfer error otherwise.
func ResultError(code native.Code) error {
	switch code {
	case native.OK:
		return nil
	case native.AbortedByCallback:
		return api.NewError(api.ErrCodeCallbackAbort, "transfer aborted by callback").Wrap(code)
	}
	return api.NewError(api.ErrCodeTransfer, "transfer failed").Wrap(code)
}

// Pause pauses or resumes the transfer directions in mask.
func (h *Handle) Pause(mask PauseMask) error {
	if err := h.usable(); err != nil {
		return err
	}
	if code := h.easy.Pause(native.Pause(mask)); code != native.OK {
		return api.Usage(api.ErrInvalidArgument, fmt.Sprintf("invalid pause mask %#x", int(mask)))
	}
	return nil
}

// Send writes on the socket of a completed connect-only transfer.
func (h *Handle) Send(p []byte) (int, error) {
	if err := h.usable(); err != nil {
		return 0, err
	}
	n, code := h.easy.Send(p)
	return n, ioError(code)
}

// Recv reads from the socket of a completed connect-only transfer.
func (h *Handle) Recv(p []byte) (int, error) {
	if err := h.usable(); err != nil {
		return 0, err
	}
	n, code := h.easy.Recv(p)
	return n, ioError(code)
}

func ioError(code native.Code) error {
	switch code {
	case native.OK:
		return nil
	case native.Again:
		return ErrAgain
	case native.BadFunctionArgument:
		return api.Usage(api.ErrInvalidArgument, "handle has no connect-only socket")
	}
	return ResultError(code)
}

// Attach records owner as the engine driving h.
func (h *Handle) Attach(owner any) error {
	if err := h.usable(); err != nil {
		return err
	}
	if h.owner != nil {
		return api.Usage(api.ErrAlreadyRegistered, "handle already registered with an engine").WithContext("handle", h.ID())
	}
	h.owner = owner
	h.pendingErr = nil
	h.setState(StateRegistered)
	registered.Add(1)
	return nil
}

// Detach releases h from owner.
func (h *Handle) Detach(owner any) error {
	if h == nil {
		return api.Usage(api.ErrNilHandle, "nil transfer handle")
	}
	if h.owner == nil || h.owner != owner {
		return api.Usage(api.ErrNotRegistered, "handle not registered with this engine").WithContext("handle", h.ID())
	}
	h.owner = nil
	if h.State() != StateClosed {
		h.setState(StateIdle)
	}
	registered.Add(-1)
	return nil
}

// Owner returns the engine driving h, nil when standalone.
func (h *Handle) Owner() any { return h.owner }

// InsideEngine reports whether h is owned by an engine.
func (h *Handle) InsideEngine() bool { return h.owner != nil }

// MarkInFlight moves a registered handle to in-flight.
func (h *Handle) MarkInFlight() {
	h.state.CompareAndSwap(int32(StateRegistered), int32(StateInFlight))
}

// MarkCompleted records that the completion message was drained.
func (h *Handle) MarkCompleted() {
	if h.owner != nil {
		h.setState(StateCompleted)
	}
}

// SetPendingError parks err for the completion dispatcher. The first error
// wins.
func (h *Handle) SetPendingError(err error) {
	if err != nil && h.pendingErr == nil {
		h.pendingErr = err
	}
}

// TakePendingError returns and clears the parked error.
func (h *Handle) TakePendingError() error {
	err := h.pendingErr
	h.pendingErr = nil
	return err
}

func (h *Handle) String() string {
	return fmt.Sprintf("transfer(%s, %s)", h.ID(), h.State())
}

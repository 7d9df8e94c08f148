// File: transfer/callbacks.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Data callbacks and the trampolines binding them to a Handle. A trampoline
// validates the return value against the sentinel set of its kind. Inside an
// engine, returned errors and panics are parked on the handle as its pending
// error and the transfer is told to abort; the completion dispatcher reports
// them later. Standalone, a returned error is parked the same way and comes
// back from Perform, while a panic unwinds straight to the caller.

package transfer

import (
	"fmt"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/internal/native"
)

// Data callbacks supplied per handle.
type (
	WriteFunc    func(h *Handle, p []byte) (int, error)
	HeaderFunc   func(h *Handle, line []byte) (int, error)
	ReadFunc     func(h *Handle, p []byte) (int, error)
	SeekFunc     func(h *Handle, offset int64, whence int) (int, error)
	ProgressFunc func(h *Handle, dlTotal, dlNow, ulTotal, ulNow int64) (int, error)
	DebugFunc    func(h *Handle, kind InfoType, data []byte) error
	SockoptFunc  func(h *Handle, fd int, purpose SockType) (int, error)
)

// InfoType tags debug callback payloads.
type InfoType = native.InfoType

const (
	InfoText      = native.InfoText
	InfoHeaderIn  = native.InfoHeaderIn
	InfoHeaderOut = native.InfoHeaderOut
	InfoDataIn    = native.InfoDataIn
	InfoDataOut   = native.InfoDataOut
)

// SockType is the purpose passed to a SockoptFunc.
type SockType = native.SockType

const SockTypeIPCXN = native.SockTypeIPCXN

// Return value sentinels.
const (
	WritePause = native.WritePause

	ReadAbort = native.ReadAbort
	ReadPause = native.ReadPause

	SeekOK       = native.SeekOK
	SeekFail     = native.SeekFail
	SeekCantSeek = native.SeekCantSeek

	ProgressContinue = native.ProgressContinue
	ProgressAbort    = native.ProgressAbort

	SockoptOK               = native.SockoptOK
	SockoptError            = native.SockoptError
	SockoptAlreadyConnected = native.SockoptAlreadyConnected
)

func callbackError(id OptionID, err error) error {
	return api.NewError(api.ErrCodeCallbackAbort, id.String()+" failed").Wrap(err)
}

func invalidReturn(id OptionID, r int) error {
	return api.NewError(api.ErrCodeCallbackAbort, id.String()+" failed").
		Wrap(fmt.Errorf("%w: %d", api.ErrInvalidReturn, r))
}

// recoverInto parks a callback panic when running inside an engine and
// replaces the native return value with abort. Standalone it lets the panic
// continue.
func (h *Handle) recoverInto(id OptionID, ret *int, abort int) {
	if h.owner == nil {
		return
	}
	if p := recover(); p != nil {
		h.SetPendingError(callbackError(id, fmt.Errorf("panic: %v", p)))
		*ret = abort
	}
}

// bind installs the trampoline for a callback option, nil clears it.
func (h *Handle) bind(id OptionID, fn any) native.Code {
	e := h.easy
	switch id {
	case OptWriteFunction:
		f, _ := fn.(WriteFunc)
		if f == nil {
			return e.Setopt(native.OptWriteFunction, nil)
		}
		return e.Setopt(native.OptWriteFunction, native.WriteFunc(func(p []byte) (r int) {
			defer h.recoverInto(id, &r, native.WriteFuncError)
			n, err := f(h, p)
			return h.checkWrite(id, p, n, err)
		}))
	case OptHeaderFunction:
		f, _ := fn.(HeaderFunc)
		if f == nil {
			return e.Setopt(native.OptHeaderFunction, nil)
		}
		return e.Setopt(native.OptHeaderFunction, native.HeaderFunc(func(line []byte) (r int) {
			defer h.recoverInto(id, &r, native.WriteFuncError)
			n, err := f(h, line)
			return h.checkWrite(id, line, n, err)
		}))
	case OptReadFunction:
		f, _ := fn.(ReadFunc)
		if f == nil {
			return e.Setopt(native.OptReadFunction, nil)
		}
		return e.Setopt(native.OptReadFunction, native.ReadFunc(func(p []byte) (r int) {
			defer h.recoverInto(id, &r, native.ReadAbort)
			n, err := f(h, p)
			switch {
			case err != nil:
				h.SetPendingError(callbackError(id, err))
				return native.ReadAbort
			case n == ReadAbort || n == ReadPause || (n >= 0 && n <= len(p)):
				return n
			}
			h.SetPendingError(invalidReturn(id, n))
			return native.ReadAbort
		}))
	case OptSeekFunction:
		f, _ := fn.(SeekFunc)
		if f == nil {
			return e.Setopt(native.OptSeekFunction, nil)
		}
		return e.Setopt(native.OptSeekFunction, native.SeekFunc(func(off int64, whence int) (r int) {
			defer h.recoverInto(id, &r, native.SeekFail)
			n, err := f(h, off, whence)
			switch {
			case err != nil:
				h.SetPendingError(callbackError(id, err))
				return native.SeekFail
			case n == SeekOK || n == SeekFail || n == SeekCantSeek:
				return n
			}
			h.SetPendingError(invalidReturn(id, n))
			return native.SeekFail
		}))
	case OptProgressFunction:
		f, _ := fn.(ProgressFunc)
		if f == nil {
			return e.Setopt(native.OptProgressFunction, nil)
		}
		return e.Setopt(native.OptProgressFunction, native.ProgressFunc(func(dlT, dlN, ulT, ulN int64) (r int) {
			defer h.recoverInto(id, &r, native.ProgressAbort)
			n, err := f(h, dlT, dlN, ulT, ulN)
			switch {
			case err != nil:
				h.SetPendingError(callbackError(id, err))
				return native.ProgressAbort
			case n == ProgressContinue || n == ProgressAbort:
				return n
			}
			h.SetPendingError(invalidReturn(id, n))
			return native.ProgressAbort
		}))
	case OptDebugFunction:
		f, _ := fn.(DebugFunc)
		if f == nil {
			return e.Setopt(native.OptDebugFunction, nil)
		}
		return e.Setopt(native.OptDebugFunction, native.DebugFunc(func(kind native.InfoType, data []byte) {
			var r int
			defer h.recoverInto(id, &r, 0)
			// The transfer cannot be stopped from here; a parked error
			// turns its eventual success into an abort.
			if err := f(h, kind, data); err != nil {
				h.SetPendingError(callbackError(id, err))
			}
		}))
	case OptSockoptFunction:
		f, _ := fn.(SockoptFunc)
		if f == nil {
			return e.Setopt(native.OptSockoptFunction, nil)
		}
		return e.Setopt(native.OptSockoptFunction, native.SockoptFunc(func(fd int, purpose native.SockType) (r int) {
			defer h.recoverInto(id, &r, native.SockoptError)
			n, err := f(h, fd, purpose)
			switch {
			case err != nil:
				h.SetPendingError(callbackError(id, err))
				return native.SockoptError
			case n == SockoptOK || n == SockoptError || n == SockoptAlreadyConnected:
				return n
			}
			h.SetPendingError(invalidReturn(id, n))
			return native.SockoptError
		}))
	}
	return native.BadFunctionArgument
}

func (h *Handle) checkWrite(id OptionID, p []byte, n int, err error) int {
	switch {
	case err != nil:
		h.SetPendingError(callbackError(id, err))
		return native.WriteFuncError
	case n == WritePause || (n >= 0 && n <= len(p)):
		return n
	}
	h.SetPendingError(invalidReturn(id, n))
	return native.WriteFuncError
}

// normalizeCallback converts fn to the named function type id expects,
// accepting plain function literals of the same signature.
func normalizeCallback(id OptionID, fn any) (any, bool) {
	if fn == nil {
		return nil, true
	}
	switch id {
	case OptWriteFunction:
		switch f := fn.(type) {
		case WriteFunc:
			return f, true
		case func(*Handle, []byte) (int, error):
			return WriteFunc(f), true
		}
	case OptHeaderFunction:
		switch f := fn.(type) {
		case HeaderFunc:
			return f, true
		case func(*Handle, []byte) (int, error):
			return HeaderFunc(f), true
		}
	case OptReadFunction:
		switch f := fn.(type) {
		case ReadFunc:
			return f, true
		case func(*Handle, []byte) (int, error):
			return ReadFunc(f), true
		}
	case OptSeekFunction:
		switch f := fn.(type) {
		case SeekFunc:
			return f, true
		case func(*Handle, int64, int) (int, error):
			return SeekFunc(f), true
		}
	case OptProgressFunction:
		switch f := fn.(type) {
		case ProgressFunc:
			return f, true
		case func(*Handle, int64, int64, int64, int64) (int, error):
			return ProgressFunc(f), true
		}
	case OptDebugFunction:
		switch f := fn.(type) {
		case DebugFunc:
			return f, true
		case func(*Handle, InfoType, []byte) error:
			return DebugFunc(f), true
		}
	case OptSockoptFunction:
		switch f := fn.(type) {
		case SockoptFunc:
			return f, true
		case func(*Handle, int, SockType) (int, error):
			return SockoptFunc(f), true
		}
	}
	return nil, false
}

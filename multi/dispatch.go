// File: multi/dispatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multi

import (
	"fmt"
	"runtime/debug"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/internal/native"
	"github.com/momentics/hioload-xfer/transfer"
)

// dispatch delivers one completion message. The handle leaves the lookup
// table before the callback runs, so a second message for the same easy
// is an invariant violation rather than a second call.
func (e *Engine) dispatch(easy *native.Easy, status native.Code) {
	h, ok := e.handles[easy]
	if !ok {
		e.poison(invariantError(fmt.Sprintf("completion for unknown transfer %p", easy)))
		return
	}
	delete(e.handles, easy)

	status, err := classify(h, status)
	h.MarkCompleted()
	e.metrics.completed.WithLabelValues(api.CodeOf(err).String()).Inc()
	e.endSpan(easy, err)

	if e.onComplete == nil {
		return
	}
	e.invoke(err, h, status)
}

// classify turns a driver status into the error handed to the callback.
// A parked error recorded during the transfer wins over the status, and a
// status that would otherwise read as success becomes AbortedByCallback.
func classify(h *transfer.Handle, status native.Code) (native.Code, error) {
	if pending := h.TakePendingError(); pending != nil {
		if status == native.OK {
			status = native.AbortedByCallback
		}
		return status, pending
	}
	return status, transfer.ResultError(status)
}

func (e *Engine) invoke(err error, h *transfer.Handle, status native.Code) {
	defer func() {
		if p := recover(); p != nil {
			perr := api.NewError(api.ErrCodeCallbackAbort, "completion callback panicked").
				WithContext("handle", h.ID()).
				Wrap(fmt.Errorf("panic: %v", p))
			e.logf("completion callback panic: %v\n%s", p, debug.Stack())
			e.report(perr)
		}
	}()
	e.onComplete(err, h, status)
}

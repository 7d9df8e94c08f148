// File: multi/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multi

import (
	"fmt"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/internal/native"
	"github.com/momentics/hioload-xfer/transfer"
)

// socketContext binds one descriptor known to the driver to one loop watcher.
type socketContext struct {
	fd      int
	engine  *Engine
	watcher api.Watcher
	mask    api.EventMask
	closed  bool
}

func interest(what native.Poll) api.EventMask {
	switch what {
	case native.PollIn:
		return api.EventRead
	case native.PollOut:
		return api.EventWrite
	case native.PollInOut:
		return api.EventRead | api.EventWrite
	}
	return api.EventNone
}

func selectMask(ev api.EventMask) native.CSelect {
	var sel native.CSelect
	if ev&api.EventRead != 0 {
		sel |= native.CSelectIn
	}
	if ev&api.EventWrite != 0 {
		sel |= native.CSelectOut
	}
	if ev&api.EventError != 0 {
		sel |= native.CSelectErr
	}
	return sel
}

// socketRegistry holds the live contexts by descriptor.
type socketRegistry struct {
	byFD map[int]*socketContext
}

func newSocketRegistry() *socketRegistry {
	return &socketRegistry{byFD: make(map[int]*socketContext)}
}

func (r *socketRegistry) len() int { return len(r.byFD) }

func (r *socketRegistry) open(e *Engine, fd int, mask api.EventMask) (*socketContext, error) {
	ctx := &socketContext{fd: fd, engine: e, mask: mask}
	w, err := e.loop.Watch(fd, mask, func(_ int, ev api.EventMask) {
		if !ctx.closed {
			e.drive(ctx.fd, selectMask(ev))
		}
	})
	if err != nil {
		return nil, err
	}
	ctx.watcher = w
	r.byFD[fd] = ctx
	return ctx, nil
}

func (r *socketRegistry) release(ctx *socketContext) error {
	if ctx.closed {
		return nil
	}
	ctx.closed = true
	if r.byFD[ctx.fd] == ctx {
		delete(r.byFD, ctx.fd)
	}
	return ctx.watcher.Stop()
}

func (r *socketRegistry) closeAll() {
	for _, ctx := range r.byFD {
		_ = r.release(ctx)
	}
}

func (ctx *socketContext) update(mask api.EventMask) error {
	if mask == ctx.mask {
		return nil
	}
	if err := ctx.watcher.Modify(mask); err != nil {
		return err
	}
	ctx.mask = mask
	return nil
}

// onSocket is the driver's socket hook. It never calls back into the driver
// except through Assign.
func (e *Engine) onSocket(easy *native.Easy, fd int, what native.Poll, socketp any) int {
	ctx, _ := socketp.(*socketContext)
	if what == native.PollRemove {
		if ctx == nil {
			e.poison(invariantError(fmt.Sprintf("remove notification for fd %d without a socket context", fd)))
			return -1
		}
		if err := e.sockets.release(ctx); err != nil {
			e.logf("stop watcher fd=%d: %v", fd, err)
		}
		e.driver.Assign(fd, nil)
		e.metrics.sockets.Set(float64(e.sockets.len()))
		return 0
	}

	h := e.handles[easy]
	mask := interest(what)
	if ctx == nil {
		if _, live := e.sockets.byFD[fd]; live {
			e.poison(invariantError(fmt.Sprintf("second socket context for live fd %d", fd)))
			return -1
		}
		var err error
		if ctx, err = e.sockets.open(e, fd, mask); err != nil {
			e.exhausted(h, fd, err)
			return -1
		}
		if code := e.driver.Assign(fd, ctx); code != native.MOK {
			_ = e.sockets.release(ctx)
			e.poison(invariantError(fmt.Sprintf("assign fd %d: %v", fd, code)))
			return -1
		}
		e.metrics.sockets.Set(float64(e.sockets.len()))
	} else if err := ctx.update(mask); err != nil {
		e.exhausted(h, fd, err)
		return -1
	}
	if h != nil {
		h.MarkInFlight()
	}
	return 0
}

// exhausted parks a watcher failure on the transfer that needed it; the
// driver aborts that transfer and the error is dispatched with it.
func (e *Engine) exhausted(h *transfer.Handle, fd int, err error) {
	rerr := api.NewError(api.ErrCodeResourceExhausted, "cannot watch socket").
		WithContext("fd", fd).
		Wrap(fmt.Errorf("%w: %v", api.ErrResourceExhausted, err))
	e.logf("watch fd=%d failed: %v", fd, err)
	if h != nil {
		h.SetPendingError(rerr)
	}
}

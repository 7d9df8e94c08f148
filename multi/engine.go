// File: multi/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multi

import (
	"errors"
	"fmt"
	"log"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/internal/locale"
	"github.com/momentics/hioload-xfer/internal/native"
	"github.com/momentics/hioload-xfer/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// CompletionFunc receives every finished transfer exactly once. err is nil
// on success; api.CodeOf(err) tells a transfer failure from a callback abort.
type CompletionFunc func(err error, h *transfer.Handle, status native.Code)

// Config wires an Engine to its collaborators.
type Config struct {
	// Loop runs the engine. Required.
	Loop api.Loop
	// Driver defaults to a fresh native.Multi.
	Driver Driver
	// Name labels metrics and spans.
	Name string
	// Registerer receives the engine collectors; nil keeps them private.
	Registerer prometheus.Registerer
	// Tracer defaults to a no-op tracer.
	Tracer trace.Tracer
	// OnError is the top-level channel for fatal engine errors and panics
	// raised by the completion callback.
	OnError func(error)
}

// Engine multiplexes transfers over one event loop.
type Engine struct {
	name    string
	loop    api.Loop
	driver  Driver
	sockets *socketRegistry
	timer   timerBridge

	// handles resolves driver messages; an entry lives from Add until the
	// completion is dispatched or the handle is removed.
	handles  map[*native.Easy]*transfer.Handle
	attached map[*transfer.Handle]struct{}
	active   int

	onComplete CompletionFunc
	onError    func(error)
	fatal      error
	closed     bool

	metrics *metrics
	tracer  trace.Tracer
	spans   map[*native.Easy]trace.Span
}

// New builds an engine and installs its hooks on the driver.
func New(cfg Config) (*Engine, error) {
	if cfg.Loop == nil {
		return nil, api.Usage(api.ErrInvalidArgument, "engine needs an event loop")
	}
	if cfg.Driver == nil {
		cfg.Driver = native.NewMulti()
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("hioload-xfer/multi")
	}
	m, err := newMetrics(cfg.Name, cfg.Registerer)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		name:     cfg.Name,
		loop:     cfg.Loop,
		driver:   cfg.Driver,
		sockets:  newSocketRegistry(),
		handles:  make(map[*native.Easy]*transfer.Handle),
		attached: make(map[*transfer.Handle]struct{}),
		onError:  cfg.OnError,
		metrics:  m,
		tracer:   cfg.Tracer,
		spans:    make(map[*native.Easy]trace.Span),
	}
	e.timer = timerBridge{loop: cfg.Loop, fire: e.onTimeout}
	e.driver.SetSocketFunc(e.onSocket)
	e.driver.SetTimerFunc(e.onTimer)
	return e, nil
}

func (e *Engine) usable() error {
	if e.closed {
		return api.Usage(api.ErrEngineClosed, "engine is closed").WithContext("engine", e.name)
	}
	if e.fatal != nil {
		return poisonedError(e.fatal)
	}
	return nil
}

// Add registers h and starts driving it.
func (e *Engine) Add(h *transfer.Handle) error {
	if err := e.usable(); err != nil {
		return err
	}
	if h == nil {
		return api.Usage(api.ErrNilHandle, "add of nil handle")
	}
	if h.State() == transfer.StateClosed {
		return api.Usage(api.ErrHandleClosed, "add of closed handle").WithContext("handle", h.ID())
	}
	if h.Owner() != nil {
		return api.Usage(api.ErrAlreadyRegistered, "handle already registered").WithContext("handle", h.ID())
	}
	if err := h.Attach(e); err != nil {
		return err
	}

	easy := h.Native()
	e.handles[easy] = h
	if code := e.driverAdd(easy); code != native.MOK {
		delete(e.handles, easy)
		_ = h.Detach(e)
		return addError(code, h)
	}

	e.attached[h] = struct{}{}
	e.active++
	e.metrics.added.Inc()
	e.metrics.active.Set(float64(e.active))
	e.startSpan(h)
	return nil
}

func (e *Engine) driverAdd(easy *native.Easy) native.MCode {
	scope := locale.Acquire()
	defer scope.Release()
	return e.driver.Add(easy)
}

func addError(code native.MCode, h *transfer.Handle) error {
	switch code {
	case native.MOutOfMemory:
		return api.NewError(api.ErrCodeResourceExhausted, "driver cannot take the transfer").
			WithContext("handle", h.ID()).Wrap(fmt.Errorf("%w: %v", api.ErrResourceExhausted, code))
	case native.MAddedAlready:
		return api.Usage(api.ErrAlreadyRegistered, "transfer already added to a driver").WithContext("handle", h.ID())
	}
	return api.Usage(api.ErrInvalidArgument, fmt.Sprintf("driver refused add: %v", code)).WithContext("handle", h.ID())
}

// Remove unregisters h. An unfinished transfer is cancelled without a
// completion call.
func (e *Engine) Remove(h *transfer.Handle) error {
	if err := e.usable(); err != nil {
		return err
	}
	if h == nil {
		return api.Usage(api.ErrNilHandle, "remove of nil handle")
	}
	if h.Owner() != e {
		return api.Usage(api.ErrNotRegistered, "handle not registered with this engine").WithContext("handle", h.ID())
	}
	easy := h.Native()
	if code := e.driver.Remove(easy); code != native.MOK {
		return api.Usage(api.ErrInvalidArgument, fmt.Sprintf("driver refused remove: %v", code)).WithContext("handle", h.ID())
	}
	if _, pending := e.handles[easy]; pending {
		delete(e.handles, easy)
		e.endSpan(easy, errCancelled)
		e.metrics.cancelled.Inc()
	}
	delete(e.attached, h)
	e.active--
	e.metrics.active.Set(float64(e.active))
	h.TakePendingError()
	return h.Detach(e)
}

// SetCompletionCallback installs fn; nil uninstalls.
func (e *Engine) SetCompletionCallback(fn CompletionFunc) {
	e.onComplete = fn
}

// Active returns the number of registered handles.
func (e *Engine) Active() int { return e.active }

// Sockets returns the number of live socket contexts.
func (e *Engine) Sockets() int { return e.sockets.len() }

// TimerArmed reports whether a driver deadline is pending.
func (e *Engine) TimerArmed() bool { return e.timer.isArmed() }

// Err returns the fatal error that poisoned the engine, if any.
func (e *Engine) Err() error { return e.fatal }

// Name returns the engine label.
func (e *Engine) Name() string { return e.name }

// Close releases the driver and every socket context and detaches all
// handles without completing them.
func (e *Engine) Close() error {
	if e.closed {
		return api.Usage(api.ErrEngineClosed, "engine already closed").WithContext("engine", e.name)
	}
	if code := e.driver.Close(); code == native.MRecursiveAPICall {
		return api.Usage(api.ErrInvalidArgument, "engine closed from inside a transfer callback")
	}
	e.closed = true
	e.timer.cancel()
	e.sockets.closeAll()
	for easy := range e.spans {
		e.endSpan(easy, errCancelled)
	}
	for h := range e.attached {
		h.TakePendingError()
		_ = h.Detach(e)
	}
	e.handles = make(map[*native.Easy]*transfer.Handle)
	e.attached = make(map[*transfer.Handle]struct{})
	e.active = 0
	e.metrics.active.Set(0)
	e.metrics.sockets.Set(0)
	e.metrics.unregister()
	return nil
}

// onTimeout runs when the bridged deadline expires.
func (e *Engine) onTimeout() {
	e.drive(native.SocketTimeout, 0)
}

// drive re-enters the driver for fd, then drains completions. A non-OK
// drive result poisons the engine.
func (e *Engine) drive(fd int, sel native.CSelect) {
	if e.closed || e.fatal != nil {
		return
	}
	for {
		code, running := e.socketAction(fd, sel)
		e.metrics.drives.Inc()
		if code == native.MCallMultiPerform {
			continue
		}
		if code != native.MOK {
			e.poison(api.NewError(api.ErrCodeFatalProtocol, "driver socket action failed").
				WithContext("fd", fd).Wrap(code))
			return
		}
		e.metrics.running.Set(float64(running))
		break
	}
	e.drain()
}

func (e *Engine) socketAction(fd int, sel native.CSelect) (native.MCode, int) {
	scope := locale.Acquire()
	defer scope.Release()
	return e.driver.SocketAction(fd, sel)
}

// drain reads every queued completion message, one at a time.
func (e *Engine) drain() {
	for !e.closed && e.fatal == nil {
		msg, _ := e.driver.InfoRead()
		if msg == nil {
			return
		}
		e.dispatch(msg.Easy, msg.Result)
	}
}

func (e *Engine) poison(err error) {
	if e.fatal != nil {
		return
	}
	e.fatal = err
	e.timer.cancel()
	// Driver socket notifications are no longer trusted.
	e.sockets.closeAll()
	e.metrics.sockets.Set(0)
	e.metrics.fatal.Inc()
	e.logf("engine poisoned: %v", err)
	e.report(err)
}

func (e *Engine) report(err error) {
	if e.onError != nil {
		e.onError(err)
	}
}

func (e *Engine) logf(format string, args ...any) {
	log.Printf("[engine] "+e.name+": "+format, args...)
}

func invariantError(msg string) error {
	return api.NewError(api.ErrCodeFatalProtocol, msg)
}

func poisonedError(cause error) error {
	return api.NewError(api.ErrCodeFatalProtocol, "engine unusable").
		WithContext("cause", cause.Error()).
		Wrap(api.ErrEnginePoisoned)
}

var errCancelled = errors.New("transfer removed before completion")

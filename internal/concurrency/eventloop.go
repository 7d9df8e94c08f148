// File: internal/concurrency/eventloop.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop is the reactor the multiplex engine runs on. Each iteration:
//   1. runs tasks submitted from other goroutines (lock-free ingress ring),
//   2. runs tasks deferred during the previous iteration,
//   3. polls the readiness reactor, bounded by the nearest timer,
//   4. fires due timers armed before this iteration began.
// Work queued while an iteration runs is never executed inside the call that
// queued it, which gives callers a safe "next tick".

package concurrency

import (
	"container/heap"
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/reactor"
)

var (
	// ErrLoopAlreadyRunning is returned when Run is called on a running loop.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")
	// ErrLoopClosed is returned by operations on a closed loop.
	ErrLoopClosed = errors.New("eventloop: loop is closed")
	// ErrIngressFull is returned by Submit when the ingress ring is full.
	ErrIngressFull = errors.New("eventloop: ingress queue is full")
)

// Ensure compile-time interface compliance.
var _ api.Loop = (*EventLoop)(nil)

// Config tunes the loop.
type Config struct {
	// IngressCapacity bounds the cross-goroutine submission ring.
	IngressCapacity int
	// MaxWait caps a single blocking poll; zero or negative blocks until
	// an event, a timer or a Submit wakes the loop.
	MaxWait time.Duration
}

// DefaultConfig returns loop defaults.
func DefaultConfig() Config {
	return Config{
		IngressCapacity: 1024,
		MaxWait:         0,
	}
}

// EventLoop owns a reactor, timers and task queues. Not safe for concurrent
// use except Submit, Stop and Pending.
type EventLoop struct {
	reactor  reactor.Reactor
	waker    *waker
	ingress  *RingBuffer[func()]
	deferred *queue.Queue
	timers   timerHeap
	seq      uint64
	maxWait  time.Duration

	running  atomic.Bool
	stopping atomic.Bool
	closed   bool
	pending  atomic.Int64 // ingress items not yet run
	queued   atomic.Int64 // deferred tasks and armed timers
}

// NewEventLoop creates an event loop backed by the platform reactor.
func NewEventLoop(cfg Config) (*EventLoop, error) {
	r, err := reactor.New()
	if err != nil {
		return nil, err
	}
	return newEventLoop(cfg, r)
}

func newEventLoop(cfg Config, r reactor.Reactor) (*EventLoop, error) {
	if cfg.IngressCapacity <= 0 {
		cfg.IngressCapacity = DefaultConfig().IngressCapacity
	}
	w, err := newWaker()
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	el := &EventLoop{
		reactor:  r,
		waker:    w,
		ingress:  NewRingBuffer[func()](uint64(cfg.IngressCapacity)),
		deferred: queue.New(),
		maxWait:  cfg.MaxWait,
	}
	if err := r.Register(w.fd, api.EventRead, func(int, api.EventMask) { w.drain() }); err != nil {
		_ = w.close()
		_ = r.Close()
		return nil, err
	}
	return el, nil
}

type watcher struct {
	loop    *EventLoop
	fd      int
	stopped bool
}

func (w *watcher) Modify(events api.EventMask) error {
	if w.stopped {
		return ErrLoopClosed
	}
	return w.loop.reactor.Modify(w.fd, events)
}

func (w *watcher) Stop() error {
	if w.stopped {
		return nil
	}
	w.stopped = true
	return w.loop.reactor.Unregister(w.fd)
}

// Watch registers fd with the reactor.
func (el *EventLoop) Watch(fd int, events api.EventMask, cb api.FDCallback) (api.Watcher, error) {
	if el.closed {
		return nil, ErrLoopClosed
	}
	if err := el.reactor.Register(fd, events, cb); err != nil {
		return nil, err
	}
	return &watcher{loop: el, fd: fd}, nil
}

// AfterFunc arms a one-shot timer. fn runs on a later iteration even for d <= 0.
func (el *EventLoop) AfterFunc(d time.Duration, fn func()) api.Timer {
	if d < 0 {
		d = 0
	}
	el.seq++
	t := &loopTimer{
		loop: el,
		when: time.Now().Add(d),
		seq:  el.seq,
		fn:   fn,
	}
	heap.Push(&el.timers, t)
	el.queued.Add(1)
	return t
}

// Defer queues fn for the next iteration.
func (el *EventLoop) Defer(fn func()) {
	el.deferred.Add(fn)
	el.queued.Add(1)
}

// Submit hands fn to the loop goroutine. Safe from any goroutine.
func (el *EventLoop) Submit(fn func()) error {
	if el.stopping.Load() {
		return ErrLoopClosed
	}
	if !el.ingress.Enqueue(fn) {
		return ErrIngressFull
	}
	el.pending.Add(1)
	el.waker.wake()
	return nil
}

// Pending returns the approximate amount of queued work and armed timers.
// Safe from any goroutine.
func (el *EventLoop) Pending() int {
	return int(el.pending.Load() + el.queued.Load())
}

// RunOnce performs a single iteration. maxWait < 0 blocks until something
// happens; the nearest timer always bounds the wait.
func (el *EventLoop) RunOnce(maxWait time.Duration) error {
	if el.closed {
		return ErrLoopClosed
	}
	el.runIngress()
	el.runDeferred()

	startSeq := el.seq
	timeout := el.pollTimeout(maxWait)
	if _, err := el.reactor.Poll(timeout); err != nil {
		return err
	}
	el.fireTimers(startSeq)
	return nil
}

func (el *EventLoop) runIngress() {
	for {
		fn, ok := el.ingress.Dequeue()
		if !ok {
			return
		}
		el.pending.Add(-1)
		el.safeRun(fn)
	}
}

// runDeferred runs only what was queued before this call.
func (el *EventLoop) runDeferred() {
	n := el.deferred.Length()
	for i := 0; i < n; i++ {
		fn := el.deferred.Remove().(func())
		el.queued.Add(-1)
		el.safeRun(fn)
	}
}

func (el *EventLoop) pollTimeout(maxWait time.Duration) int {
	if el.deferred.Length() > 0 || el.ingress.Len() > 0 || el.stopping.Load() {
		return 0
	}
	wait := maxWait
	if el.timers.Len() > 0 {
		until := time.Until(el.timers[0].when)
		if until < 0 {
			until = 0
		}
		if wait < 0 || until < wait {
			wait = until
		}
	}
	if wait < 0 {
		return -1
	}
	// Round up so a timer is never polled past short of its deadline.
	return int((wait + time.Millisecond - 1) / time.Millisecond)
}

// fireTimers runs timers that are due and were armed before startSeq.
func (el *EventLoop) fireTimers(startSeq uint64) {
	now := time.Now()
	for el.timers.Len() > 0 {
		t := el.timers[0]
		if t.when.After(now) || t.seq > startSeq {
			return
		}
		heap.Pop(&el.timers)
		el.queued.Add(-1)
		if t.stopped {
			continue
		}
		t.fired = true
		el.safeRun(t.fn)
	}
}

func (el *EventLoop) safeRun(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[eventloop] task panic: %v", p)
		}
	}()
	fn()
}

// Run iterates until ctx is done or Stop is called.
func (el *EventLoop) Run(ctx context.Context) error {
	if !el.running.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	defer el.running.Store(false)

	stop := context.AfterFunc(ctx, el.Stop)
	defer stop()

	for !el.stopping.Load() {
		if err := el.RunOnce(el.idleWait()); err != nil {
			return err
		}
	}
	// Drain what was accepted before the stop flag was raised.
	el.runIngress()
	return ctx.Err()
}

func (el *EventLoop) idleWait() time.Duration {
	if el.maxWait <= 0 {
		return -1
	}
	return el.maxWait
}

// Stop asks Run to return. Safe from any goroutine.
func (el *EventLoop) Stop() {
	if el.stopping.CompareAndSwap(false, true) {
		el.waker.wake()
	}
}

// Close releases the reactor and the wakeup descriptor. Must not be called
// while Run is active.
func (el *EventLoop) Close() error {
	if el.closed {
		return nil
	}
	el.closed = true
	el.stopping.Store(true)
	_ = el.reactor.Unregister(el.waker.fd)
	werr := el.waker.close()
	rerr := el.reactor.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the loop and driver
// interfaces the multiplex engine depends on.

package fake

import (
	"errors"
	"sort"
	"time"

	"github.com/momentics/hioload-xfer/api"
)

// ErrWatched is returned by Watch for a descriptor that is already watched.
var ErrWatched = errors.New("fake: descriptor already watched")

// Loop is a manually driven api.Loop with a virtual clock. Nothing runs
// until the test calls Fire, Advance or RunDeferred.
type Loop struct {
	now      time.Duration
	seq      uint64
	watches  map[int]*watch
	timers   []*timer
	deferred []func()

	// WatchErr, when set, fails every Watch call.
	WatchErr error
	// ModifyErr, when set, fails every Modify call.
	ModifyErr error
}

// NewLoop creates an idle fake loop.
func NewLoop() *Loop {
	return &Loop{watches: make(map[int]*watch)}
}

type watch struct {
	loop    *Loop
	fd      int
	events  api.EventMask
	cb      api.FDCallback
	stopped bool
}

func (w *watch) Modify(events api.EventMask) error {
	if w.stopped {
		return errors.New("fake: watcher stopped")
	}
	if w.loop.ModifyErr != nil {
		return w.loop.ModifyErr
	}
	w.events = events
	return nil
}

func (w *watch) Stop() error {
	if w.stopped {
		return nil
	}
	w.stopped = true
	if w.loop.watches[w.fd] == w {
		delete(w.loop.watches, w.fd)
	}
	return nil
}

type timer struct {
	when    time.Duration
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

func (t *timer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Watch implements api.Loop.
func (l *Loop) Watch(fd int, events api.EventMask, cb api.FDCallback) (api.Watcher, error) {
	if l.WatchErr != nil {
		return nil, l.WatchErr
	}
	if _, ok := l.watches[fd]; ok {
		return nil, ErrWatched
	}
	w := &watch{loop: l, fd: fd, events: events, cb: cb}
	l.watches[fd] = w
	return w, nil
}

// AfterFunc implements api.Loop. fn never runs before the next Advance.
func (l *Loop) AfterFunc(d time.Duration, fn func()) api.Timer {
	if d < 0 {
		d = 0
	}
	l.seq++
	t := &timer{when: l.now + d, seq: l.seq, fn: fn}
	l.timers = append(l.timers, t)
	return t
}

// Defer implements api.Loop.
func (l *Loop) Defer(fn func()) {
	l.deferred = append(l.deferred, fn)
}

// Fire delivers ev to the watcher of fd. It reports whether one was live.
func (l *Loop) Fire(fd int, ev api.EventMask) bool {
	w, ok := l.watches[fd]
	if !ok {
		return false
	}
	w.cb(fd, ev)
	return true
}

// Watching returns the interest registered for fd.
func (l *Loop) Watching(fd int) (api.EventMask, bool) {
	w, ok := l.watches[fd]
	if !ok {
		return api.EventNone, false
	}
	return w.events, true
}

// Watches returns the number of live watchers.
func (l *Loop) Watches() int { return len(l.watches) }

// ArmedTimers returns the number of timers neither stopped nor fired.
func (l *Loop) ArmedTimers() int {
	n := 0
	for _, t := range l.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Now returns the virtual time elapsed since the loop was created.
func (l *Loop) Now() time.Duration { return l.now }

// RunDeferred runs the tasks deferred so far, not those they defer.
func (l *Loop) RunDeferred() {
	batch := l.deferred
	l.deferred = nil
	for _, fn := range batch {
		fn()
	}
}

// Advance moves the clock by d, runs deferred work, then fires the timers
// that are due and were armed before the call, in deadline order.
func (l *Loop) Advance(d time.Duration) {
	startSeq := l.seq
	l.now += d
	l.RunDeferred()

	var due []*timer
	kept := l.timers[:0]
	for _, t := range l.timers {
		switch {
		case t.stopped || t.fired:
		case t.when <= l.now && t.seq <= startSeq:
			due = append(due, t)
		default:
			kept = append(kept, t)
		}
	}
	l.timers = kept
	sort.Slice(due, func(i, j int) bool {
		if due[i].when == due[j].when {
			return due[i].seq < due[j].seq
		}
		return due[i].when < due[j].when
	})
	for _, t := range due {
		if t.stopped {
			continue
		}
		t.fired = true
		t.fn()
	}
}

var _ api.Loop = (*Loop)(nil)

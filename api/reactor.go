// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract contracts of the host event loop the multiplex engine
// is plugged into: descriptor watchers with an interest mask and one-shot timers.

package api

import "time"

// EventMask is a readiness interest or readiness report for a descriptor.
type EventMask uint8

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventError

	EventNone EventMask = 0
)

// String renders the mask for logs.
func (m EventMask) String() string {
	switch m & (EventRead | EventWrite) {
	case EventRead:
		if m&EventError != 0 {
			return "read|error"
		}
		return "read"
	case EventWrite:
		if m&EventError != 0 {
			return "write|error"
		}
		return "write"
	case EventRead | EventWrite:
		if m&EventError != 0 {
			return "read|write|error"
		}
		return "read|write"
	}
	if m&EventError != 0 {
		return "error"
	}
	return "none"
}

// FDCallback receives readiness for a watched descriptor.
type FDCallback func(fd int, events EventMask)

// Watcher is a live registration of one descriptor with the loop.
type Watcher interface {
	// Modify replaces the interest mask in place.
	Modify(events EventMask) error
	// Stop removes the registration. Further events are not delivered.
	Stop() error
}

// Timer is a one-shot timer armed on the loop.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the fire.
	Stop() bool
}

// Loop is the single-threaded host event loop. All methods must be called
// from the loop goroutine. Callbacks never run synchronously inside the call
// that registered them: AfterFunc(0) and Defer run on a later iteration.
type Loop interface {
	Watch(fd int, events EventMask, cb FDCallback) (Watcher, error)
	AfterFunc(d time.Duration, fn func()) Timer
	Defer(fn func())
}

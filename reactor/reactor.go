// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

import "github.com/momentics/hioload-xfer/api"

// Reactor multiplexes readiness of many descriptors. It is driven by a single
// goroutine; callbacks run inside Poll on that goroutine.
type Reactor interface {
	// Register adds fd with the given interest mask.
	Register(fd int, events api.EventMask, cb api.FDCallback) error

	// Modify replaces the interest mask of a registered fd.
	Modify(fd int, events api.EventMask) error

	// Unregister removes fd. Pending events for fd are dropped.
	Unregister(fd int) error

	// Poll waits up to timeoutMs (negative blocks) and dispatches ready callbacks.
	// It returns the number of callbacks invoked.
	Poll(timeoutMs int) (int, error)

	// Close releases the backend.
	Close() error
}

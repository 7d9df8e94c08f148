// File: transfer/stats.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transfer

import (
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

var (
	openHandles = cmap.New[*Handle]()
	registered  atomic.Int64
)

func trackOpen(h *Handle)   { openHandles.Set(h.ID(), h) }
func trackClosed(h *Handle) { openHandles.Remove(h.ID()) }

// Counts is a read-only view of process-wide handle usage.
type Counts struct {
	Open       int
	Registered int
}

// Stats returns the number of open handles and of handles currently
// registered with an engine.
func Stats() Counts {
	return Counts{
		Open:       openHandles.Count(),
		Registered: int(registered.Load()),
	}
}

// OpenIDs lists the ids of every open handle.
func OpenIDs() []string {
	return openHandles.Keys()
}

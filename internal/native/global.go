// File: internal/native/global.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package native

import "sync"

// InitFlags select what GlobalInit prepares.
type InitFlags int

const (
	InitNothing InitFlags = 0
	InitDefault InitFlags = 1 << iota
)

var global struct {
	mu          sync.Mutex
	initialized bool
	flags       InitFlags
}

// GlobalInit prepares process-wide state. A second call before GlobalCleanup
// fails with FailedInit and leaves the first initialization in effect.
func GlobalInit(flags InitFlags) Code {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.initialized {
		return FailedInit
	}
	global.initialized = true
	global.flags = flags
	return OK
}

// GlobalCleanup releases process-wide state. It is a no-op when not initialized.
func GlobalCleanup() {
	global.mu.Lock()
	global.initialized = false
	global.flags = InitNothing
	global.mu.Unlock()
}

// Initialized reports whether GlobalInit is in effect and with which flags.
func Initialized() (bool, InitFlags) {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.initialized, global.flags
}

// File: facade/runtime.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"sync"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/internal/native"
)

// InitFlags select what process-wide initialization prepares.
type InitFlags = native.InitFlags

const (
	InitNothing = native.InitNothing
	InitDefault = native.InitDefault
)

// Runtime is the process-wide initialization token.
type Runtime struct {
	flags InitFlags
}

var runtimeMu sync.Mutex
var current *Runtime

// Init performs process-wide initialization once. A second call before the
// previous Runtime is closed fails with ErrAlreadyInitialized and leaves the
// first one in effect.
func Init(flags InitFlags) (*Runtime, error) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if current != nil {
		return nil, api.Usage(api.ErrAlreadyInitialized, "runtime already initialized")
	}
	if code := native.GlobalInit(flags); code != native.OK {
		return nil, api.Usage(api.ErrAlreadyInitialized, "global init refused").WithContext("code", code.String())
	}
	current = &Runtime{flags: flags}
	return current, nil
}

// Flags returns the flags the runtime was initialized with.
func (r *Runtime) Flags() InitFlags { return r.flags }

// Close undoes Init.
func (r *Runtime) Close() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if r == nil || current != r {
		return api.Usage(api.ErrNotInitialized, "runtime not initialized")
	}
	native.GlobalCleanup()
	current = nil
	return nil
}

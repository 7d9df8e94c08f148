//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "errors"

// ErrUnsupported is returned by New on platforms without a readiness backend.
var ErrUnsupported = errors.New("reactor: this platform is not supported")

// New returns an error for unsupported platforms.
func New() (Reactor, error) {
	return nil, ErrUnsupported
}

//go:build !linux
// +build !linux

// File: internal/concurrency/wake_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "errors"

type waker struct {
	fd int
}

func newWaker() (*waker, error) {
	return nil, errors.New("eventloop: wakeup not supported on this platform")
}

func (w *waker) wake()        {}
func (w *waker) drain()       {}
func (w *waker) close() error { return nil }

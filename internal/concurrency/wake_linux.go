//go:build linux
// +build linux

// File: internal/concurrency/wake_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// eventfd(2) based wakeup for the loop's blocking poll.

package concurrency

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

type waker struct {
	fd int
}

func newWaker() (*waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &waker{fd: fd}, nil
}

// wake makes the next or current poll return. EAGAIN means the counter is
// already saturated, which is as good as a wakeup.
func (w *waker) wake() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(w.fd, buf[:])
}

func (w *waker) drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(w.fd, buf[:]); err != nil {
			return
		}
	}
}

func (w *waker) close() error {
	return unix.Close(w.fd)
}

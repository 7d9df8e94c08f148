//go:build !linux
// +build !linux

// File: internal/native/sock_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package native

import (
	"errors"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

var errUnsupported = errors.New("native: non-blocking sockets are only implemented on linux")

func openSocket(net.IP, int) (int, unix.Sockaddr, error) {
	return -1, nil, errUnsupported
}

func waitFD(_ int, _ Poll, timeout time.Duration) {
	if timeout > 0 {
		time.Sleep(timeout)
	}
}

func newWakeFD() (int, error) {
	return -1, errUnsupported
}

func signalWakeFD(int) {}

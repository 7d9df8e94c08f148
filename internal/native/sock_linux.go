//go:build linux
// +build linux

// File: internal/native/sock_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package native

import (
	"encoding/binary"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// openSocket creates a non-blocking TCP socket for ip.
func openSocket(ip net.IP, port int) (int, unix.Sockaddr, error) {
	var (
		domain int
		sa     unix.Sockaddr
	)
	if ip4 := ip.To4(); ip4 != nil {
		in4 := &unix.SockaddrInet4{Port: port}
		copy(in4.Addr[:], ip4)
		domain, sa = unix.AF_INET, in4
	} else {
		in6 := &unix.SockaddrInet6{Port: port}
		copy(in6.Addr[:], ip.To16())
		domain, sa = unix.AF_INET6, in6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, err
	}
	return fd, sa, nil
}

// waitFD blocks until fd matches what or timeout passes. A negative timeout
// waits without limit.
func waitFD(fd int, what Poll, timeout time.Duration) {
	var events int16
	switch what {
	case PollIn:
		events = unix.POLLIN
	case PollOut:
		events = unix.POLLOUT
	case PollInOut:
		events = unix.POLLIN | unix.POLLOUT
	}
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		if _, err := unix.Poll(fds, ms); err != unix.EINTR {
			return
		}
	}
}

// newWakeFD creates a non-blocking eventfd.
func newWakeFD() (int, error) {
	return unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
}

// signalWakeFD makes fd readable.
func signalWakeFD(fd int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(fd, buf[:])
}

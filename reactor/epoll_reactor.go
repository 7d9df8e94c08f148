//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/momentics/hioload-xfer/api"
	"golang.org/x/sys/unix"
)

const maxEvents = 128

// epollReactor implements Reactor using level-triggered epoll.
type epollReactor struct {
	epfd      int
	callbacks sync.Map // map[int]*registration
	events    [maxEvents]unix.EpollEvent
}

// registration tracks one descriptor. A descriptor with no interest is kept
// out of the epoll set, since epoll reports hangups and errors regardless of
// the requested events.
type registration struct {
	cb    api.FDCallback
	armed bool
}

// New creates a new epoll reactor.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollReactor{epfd: epfd}, nil
}

func toEpoll(events api.EventMask) uint32 {
	var ev uint32
	if events&api.EventRead != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&api.EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Register adds a file descriptor to the epoll watch list.
func (r *epollReactor) Register(fd int, events api.EventMask, cb api.FDCallback) error {
	if cb == nil {
		return fmt.Errorf("epoll register fd=%d: %w", fd, api.ErrInvalidArgument)
	}
	if _, loaded := r.callbacks.Load(fd); loaded {
		return fmt.Errorf("epoll register fd=%d: %w", fd, unix.EEXIST)
	}
	reg := &registration{cb: cb}
	if events != api.EventNone {
		ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return fmt.Errorf("epoll ctl add: %w", err)
		}
		reg.armed = true
	}
	r.callbacks.Store(fd, reg)
	return nil
}

// Modify changes the interest mask of a registered descriptor.
func (r *epollReactor) Modify(fd int, events api.EventMask) error {
	val, ok := r.callbacks.Load(fd)
	if !ok {
		return fmt.Errorf("epoll modify fd=%d: %w", fd, unix.ENOENT)
	}
	reg := val.(*registration)
	if events == api.EventNone {
		if !reg.armed {
			return nil
		}
		if err := r.disarm(fd); err != nil {
			return err
		}
		reg.armed = false
		return nil
	}
	op := unix.EPOLL_CTL_MOD
	if !reg.armed {
		op = unix.EPOLL_CTL_ADD
	}
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	reg.armed = true
	return nil
}

// Unregister removes a file descriptor from the epoll watch list.
func (r *epollReactor) Unregister(fd int) error {
	val, ok := r.callbacks.LoadAndDelete(fd)
	if ok && !val.(*registration).armed {
		return nil
	}
	return r.disarm(fd)
}

func (r *epollReactor) disarm(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		// The descriptor may already be closed by its owner; the kernel dropped it then.
		if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
			return nil
		}
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Poll blocks and waits for events on registered file descriptors.
// timeoutMs < 0 means block infinitely.
func (r *epollReactor) Poll(timeoutMs int) (int, error) {
	if timeoutMs < 0 {
		timeoutMs = -1
	}
	n, err := unix.EpollWait(r.epfd, r.events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	dispatched := 0
	for i := 0; i < n; i++ {
		ev := r.events[i]
		fd := int(ev.Fd)

		// A callback earlier in this batch may have unregistered fd.
		val, ok := r.callbacks.Load(fd)
		if !ok {
			continue
		}

		var mask api.EventMask
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			mask |= api.EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			mask |= api.EventWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			mask |= api.EventError
		}

		r.dispatch(val.(*registration).cb, fd, mask)
		dispatched++
	}
	return dispatched, nil
}

// dispatch keeps the reactor alive across callback panics.
func (r *epollReactor) dispatch(cb api.FDCallback, fd int, mask api.EventMask) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[reactor] callback panic on fd=%d: %v", fd, p)
		}
	}()
	cb(fd, mask)
}

// Close releases the epoll file descriptor.
func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}

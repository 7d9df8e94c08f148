// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness reactor the event loop polls: descriptors are
// registered with an interest mask and a callback, Poll waits once and dispatches.
// Linux uses epoll(7); other platforms get a stub that refuses construction.
package reactor

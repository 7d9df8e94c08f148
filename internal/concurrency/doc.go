// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-threaded event loop for the transfer engine. One goroutine owns the
// loop: it drains cross-goroutine submissions from a lock-free ring, runs
// deferred tasks, polls the readiness reactor and fires one-shot timers.
//
// Everything except Submit and Stop must be called from the loop goroutine.
package concurrency

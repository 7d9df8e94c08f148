// File: multi/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package multi is the multiplex engine. An Engine drives any number of
// transfer handles on one event loop: the driver announces the descriptors
// and deadline it needs through hooks, the engine keeps one socket context per
// descriptor and a single timer, re-enters the driver on readiness or expiry
// and dispatches every completion exactly once.
//
// All Engine methods and callbacks run on the loop goroutine. Hooks only
// record state and arm loop timers; driving happens from loop callbacks.
package multi

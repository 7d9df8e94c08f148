// File: internal/native/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package native is the transfer library the multiplex engine drives. Its
// surface is deliberately procedural: an Easy is one configured transfer, a
// Multi drives many of them through SocketAction, reports wanted descriptor
// interest through a SocketFunc, its next deadline through a TimerFunc, and
// queues completion messages read back with InfoRead.
//
// Transfers are plain HTTP/1.x over non-blocking TCP sockets, or raw TCP for
// connect-only handles. Callbacks registered by the embedder run inline inside
// SocketAction; Add, Remove and SocketAction refuse to be called from there.
package native

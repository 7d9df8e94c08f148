// File: internal/native/easy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package native

import (
	"log"
	"time"

	"golang.org/x/sys/unix"
)

// Info is what a finished (or running) transfer reports about itself.
type Info struct {
	ResponseCode  int
	EffectiveURL  string
	TotalTime     time.Duration
	SizeDownload  int64
	SizeUpload    int64
	ContentLength int64 // -1 when unknown
	ActiveSocket  int   // connect-only descriptor, -1 when none
	PrimaryIP     string
}

func freshInfo() Info {
	return Info{ContentLength: -1, ActiveSocket: -1}
}

// Easy is one configured transfer. It is not safe for concurrent use.
type Easy struct {
	set       settings
	cb        callbacks
	multi     *Multi
	st        *xfer
	info      Info
	paused    Pause
	conn      int
	performed int
}

// NewEasy returns a handle with default settings.
func NewEasy() *Easy {
	return &Easy{
		set:  defaultSettings(),
		info: freshInfo(),
		conn: -1,
	}
}

// Dup returns a new handle carrying a copy of e's settings and callbacks but
// none of its transfer state.
func (e *Easy) Dup() *Easy {
	d := NewEasy()
	d.set = e.set
	d.set.headers = append([]string(nil), e.set.headers...)
	if e.set.postFields != nil {
		d.set.postFields = append(make([]byte, 0, len(e.set.postFields)), e.set.postFields...)
	}
	d.cb = e.cb
	return d
}

// Reset restores default settings and drops every callback. A connect-only
// socket still held by e is closed.
func (e *Easy) Reset() {
	if e.multi != nil {
		e.multi.Remove(e)
	}
	e.stop()
	e.closeConn()
	e.set = defaultSettings()
	e.cb = callbacks{}
	e.info = freshInfo()
	e.paused = PauseCont
	e.st = nil
}

// Cleanup releases everything e holds, removing it from its Multi first.
func (e *Easy) Cleanup() {
	if e.multi != nil {
		e.multi.Remove(e)
	}
	e.stop()
	e.closeConn()
	e.st = nil
}

// Info returns a snapshot of the transfer information.
func (e *Easy) Info() Info {
	return e.info
}

// Multi returns the multi handle e is added to, nil when standalone.
func (e *Easy) Multi() *Multi {
	return e.multi
}

// Pause sets the pause state of the transfer. Clearing a direction schedules
// the transfer to run again, redelivering data held back by WritePause.
func (e *Easy) Pause(mask Pause) Code {
	if mask&^PauseAll != 0 {
		return BadFunctionArgument
	}
	old := e.paused
	e.paused = mask
	st := e.st
	if st == nil || st.phase == phaseDone {
		return OK
	}
	if old&^mask != 0 {
		st.kick = true
		if !st.running {
			st.expire = time.Now()
		}
	}
	if m := e.multi; m != nil && !st.running && !m.busy() {
		m.refresh(e)
	}
	return OK
}

// Send writes raw bytes on the socket of a finished connect-only transfer.
func (e *Easy) Send(p []byte) (int, Code) {
	if e.conn < 0 {
		return 0, BadFunctionArgument
	}
	for {
		n, err := unix.Write(e.conn, p)
		switch err {
		case nil:
			return n, OK
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, Again
		}
		return 0, SendError
	}
}

// Recv reads raw bytes from the socket of a finished connect-only transfer.
// A zero count with OK means the peer closed the connection.
func (e *Easy) Recv(p []byte) (int, Code) {
	if e.conn < 0 {
		return 0, BadFunctionArgument
	}
	for {
		n, err := unix.Read(e.conn, p)
		switch err {
		case nil:
			return n, OK
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, Again
		}
		return 0, RecvError
	}
}

// begin prepares a fresh transfer attempt.
func (e *Easy) begin(now time.Time) {
	e.closeConn()
	e.performed++
	e.paused = PauseCont
	e.info = freshInfo()

	st := &xfer{
		fd:           -1,
		start:        now,
		lastProgress: now,
		rbuf:         make([]byte, recvBufferSize),
	}
	if e.set.timeout > 0 {
		st.deadline = now.Add(e.set.timeout)
	}
	ct := e.set.connectTimeout
	if ct <= 0 {
		ct = defaultConnectTimeout
	}
	st.connDeadline = now.Add(ct)
	if e.set.upload && !e.set.post {
		st.upScratch = make([]byte, uploadBufferSize)
	}
	e.st = st
}

// stop ends a running transfer without reporting it anywhere.
func (e *Easy) stop() {
	if e.st != nil && e.st.phase != phaseDone {
		e.finish(AbortedByCallback)
	}
}

func (e *Easy) closeConn() {
	if e.conn >= 0 {
		_ = unix.Close(e.conn)
		e.conn = -1
		e.info.ActiveSocket = -1
	}
}

// closeSocket tells the multi handle the descriptor is going away, then
// closes it.
func (e *Easy) closeSocket() {
	if r := e.st.res; r != nil {
		e.st.res = nil
		r.abandon()
	}
	if fd := e.releaseSocket(); fd >= 0 {
		_ = unix.Close(fd)
	}
}

// releaseSocket detaches the transfer descriptor without closing it.
func (e *Easy) releaseSocket() int {
	st := e.st
	fd := st.fd
	if fd < 0 {
		return -1
	}
	st.fd = -1
	if e.multi != nil {
		e.multi.forgetSocket(e, fd)
	}
	return fd
}

func (e *Easy) debug(kind InfoType, data []byte) {
	if e.set.verbose && e.cb.debug != nil {
		e.cb.debug(kind, data)
	}
}

func (e *Easy) debugText(msg string) {
	if !e.set.verbose {
		return
	}
	if e.cb.debug != nil {
		e.cb.debug(InfoText, []byte(msg+"\n"))
		return
	}
	log.Printf("[native] %s", msg)
}

// wantPoll is the descriptor interest matching the current phase.
func (e *Easy) wantPoll() Poll {
	st := e.st
	if st == nil || st.fd < 0 {
		return PollNone
	}
	switch st.phase {
	case phaseResolve:
		return PollIn
	case phaseConnecting:
		return PollOut
	case phaseSend:
		if e.paused&PauseSend != 0 && st.sendIdle() {
			return PollNone
		}
		return PollOut
	case phaseRecv:
		if e.paused&PauseRecv != 0 {
			return PollNone
		}
		return PollIn
	}
	return PollNone
}

// File: internal/native/multi.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Multi drives any number of Easy handles without blocking. The embedder
// learns which descriptors to watch through the SocketFunc and when to drive
// timeouts through the TimerFunc, then calls SocketAction for every readiness
// event or expired timer and reads finished transfers with InfoRead.

package native

import "time"

type sockEntry struct {
	easy    *Easy
	what    Poll
	socketp any
}

// Multi is not safe for concurrent use.
type Multi struct {
	easies  []*Easy
	sockets map[int]*sockEntry
	msgs    []Msg

	socketFn SocketFunc
	timerFn  TimerFunc
	timerAt  time.Time
	timerOn  bool

	inCallback int
	driving    bool
	closed     bool
}

// NewMulti returns an empty multi handle.
func NewMulti() *Multi {
	return &Multi{sockets: make(map[int]*sockEntry)}
}

// SetSocketFunc installs the descriptor interest hook.
func (m *Multi) SetSocketFunc(fn SocketFunc) { m.socketFn = fn }

// SetTimerFunc installs the deadline hook.
func (m *Multi) SetTimerFunc(fn TimerFunc) { m.timerFn = fn }

func (m *Multi) busy() bool {
	return m.inCallback > 0 || m.driving
}

// Add starts driving e. The transfer does not run inside Add; the timer hook
// is told to expire immediately instead.
func (m *Multi) Add(e *Easy) MCode {
	switch {
	case m.closed:
		return MBadHandle
	case e == nil:
		return MBadEasyHandle
	case m.busy():
		return MRecursiveAPICall
	case e.multi != nil:
		return MAddedAlready
	}
	now := time.Now()
	e.multi = m
	e.begin(now)
	e.st.expire = now
	m.easies = append(m.easies, e)
	m.updateTimer(now)
	return MOK
}

// Remove stops driving e. An unfinished transfer is aborted without a
// message and pending messages for e are dropped.
func (m *Multi) Remove(e *Easy) MCode {
	switch {
	case m.closed:
		return MBadHandle
	case e == nil:
		return MBadEasyHandle
	case m.busy():
		return MRecursiveAPICall
	case e.multi != m:
		return MBadEasyHandle
	}
	e.stop()
	e.multi = nil
	for i, x := range m.easies {
		if x == e {
			m.easies = append(m.easies[:i], m.easies[i+1:]...)
			break
		}
	}
	kept := m.msgs[:0]
	for _, msg := range m.msgs {
		if msg.Easy != e {
			kept = append(kept, msg)
		}
	}
	m.msgs = kept
	m.updateTimer(time.Now())
	return MOK
}

// SocketAction drives the transfer owning fd, or every transfer whose
// deadline passed when fd is SocketTimeout. It returns the number of
// transfers still running.
func (m *Multi) SocketAction(fd int, _ CSelect) (MCode, int) {
	if m.closed {
		return MBadHandle, 0
	}
	if m.busy() {
		return MRecursiveAPICall, m.running()
	}
	m.driving = true
	defer func() { m.driving = false }()

	now := time.Now()
	if fd == SocketTimeout {
		m.timerOn = false
	} else if entry, ok := m.sockets[fd]; ok {
		m.step(entry.easy, now)
	}
	for _, e := range m.easies {
		if e.st.due(now) {
			m.step(e, now)
		}
	}
	m.updateTimer(now)
	return MOK, m.running()
}

// Assign attaches embedder data to a known descriptor; it is passed back to
// the SocketFunc on later notifications for that descriptor.
func (m *Multi) Assign(fd int, socketp any) MCode {
	entry, ok := m.sockets[fd]
	if !ok {
		return MBadSocket
	}
	entry.socketp = socketp
	return MOK
}

// InfoRead pops the oldest completion message and the number still queued.
func (m *Multi) InfoRead() (*Msg, int) {
	if len(m.msgs) == 0 {
		return nil, 0
	}
	msg := m.msgs[0]
	m.msgs[0] = Msg{}
	m.msgs = m.msgs[1:]
	return &msg, len(m.msgs)
}

// Close aborts every transfer, announcing removal of their descriptors, and
// disarms the timer.
func (m *Multi) Close() MCode {
	if m.closed {
		return MBadHandle
	}
	if m.busy() {
		return MRecursiveAPICall
	}
	for _, e := range m.easies {
		e.stop()
		e.multi = nil
	}
	m.easies, m.msgs = nil, nil
	if m.timerOn {
		m.timerOn = false
		m.callTimer(-1)
	}
	m.closed = true
	return MOK
}

// Len returns how many handles are added.
func (m *Multi) Len() int { return len(m.easies) }

func (m *Multi) running() int {
	n := 0
	for _, e := range m.easies {
		if e.st.phase != phaseDone {
			n++
		}
	}
	return n
}

func (m *Multi) step(e *Easy, now time.Time) {
	if e.st.phase == phaseDone {
		return
	}
	done, code := e.run(now)
	if !done && !m.sync(e) {
		e.finish(AbortedByCallback)
		done, code = true, AbortedByCallback
	}
	if done {
		m.msgs = append(m.msgs, Msg{Easy: e, Result: code})
	}
}

// refresh publishes interest and deadline changes made outside SocketAction.
func (m *Multi) refresh(e *Easy) {
	if !m.sync(e) {
		e.finish(AbortedByCallback)
		m.msgs = append(m.msgs, Msg{Easy: e, Result: AbortedByCallback})
	}
	m.updateTimer(time.Now())
}

// sync announces the descriptor interest of e. It reports false when the
// SocketFunc refused it.
func (m *Multi) sync(e *Easy) bool {
	st := e.st
	if st.fd < 0 || st.phase == phaseDone {
		return true
	}
	want := e.wantPoll()
	entry, ok := m.sockets[st.fd]
	if !ok {
		m.sockets[st.fd] = &sockEntry{easy: e, what: want}
		if m.callSocket(e, st.fd, want, nil) == -1 {
			// The embedder holds nothing for this descriptor yet.
			delete(m.sockets, st.fd)
			return false
		}
		return true
	}
	if entry.what == want {
		return true
	}
	entry.what = want
	return m.callSocket(e, st.fd, want, entry.socketp) != -1
}

// forgetSocket announces PollRemove for fd before its owner closes it.
func (m *Multi) forgetSocket(e *Easy, fd int) {
	entry, ok := m.sockets[fd]
	if !ok || entry.easy != e {
		return
	}
	m.callSocket(e, fd, PollRemove, entry.socketp)
	delete(m.sockets, fd)
}

func (m *Multi) updateTimer(now time.Time) {
	var next time.Time
	for _, e := range m.easies {
		st := e.st
		if st.phase == phaseDone || st.expire.IsZero() {
			continue
		}
		if next.IsZero() || st.expire.Before(next) {
			next = st.expire
		}
	}
	if next.IsZero() {
		if m.timerOn {
			m.timerOn = false
			m.callTimer(-1)
		}
		return
	}
	if m.timerOn && next.Equal(m.timerAt) {
		return
	}
	m.timerOn, m.timerAt = true, next
	var ms int64
	if d := next.Sub(now); d > 0 {
		ms = int64((d + time.Millisecond - 1) / time.Millisecond)
	}
	m.callTimer(ms)
}

func (m *Multi) callSocket(e *Easy, fd int, what Poll, socketp any) int {
	if m.socketFn == nil {
		return 0
	}
	m.inCallback++
	defer func() { m.inCallback-- }()
	return m.socketFn(e, fd, what, socketp)
}

func (m *Multi) callTimer(ms int64) {
	if m.timerFn == nil {
		return
	}
	m.inCallback++
	defer func() { m.inCallback-- }()
	m.timerFn(ms)
}

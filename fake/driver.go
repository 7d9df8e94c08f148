// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import "github.com/momentics/hioload-xfer/internal/native"

// Action records one SocketAction call.
type Action struct {
	FD     int
	Select native.CSelect
}

// Driver is a scripted stand-in for native.Multi. Tests raise socket and
// timer notifications and queue completion messages by hand.
type Driver struct {
	socketFn native.SocketFunc
	timerFn  native.TimerFunc

	easies  map[*native.Easy]struct{}
	sockets map[int]*socket
	msgs    []native.Msg
	codes   []native.MCode
	busy    bool
	closed  bool

	// Actions lists every SocketAction call in order.
	Actions []Action
	// AddCode, when not MOK, is returned by the next Add instead of adding.
	AddCode native.MCode
	// OnAction runs inside SocketAction, where the real driver would step
	// transfers and raise notifications.
	OnAction func(fd int, sel native.CSelect)
}

type socket struct {
	easy    *native.Easy
	socketp any
}

// NewDriver creates an empty driver.
func NewDriver() *Driver {
	return &Driver{
		easies:  make(map[*native.Easy]struct{}),
		sockets: make(map[int]*socket),
	}
}

func (d *Driver) SetSocketFunc(fn native.SocketFunc) { d.socketFn = fn }
func (d *Driver) SetTimerFunc(fn native.TimerFunc)   { d.timerFn = fn }

func (d *Driver) Add(e *native.Easy) native.MCode {
	switch {
	case d.closed:
		return native.MBadHandle
	case e == nil:
		return native.MBadEasyHandle
	case d.busy:
		return native.MRecursiveAPICall
	case d.AddCode != native.MOK:
		code := d.AddCode
		d.AddCode = native.MOK
		return code
	}
	if _, ok := d.easies[e]; ok {
		return native.MAddedAlready
	}
	d.easies[e] = struct{}{}
	return native.MOK
}

// Remove forgets e, announcing removal of its descriptors and dropping its
// queued messages, as the real driver does.
func (d *Driver) Remove(e *native.Easy) native.MCode {
	switch {
	case d.closed:
		return native.MBadHandle
	case d.busy:
		return native.MRecursiveAPICall
	}
	if _, ok := d.easies[e]; !ok {
		return native.MBadEasyHandle
	}
	delete(d.easies, e)
	for fd, s := range d.sockets {
		if s.easy == e {
			d.NotifySocket(e, fd, native.PollRemove)
			delete(d.sockets, fd)
		}
	}
	kept := d.msgs[:0]
	for _, m := range d.msgs {
		if m.Easy != e {
			kept = append(kept, m)
		}
	}
	d.msgs = kept
	return native.MOK
}

func (d *Driver) Assign(fd int, socketp any) native.MCode {
	s, ok := d.sockets[fd]
	if !ok {
		return native.MBadSocket
	}
	s.socketp = socketp
	return native.MOK
}

// SocketAction records the call, runs OnAction and returns the next queued
// code, MOK when none is queued.
func (d *Driver) SocketAction(fd int, sel native.CSelect) (native.MCode, int) {
	if d.closed {
		return native.MBadHandle, 0
	}
	if d.busy {
		return native.MRecursiveAPICall, len(d.easies)
	}
	d.Actions = append(d.Actions, Action{FD: fd, Select: sel})
	if d.OnAction != nil {
		d.busy = true
		d.OnAction(fd, sel)
		d.busy = false
	}
	code := native.MOK
	if len(d.codes) > 0 {
		code = d.codes[0]
		d.codes = d.codes[1:]
	}
	return code, len(d.easies)
}

func (d *Driver) InfoRead() (*native.Msg, int) {
	if len(d.msgs) == 0 {
		return nil, 0
	}
	m := d.msgs[0]
	d.msgs = d.msgs[1:]
	return &m, len(d.msgs)
}

func (d *Driver) Close() native.MCode {
	if d.closed {
		return native.MBadHandle
	}
	if d.busy {
		return native.MRecursiveAPICall
	}
	for fd, s := range d.sockets {
		d.NotifySocket(s.easy, fd, native.PollRemove)
	}
	d.sockets = make(map[int]*socket)
	d.easies = make(map[*native.Easy]struct{})
	d.msgs = nil
	d.closed = true
	return native.MOK
}

// QueueCodes sets the results of the next SocketAction calls.
func (d *Driver) QueueCodes(codes ...native.MCode) {
	d.codes = append(d.codes, codes...)
}

// NotifySocket raises the socket hook for fd with the data assigned to it.
func (d *Driver) NotifySocket(e *native.Easy, fd int, what native.Poll) int {
	s, ok := d.sockets[fd]
	if !ok {
		if what == native.PollRemove {
			return d.NotifySocketRaw(e, fd, what, nil)
		}
		s = &socket{easy: e}
		d.sockets[fd] = s
	}
	rc := d.NotifySocketRaw(e, fd, what, s.socketp)
	if rc == -1 && s.socketp == nil {
		delete(d.sockets, fd)
	}
	if what == native.PollRemove {
		delete(d.sockets, fd)
	}
	return rc
}

// NotifySocketRaw raises the socket hook with an explicit socketp.
func (d *Driver) NotifySocketRaw(e *native.Easy, fd int, what native.Poll, socketp any) int {
	if d.socketFn == nil {
		return 0
	}
	prev := d.busy
	d.busy = true
	defer func() { d.busy = prev }()
	return d.socketFn(e, fd, what, socketp)
}

// NotifyTimer raises the timer hook.
func (d *Driver) NotifyTimer(ms int64) int {
	if d.timerFn == nil {
		return 0
	}
	prev := d.busy
	d.busy = true
	defer func() { d.busy = prev }()
	return d.timerFn(ms)
}

// Complete queues a completion message for e.
func (d *Driver) Complete(e *native.Easy, result native.Code) {
	d.msgs = append(d.msgs, native.Msg{Easy: e, Result: result})
}

// Assigned returns the data assigned to fd and whether fd is known.
func (d *Driver) Assigned(fd int) (any, bool) {
	s, ok := d.sockets[fd]
	if !ok {
		return nil, false
	}
	return s.socketp, true
}

// Added reports whether e is added.
func (d *Driver) Added(e *native.Easy) bool {
	_, ok := d.easies[e]
	return ok
}

// File: internal/native/perform.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package native

import "time"

// idleWait bounds a standalone wait when nothing but a pause holds the
// transfer.
const idleWait = 10 * time.Millisecond

// Perform runs the transfer to completion on the calling goroutine. A panic
// raised by a callback propagates after the socket is closed.
func (e *Easy) Perform() Code {
	if e.multi != nil {
		return FailedInit
	}
	if e.st != nil && e.st.running {
		return FailedInit
	}
	e.begin(time.Now())
	finished := false
	defer func() {
		if !finished {
			e.stop()
		}
	}()
	for {
		now := time.Now()
		done, code := e.run(now)
		if done {
			finished = true
			return code
		}
		e.wait(now)
	}
}

func (e *Easy) wait(now time.Time) {
	st := e.st
	timeout := time.Duration(-1)
	if !st.expire.IsZero() {
		timeout = st.expire.Sub(now)
		if timeout < 0 {
			timeout = 0
		}
	}
	want := e.wantPoll()
	if st.fd < 0 || want == PollNone {
		if timeout < 0 || timeout > idleWait {
			timeout = idleWait
		}
		time.Sleep(timeout)
		return
	}
	waitFD(st.fd, want, timeout)
}

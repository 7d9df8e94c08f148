// File: multi/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multi

import (
	"time"

	"github.com/momentics/hioload-xfer/api"
)

// timerBridge keeps at most one armed loop timer for the driver's next
// deadline. Every set supersedes the previous one.
type timerBridge struct {
	loop  api.Loop
	armed api.Timer
	gen   uint64
	fire  func()
}

func (t *timerBridge) set(ms int64) {
	t.cancel()
	if ms < 0 {
		return
	}
	gen := t.gen
	t.armed = t.loop.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		if gen != t.gen {
			return
		}
		t.armed = nil
		t.fire()
	})
}

func (t *timerBridge) cancel() {
	t.gen++
	if t.armed != nil {
		t.armed.Stop()
		t.armed = nil
	}
}

func (t *timerBridge) isArmed() bool {
	return t.armed != nil
}

// onTimer is the driver's timer hook. The drive it schedules runs on a later
// loop iteration, never inside the hook.
func (e *Engine) onTimer(ms int64) int {
	e.timer.set(ms)
	return 0
}

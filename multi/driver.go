// File: multi/driver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multi

import "github.com/momentics/hioload-xfer/internal/native"

// Driver is the transfer library's multiplexing surface.
type Driver interface {
	SetSocketFunc(fn native.SocketFunc)
	SetTimerFunc(fn native.TimerFunc)
	Add(e *native.Easy) native.MCode
	Remove(e *native.Easy) native.MCode
	Assign(fd int, socketp any) native.MCode
	SocketAction(fd int, sel native.CSelect) (native.MCode, int)
	InfoRead() (*native.Msg, int)
	Close() native.MCode
}

var _ Driver = (*native.Multi)(nil)

// File: internal/native/codes.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package native

import "fmt"

// Code is the result of a single transfer.
type Code int

const (
	OK Code = iota
	UnsupportedProtocol
	FailedInit
	URLMalformat
	CouldntResolveHost
	CouldntConnect
	WeirdServerReply
	PartialFile
	HTTPReturnedError
	WriteError
	ReadError
	OutOfMemory
	OperationTimedOut
	AbortedByCallback
	BadFunctionArgument
	GotNothing
	SendError
	RecvError
	SendFailRewind
	Again
)

var codeText = [...]string{
	OK:                  "no error",
	UnsupportedProtocol: "unsupported protocol",
	FailedInit:          "failed initialization",
	URLMalformat:        "URL using bad/illegal format or missing URL",
	CouldntResolveHost:  "couldn't resolve host name",
	CouldntConnect:      "couldn't connect to server",
	WeirdServerReply:    "weird server reply",
	PartialFile:         "transferred a partial file",
	HTTPReturnedError:   "HTTP response code said error",
	WriteError:          "failed writing received data",
	ReadError:           "failed reading upload data",
	OutOfMemory:         "out of memory",
	OperationTimedOut:   "timeout was reached",
	AbortedByCallback:   "operation was aborted by an application callback",
	BadFunctionArgument: "a function was given a bad argument",
	GotNothing:          "server returned nothing (no headers, no data)",
	SendError:           "failed sending data to the peer",
	RecvError:           "failure when receiving data from the peer",
	SendFailRewind:      "send failed since rewinding of the data stream failed",
	Again:               "socket not ready for send/recv",
}

// Error implements error so a Code can travel as a cause.
func (c Code) Error() string {
	if c >= 0 && int(c) < len(codeText) {
		return codeText[c]
	}
	return fmt.Sprintf("unknown error %d", int(c))
}

func (c Code) String() string {
	return c.Error()
}

// MCode is the result of a Multi call.
type MCode int

const (
	MCallMultiPerform MCode = iota - 1
	MOK
	MBadHandle
	MBadEasyHandle
	MOutOfMemory
	MInternalError
	MBadSocket
	MAddedAlready
	MRecursiveAPICall
)

var mcodeText = map[MCode]string{
	MCallMultiPerform: "please call perform again",
	MOK:               "no error",
	MBadHandle:        "invalid multi handle",
	MBadEasyHandle:    "invalid easy handle",
	MOutOfMemory:      "out of memory",
	MInternalError:    "internal error",
	MBadSocket:        "invalid socket argument",
	MAddedAlready:     "the easy handle is already added to a multi handle",
	MRecursiveAPICall: "API function called from within callback",
}

func (c MCode) Error() string {
	if s, ok := mcodeText[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown multi error %d", int(c))
}

func (c MCode) String() string {
	return c.Error()
}

// Poll is what the library wants watched on a descriptor.
type Poll int

const (
	PollNone Poll = iota
	PollIn
	PollOut
	PollInOut
	PollRemove
)

func (p Poll) String() string {
	switch p {
	case PollNone:
		return "none"
	case PollIn:
		return "in"
	case PollOut:
		return "out"
	case PollInOut:
		return "inout"
	case PollRemove:
		return "remove"
	}
	return fmt.Sprintf("poll(%d)", int(p))
}

// CSelect is the readiness bitmask passed to SocketAction.
type CSelect int

const (
	CSelectIn CSelect = 1 << iota
	CSelectOut
	CSelectErr
)

// SocketTimeout is the descriptor value that drives expired timeouts.
const SocketTimeout = -1

// Pause bits for Easy.Pause.
type Pause int

const (
	PauseRecv Pause = 1 << 0
	PauseSend Pause = 1 << 2
	PauseAll        = PauseRecv | PauseSend
	PauseCont Pause = 0
)

// Callback sentinels.
const (
	WritePause     = 0x10000001
	WriteFuncError = -1

	ReadAbort = 0x10000000
	ReadPause = 0x10000001

	SeekOK       = 0
	SeekFail     = 1
	SeekCantSeek = 2

	ProgressContinue = 0
	ProgressAbort    = 1

	SockoptOK               = 0
	SockoptError            = 1
	SockoptAlreadyConnected = 2
)

// InfoType tags debug callback payloads.
type InfoType int

const (
	InfoText InfoType = iota
	InfoHeaderIn
	InfoHeaderOut
	InfoDataIn
	InfoDataOut
)

// SockType is the purpose passed to the sockopt callback.
type SockType int

const (
	SockTypeIPCXN SockType = iota
)

// Callbacks as the library sees them.
type (
	WriteFunc    func(p []byte) int
	HeaderFunc   func(line []byte) int
	ReadFunc     func(p []byte) int
	SeekFunc     func(offset int64, whence int) int
	ProgressFunc func(dlTotal, dlNow, ulTotal, ulNow int64) int
	DebugFunc    func(kind InfoType, data []byte)
	SockoptFunc  func(fd int, purpose SockType) int

	// SocketFunc is told what to watch on fd for easy. socketp is whatever
	// was Assign'ed to fd before, nil for a descriptor seen the first time.
	// Returning -1 fails the registration and aborts that transfer.
	SocketFunc func(easy *Easy, fd int, what Poll, socketp any) int

	// TimerFunc receives the time until the next SocketTimeout drive is due,
	// -1 for none.
	TimerFunc func(timeoutMs int64) int
)

// Msg reports one finished transfer.
type Msg struct {
	Easy   *Easy
	Result Code
}

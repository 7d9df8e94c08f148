// File: internal/native/xfer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-attempt transfer state machine. run advances a transfer as far as the
// socket allows without blocking and reports whether it finished.

package native

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

const (
	defaultConnectTimeout = 300 * time.Second
	defaultResolveTimeout = 10 * time.Second
	progressInterval      = time.Second
	recvBufferSize        = 16 * 1024
	uploadBufferSize      = 16 * 1024
	maxHeaderBytes        = 100 * 1024
)

type phase int

const (
	phaseInit phase = iota
	phaseResolve
	phaseConnect
	phaseConnecting
	phaseSend
	phaseRecv
	phaseDone
)

type bodyMode int

const (
	bodyHeaders bodyMode = iota // response headers not complete yet
	bodyNone
	bodyLength
	bodyChunked
	bodyUntilClose
)

type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkDataEnd
	chunkTrailer
)

type xfer struct {
	phase   phase
	result  Code
	running bool
	kick    bool

	start        time.Time
	deadline     time.Time
	connDeadline time.Time
	expire       time.Time
	lastProgress time.Time

	target target
	res    *resolver
	addrs  []net.IP
	next   int
	fd     int
	// lastErr is the most recent OS error, reported through the debug hook.
	lastErr error

	method string
	noBody bool
	req    *bytebufferpool.ByteBuffer
	reqOff int

	chunkedUp bool
	upScratch []byte
	upFrame   []byte
	upBuf     []byte
	upOff     int
	upSent    int64
	upLast    bool

	rbuf      []byte
	raw       []byte
	hdr       []byte
	line      []byte
	gotBytes  int64
	mode      bodyMode
	length    int64
	bodyRead  int64
	chunk     chunkState
	chunkLeft int64
	bodyDone  bool
	pending   []byte
}

func (st *xfer) due(now time.Time) bool {
	return st.phase != phaseDone && !st.expire.IsZero() && !st.expire.After(now)
}

// sendIdle reports whether nothing is buffered for the socket.
func (st *xfer) sendIdle() bool {
	return st.req != nil && st.reqOff >= len(st.req.B) && st.upOff >= len(st.upBuf)
}

func (st *xfer) remaining(now time.Time) time.Duration {
	var d time.Duration
	for _, t := range []time.Time{st.deadline, st.connDeadline} {
		if t.IsZero() {
			continue
		}
		if left := t.Sub(now); d == 0 || left < d {
			d = left
		}
	}
	return d
}

func (e *Easy) checkTimeouts(now time.Time) Code {
	st := e.st
	if !st.deadline.IsZero() && !now.Before(st.deadline) {
		e.debugText(fmt.Sprintf("Operation timed out after %d milliseconds", now.Sub(st.start).Milliseconds()))
		return OperationTimedOut
	}
	if st.phase <= phaseConnecting && !now.Before(st.connDeadline) {
		e.debugText(fmt.Sprintf("Connection timed out after %d milliseconds", now.Sub(st.start).Milliseconds()))
		return OperationTimedOut
	}
	return OK
}

func (e *Easy) nextExpire(now time.Time) time.Time {
	st := e.st
	var exp time.Time
	pick := func(t time.Time) {
		if !t.IsZero() && (exp.IsZero() || t.Before(exp)) {
			exp = t
		}
	}
	pick(st.deadline)
	if st.phase <= phaseConnecting {
		pick(st.connDeadline)
	}
	if e.progressEnabled() {
		pick(st.lastProgress.Add(progressInterval))
	}
	if st.kick {
		pick(now)
	}
	return exp
}

// run drives the transfer until it would block. It returns true with the
// result once the transfer is finished.
func (e *Easy) run(now time.Time) (bool, Code) {
	st := e.st
	if st.phase == phaseDone {
		return true, st.result
	}
	st.running = true
	defer func() { st.running = false }()
	st.kick = false
	st.expire = time.Time{}

	if code := e.checkTimeouts(now); code != OK {
		e.finish(code)
		return true, code
	}
	for {
		var (
			wait bool
			code Code
		)
		switch st.phase {
		case phaseInit:
			code = e.setup(now)
		case phaseResolve:
			wait, code = e.resolving(now)
		case phaseConnect:
			code = e.connect()
		case phaseConnecting:
			wait, code = e.connecting()
		case phaseSend:
			wait, code = e.send()
		case phaseRecv:
			wait, code = e.recv()
		case phaseDone:
			return true, st.result
		}
		if code != OK {
			e.finish(code)
			return true, code
		}
		if wait {
			break
		}
	}
	if code := e.progress(now); code != OK {
		e.finish(code)
		return true, code
	}
	st.expire = e.nextExpire(now)
	return false, OK
}

func (e *Easy) finish(code Code) {
	st := e.st
	if st.phase == phaseDone {
		return
	}
	e.closeSocket()
	if st.req != nil {
		bytebufferpool.Put(st.req)
		st.req = nil
	}
	st.phase = phaseDone
	st.result = code
	st.expire = time.Time{}
	st.raw, st.hdr, st.line, st.pending, st.rbuf = nil, nil, nil, nil, nil
	e.info.TotalTime = time.Since(st.start)
	if code != OK {
		if st.lastErr != nil {
			e.debugText(fmt.Sprintf("%s (%v)", code, st.lastErr))
		} else {
			e.debugText(code.Error())
		}
	}
}

func (e *Easy) setup(now time.Time) Code {
	st := e.st
	t, code := parseTarget(e.set.url)
	if code != OK {
		return code
	}
	st.target = t
	e.info.EffectiveURL = t.url
	if code := e.rewind(); code != OK {
		return code
	}
	e.buildRequest()
	if addrs, ok := e.knownAddrs(now); ok {
		st.addrs = addrs
		st.phase = phaseConnect
		return OK
	}
	timeout := defaultResolveTimeout
	if d := st.remaining(now); d > 0 && d < timeout {
		timeout = d
	}
	r, err := startResolve(t.host, timeout)
	if err != nil {
		st.lastErr = err
		return CouldntResolveHost
	}
	st.res, st.fd = r, r.fd
	st.phase = phaseResolve
	return OK
}

func (e *Easy) rewind() Code {
	if !e.set.upload || e.set.post || e.performed < 2 || e.cb.seek == nil {
		return OK
	}
	switch e.cb.seek(0, io.SeekStart) {
	case SeekOK, SeekCantSeek:
		return OK
	}
	return SendFailRewind
}

// knownAddrs answers literal addresses and shared cache hits without a lookup.
func (e *Easy) knownAddrs(now time.Time) ([]net.IP, bool) {
	host := e.st.target.host
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, true
	}
	if share := e.set.share; share != nil {
		return share.lookup(host, now)
	}
	return nil, false
}

// resolving waits on the background lookup started by setup.
func (e *Easy) resolving(now time.Time) (bool, Code) {
	st := e.st
	addrs, done, err := st.res.result()
	if !done {
		return true, OK
	}
	e.closeSocket()
	if err != nil || len(addrs) == 0 {
		st.lastErr = err
		return false, CouldntResolveHost
	}
	if share := e.set.share; share != nil {
		share.store(st.target.host, addrs, now)
	}
	st.addrs = addrs
	st.phase = phaseConnect
	return false, OK
}

func (e *Easy) connect() Code {
	st := e.st
	for st.next < len(st.addrs) {
		ip := st.addrs[st.next]
		st.next++
		fd, sa, err := openSocket(ip, st.target.port)
		if err != nil {
			st.lastErr = err
			continue
		}
		st.fd = fd
		e.info.PrimaryIP = ip.String()

		connected := false
		if e.cb.sockopt != nil {
			switch e.cb.sockopt(fd, SockTypeIPCXN) {
			case SockoptOK:
			case SockoptAlreadyConnected:
				connected = true
			default:
				e.closeSocket()
				return AbortedByCallback
			}
		}
		if !connected {
			err = unix.Connect(fd, sa)
			switch {
			case err == nil:
			case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
				st.phase = phaseConnecting
				return OK
			default:
				st.lastErr = err
				e.closeSocket()
				continue
			}
		}
		e.connected()
		return OK
	}
	return CouldntConnect
}

// connecting checks an in-progress connect.
func (e *Easy) connecting() (bool, Code) {
	st := e.st
	soerr, err := unix.GetsockoptInt(st.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soerr != 0 {
		err = unix.Errno(soerr)
	}
	if err == nil {
		if _, err = unix.Getpeername(st.fd); errors.Is(err, unix.ENOTCONN) {
			return true, OK
		}
	}
	if err != nil {
		st.lastErr = err
		e.closeSocket()
		st.phase = phaseConnect
		return false, OK
	}
	e.connected()
	return false, OK
}

func (e *Easy) connected() {
	st := e.st
	_ = unix.SetsockoptInt(st.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	e.debugText(fmt.Sprintf("Connected to %s (%s) port %d", st.target.host, e.info.PrimaryIP, st.target.port))
	if e.set.connectOnly {
		e.conn = e.releaseSocket()
		e.info.ActiveSocket = e.conn
		e.finish(OK)
		return
	}
	st.phase = phaseSend
}

func (e *Easy) send() (bool, Code) {
	st := e.st
	if st.reqOff < len(st.req.B) {
		wait, code := st.write(st.req.B, &st.reqOff)
		if wait || code != OK {
			return wait, code
		}
		if e.set.post {
			e.info.SizeUpload += int64(len(e.set.postFields))
		}
	}
	if e.set.upload && !e.set.post {
		if wait, code := e.sendUpload(); wait || code != OK {
			return wait, code
		}
	}
	st.phase = phaseRecv
	return false, OK
}

// write pushes b[*off:] to the socket.
func (st *xfer) write(b []byte, off *int) (bool, Code) {
	for *off < len(b) {
		n, err := unix.Write(st.fd, b[*off:])
		switch err {
		case nil:
			*off += n
			continue
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return true, OK
		}
		st.lastErr = err
		return false, SendError
	}
	return false, OK
}

func (e *Easy) sendUpload() (bool, Code) {
	st := e.st
	for {
		if wait, code := st.write(st.upBuf, &st.upOff); wait || code != OK {
			return wait, code
		}
		if st.upLast {
			return false, OK
		}
		if e.paused&PauseSend != 0 {
			return true, OK
		}
		if code := e.fillUpload(); code != OK {
			return false, code
		}
	}
}

func (e *Easy) fillUpload() Code {
	st := e.st
	st.upBuf, st.upOff = nil, 0
	p := st.upScratch
	if !st.chunkedUp {
		left := e.set.inFileSize - st.upSent
		if left <= 0 {
			st.upLast = true
			return OK
		}
		if int64(len(p)) > left {
			p = p[:left]
		}
	}
	n := 0
	if e.cb.read != nil {
		n = e.cb.read(p)
	}
	switch {
	case n == ReadAbort:
		return AbortedByCallback
	case n == ReadPause:
		e.paused |= PauseSend
		return OK
	case n < 0 || n > len(p):
		return ReadError
	case n == 0:
		if !st.chunkedUp {
			return ReadError
		}
		st.upBuf = append(st.upFrame[:0], "0\r\n\r\n"...)
		st.upLast = true
		return OK
	}
	data := p[:n]
	st.upSent += int64(n)
	e.info.SizeUpload += int64(n)
	e.debug(InfoDataOut, data)
	if st.chunkedUp {
		st.upFrame = appendChunk(st.upFrame[:0], data)
		st.upBuf = st.upFrame
		return OK
	}
	st.upBuf = data
	if st.upSent == e.set.inFileSize {
		st.upLast = true
	}
	return OK
}

func (e *Easy) recv() (bool, Code) {
	st := e.st
	for {
		paused := e.paused&PauseRecv != 0
		switch {
		case len(st.pending) > 0:
			if paused {
				return true, OK
			}
			p := st.pending
			st.pending = nil
			if code := e.deliver(p); code != OK {
				return false, code
			}
			continue
		case st.bodyDone:
			e.finish(OK)
			return false, OK
		case paused:
			return true, OK
		case len(st.raw) > 0:
			if code := e.consume(); code != OK {
				return false, code
			}
			continue
		}
		n, err := unix.Read(st.fd, st.rbuf)
		switch err {
		case nil:
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return true, OK
		default:
			st.lastErr = err
			return false, RecvError
		}
		if n == 0 {
			if code := e.eof(); code != OK {
				return false, code
			}
			continue
		}
		st.gotBytes += int64(n)
		st.raw = st.rbuf[:n]
	}
}

func (e *Easy) eof() Code {
	st := e.st
	switch st.mode {
	case bodyHeaders:
		if st.gotBytes == 0 {
			return GotNothing
		}
		return WeirdServerReply
	case bodyLength:
		if st.bodyRead < st.length {
			return PartialFile
		}
	case bodyChunked:
		return PartialFile
	}
	st.bodyDone = true
	return OK
}

// deliver hands body bytes to the write callback. WritePause keeps a copy
// for redelivery once receiving is resumed.
func (e *Easy) deliver(data []byte) Code {
	if len(data) == 0 {
		return OK
	}
	if e.cb.write != nil {
		r := e.cb.write(data)
		if r == WritePause {
			e.st.pending = append([]byte(nil), data...)
			e.paused |= PauseRecv
			return OK
		}
		if r != len(data) {
			return WriteError
		}
	}
	e.debug(InfoDataIn, data)
	e.info.SizeDownload += int64(len(data))
	return OK
}

func (e *Easy) progressEnabled() bool {
	return !e.set.noProgress && e.cb.progress != nil
}

func (e *Easy) progress(now time.Time) Code {
	if !e.progressEnabled() {
		return OK
	}
	e.st.lastProgress = now
	dlTotal := e.info.ContentLength
	if dlTotal < 0 {
		dlTotal = 0
	}
	var ulTotal int64
	switch {
	case e.set.post:
		ulTotal = int64(len(e.set.postFields))
	case e.set.upload && e.set.inFileSize > 0:
		ulTotal = e.set.inFileSize
	}
	if e.cb.progress(dlTotal, e.info.SizeDownload, ulTotal, e.info.SizeUpload) != ProgressContinue {
		return AbortedByCallback
	}
	return OK
}

// File: internal/native/http.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP/1.1 request serialisation and incremental response parsing.

package native

import (
	"bytes"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/momentics/hioload-xfer/internal/locale"
	"github.com/valyala/bytebufferpool"
)

var headerEnd = []byte("\r\n\r\n")

type target struct {
	host       string // ASCII form, brackets stripped
	port       int
	path       string
	hostHeader string
	url        string
}

func parseTarget(raw string) (target, Code) {
	if raw == "" {
		return target{}, URLMalformat
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, URLMalformat
	}
	if !strings.EqualFold(u.Scheme, "http") {
		return target{}, UnsupportedProtocol
	}
	host := u.Hostname()
	if host == "" {
		return target{}, URLMalformat
	}
	ascii, err := locale.ToASCII(host)
	if err != nil {
		return target{}, URLMalformat
	}
	port := 80
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return target{}, URLMalformat
		}
		port = n
	}
	hostHeader := ascii
	if strings.Contains(ascii, ":") {
		hostHeader = "[" + ascii + "]"
	}
	if port != 80 {
		hostHeader = net.JoinHostPort(ascii, strconv.Itoa(port))
	}
	u.Scheme = "http"
	u.Host = hostHeader
	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	return target{
		host:       ascii,
		port:       port,
		path:       u.RequestURI(),
		hostHeader: hostHeader,
		url:        u.String(),
	}, OK
}

func (e *Easy) buildRequest() {
	st := e.st
	set := &e.set

	method := "GET"
	switch {
	case set.customRequest != "":
		method = set.customRequest
	case set.noBody:
		method = "HEAD"
	case set.post:
		method = "POST"
	case set.upload:
		method = "PUT"
	}
	st.method = method
	st.noBody = set.noBody || method == "HEAD"

	user := make(map[string]bool, len(set.headers))
	for _, h := range set.headers {
		if name, _, ok := strings.Cut(h, ":"); ok {
			user[strings.ToLower(strings.TrimSpace(name))] = true
		}
	}

	b := bytebufferpool.Get()
	header := func(name, value string) {
		if user[strings.ToLower(name)] {
			return
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(st.target.path)
	b.WriteString(" HTTP/1.1\r\n")
	header("Host", st.target.hostHeader)
	if set.userAgent != "" {
		header("User-Agent", set.userAgent)
	}
	header("Accept", "*/*")
	switch {
	case set.post:
		header("Content-Length", strconv.Itoa(len(set.postFields)))
		header("Content-Type", "application/x-www-form-urlencoded")
	case set.upload && set.inFileSize >= 0:
		header("Content-Length", strconv.FormatInt(set.inFileSize, 10))
	case set.upload:
		header("Transfer-Encoding", "chunked")
		st.chunkedUp = true
	}
	for _, h := range set.headers {
		_, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(value) == "" {
			// "Name:" only suppresses the built-in header.
			continue
		}
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	header("Connection", "close")
	b.WriteString("\r\n")
	e.debug(InfoHeaderOut, b.B)

	if set.post {
		b.Write(set.postFields)
	}
	st.req = b
}

// consume feeds buffered response bytes through the parser until they run
// out, the body completes or the receiving side is paused.
func (e *Easy) consume() Code {
	st := e.st
	for len(st.raw) > 0 && !st.bodyDone && len(st.pending) == 0 && e.paused&PauseRecv == 0 {
		var code Code
		switch st.mode {
		case bodyHeaders:
			code = e.consumeHeaders()
		case bodyLength:
			code = e.consumeLength()
		case bodyChunked:
			code = e.consumeChunked()
		case bodyUntilClose:
			data := st.raw
			st.raw = nil
			code = e.deliver(data)
		default:
			st.raw = nil
		}
		if code != OK {
			return code
		}
	}
	return OK
}

func (e *Easy) consumeHeaders() Code {
	st := e.st
	st.hdr = append(st.hdr, st.raw...)
	st.raw = nil
	end := bytes.Index(st.hdr, headerEnd)
	if end < 0 {
		if len(st.hdr) > maxHeaderBytes {
			return WeirdServerReply
		}
		return OK
	}
	block := st.hdr[:end+len(headerEnd)]
	st.raw = st.hdr[end+len(headerEnd):]
	st.hdr = nil
	return e.headers(block)
}

// headers handles one complete response header block.
func (e *Easy) headers(block []byte) Code {
	st := e.st
	e.debug(InfoHeaderIn, block)

	lines := splitLines(block)
	status, ok := parseStatusLine(lines[0])
	if !ok {
		return WeirdServerReply
	}
	length := int64(-1)
	chunked := false
	for i, line := range lines {
		if e.cb.header != nil && e.cb.header(line) != len(line) {
			return WriteError
		}
		if i == 0 {
			continue
		}
		name, value, ok := strings.Cut(string(bytes.TrimRight(line, "\r\n")), ":")
		if !ok {
			continue
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		switch {
		case strings.EqualFold(name, "Content-Length"):
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return WeirdServerReply
			}
			length = n
		case strings.EqualFold(name, "Transfer-Encoding"):
			for _, tok := range strings.Split(value, ",") {
				if strings.EqualFold(strings.TrimSpace(tok), "chunked") {
					chunked = true
				}
			}
		}
	}

	if status >= 100 && status < 200 && status != 101 {
		// Interim response, the final one follows.
		return OK
	}
	e.info.ResponseCode = status
	if e.set.failOnError && status >= 400 {
		return HTTPReturnedError
	}
	if !chunked && length >= 0 {
		e.info.ContentLength = length
	}
	switch {
	case st.noBody || status == 101 || status == 204 || status == 304:
		st.mode = bodyNone
		st.bodyDone = true
	case chunked:
		st.mode = bodyChunked
		st.chunk = chunkSize
	case length >= 0:
		st.mode = bodyLength
		st.length = length
		st.bodyDone = length == 0
	default:
		st.mode = bodyUntilClose
	}
	return OK
}

func (e *Easy) consumeLength() Code {
	st := e.st
	n := st.length - st.bodyRead
	if int64(len(st.raw)) < n {
		n = int64(len(st.raw))
	}
	data := st.raw[:n]
	st.raw = st.raw[n:]
	st.bodyRead += n
	if st.bodyRead == st.length {
		st.bodyDone = true
	}
	return e.deliver(data)
}

func (e *Easy) consumeChunked() Code {
	st := e.st
	for len(st.raw) > 0 && !st.bodyDone {
		switch st.chunk {
		case chunkSize:
			line, ok := st.takeLine()
			if !ok {
				return lineOverflow(st)
			}
			if i := bytes.IndexByte(line, ';'); i >= 0 {
				line = line[:i]
			}
			n, err := strconv.ParseInt(string(bytes.TrimSpace(line)), 16, 64)
			if err != nil || n < 0 {
				return RecvError
			}
			if n == 0 {
				st.chunk = chunkTrailer
			} else {
				st.chunkLeft = n
				st.chunk = chunkData
			}
		case chunkData:
			n := st.chunkLeft
			if int64(len(st.raw)) < n {
				n = int64(len(st.raw))
			}
			data := st.raw[:n]
			st.raw = st.raw[n:]
			st.chunkLeft -= n
			st.bodyRead += n
			if st.chunkLeft == 0 {
				st.chunk = chunkDataEnd
			}
			if code := e.deliver(data); code != OK {
				return code
			}
			if len(st.pending) > 0 || e.paused&PauseRecv != 0 {
				return OK
			}
		case chunkDataEnd:
			line, ok := st.takeLine()
			if !ok {
				return lineOverflow(st)
			}
			if len(bytes.TrimSpace(line)) != 0 {
				return RecvError
			}
			st.chunk = chunkSize
		case chunkTrailer:
			line, ok := st.takeLine()
			if !ok {
				return lineOverflow(st)
			}
			if len(bytes.TrimSpace(line)) == 0 {
				st.bodyDone = true
			}
		}
	}
	return OK
}

func lineOverflow(st *xfer) Code {
	if len(st.line) > maxHeaderBytes {
		return RecvError
	}
	return OK
}

// takeLine returns the next LF-terminated line, carrying partial lines over
// between reads.
func (st *xfer) takeLine() ([]byte, bool) {
	i := bytes.IndexByte(st.raw, '\n')
	if i < 0 {
		st.line = append(st.line, st.raw...)
		st.raw = nil
		return nil, false
	}
	line := append(st.line, st.raw[:i+1]...)
	st.raw = st.raw[i+1:]
	st.line = nil
	return line, true
}

func splitLines(block []byte) [][]byte {
	var lines [][]byte
	for len(block) > 0 {
		i := bytes.IndexByte(block, '\n')
		if i < 0 {
			lines = append(lines, block)
			break
		}
		lines = append(lines, block[:i+1])
		block = block[i+1:]
	}
	return lines
}

func parseStatusLine(line []byte) (int, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, []byte("HTTP/")) {
		return 0, false
	}
	sp := bytes.IndexByte(line, ' ')
	if sp < 0 || len(line) < sp+4 {
		return 0, false
	}
	code := line[sp+1 : sp+4]
	if len(line) > sp+4 && line[sp+4] != ' ' {
		return 0, false
	}
	status, err := strconv.Atoi(string(code))
	if err != nil || status < 100 || status > 999 {
		return 0, false
	}
	return status, true
}

func appendChunk(dst, data []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(data)), 16)
	dst = append(dst, '\r', '\n')
	dst = append(dst, data...)
	return append(dst, '\r', '\n')
}

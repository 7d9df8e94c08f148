//go:build linux
// +build linux

package native

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/momentics/hioload-xfer/internal/locale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEasy(t *testing.T, url string) (*Easy, *strings.Builder) {
	t.Helper()
	e := NewEasy()
	t.Cleanup(e.Cleanup)
	var body strings.Builder
	require.Equal(t, OK, e.Setopt(OptURL, url))
	require.Equal(t, OK, e.Setopt(OptWriteFunction, WriteFunc(func(p []byte) int {
		body.Write(p)
		return len(p)
	})))
	return e, &body
}

func TestPerform_GetBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hioload-test", r.UserAgent())
		assert.Equal(t, "yes", r.Header.Get("X-Probe"))
		fmt.Fprint(w, "hello world")
	}))
	defer srv.Close()

	e, body := newEasy(t, srv.URL+"/greeting")
	require.Equal(t, OK, e.Setopt(OptUserAgent, "hioload-test"))
	require.Equal(t, OK, e.Setopt(OptHTTPHeader, []string{"X-Probe: yes"}))

	var statusLine string
	require.Equal(t, OK, e.Setopt(OptHeaderFunction, HeaderFunc(func(line []byte) int {
		if statusLine == "" {
			statusLine = string(line)
		}
		return len(line)
	})))

	require.Equal(t, OK, e.Perform())
	info := e.Info()
	assert.Equal(t, "hello world", body.String())
	assert.Equal(t, 200, info.ResponseCode)
	assert.Equal(t, int64(11), info.SizeDownload)
	assert.Equal(t, int64(11), info.ContentLength)
	assert.Equal(t, "127.0.0.1", info.PrimaryIP)
	assert.True(t, strings.HasPrefix(statusLine, "HTTP/1.1 200"))
}

func TestPerform_ChunkedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "part%d;", i)
			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	e, body := newEasy(t, srv.URL)
	require.Equal(t, OK, e.Perform())
	assert.Equal(t, "part0;part1;part2;part3;part4;", body.String())
	assert.Equal(t, int64(-1), e.Info().ContentLength)
}

func TestPerform_FailOnError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	e, _ := newEasy(t, srv.URL)
	require.Equal(t, OK, e.Perform(), "an error status is still a completed transfer")
	assert.Equal(t, 404, e.Info().ResponseCode)

	require.Equal(t, OK, e.Setopt(OptFailOnError, true))
	assert.Equal(t, HTTPReturnedError, e.Perform())
}

func TestPerform_HeadHasNoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "1000")
	}))
	defer srv.Close()

	e, body := newEasy(t, srv.URL)
	require.Equal(t, OK, e.Setopt(OptNoBody, true))
	require.Equal(t, OK, e.Perform())
	assert.Empty(t, body.String())
	assert.Equal(t, int64(1000), e.Info().ContentLength)
}

func TestPerform_PostFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "%s %s", r.Method, b)
	}))
	defer srv.Close()

	e, body := newEasy(t, srv.URL)
	require.Equal(t, OK, e.Setopt(OptPostFields, []byte("a=1&b=2")))
	require.Equal(t, OK, e.Perform())
	assert.Equal(t, "POST a=1&b=2", body.String())
	assert.Equal(t, int64(7), e.Info().SizeUpload)
}

func TestPerform_ChunkedUploadAndRewind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "%s %v %s", r.Method, r.TransferEncoding, b)
	}))
	defer srv.Close()

	payload := strings.NewReader("upload-me")
	e, body := newEasy(t, srv.URL)
	require.Equal(t, OK, e.Setopt(OptUpload, true))
	require.Equal(t, OK, e.Setopt(OptReadFunction, ReadFunc(func(p []byte) int {
		n, _ := payload.Read(p)
		return n
	})))
	seeks := 0
	require.Equal(t, OK, e.Setopt(OptSeekFunction, SeekFunc(func(off int64, whence int) int {
		seeks++
		if _, err := payload.Seek(off, whence); err != nil {
			return SeekFail
		}
		return SeekOK
	})))

	require.Equal(t, OK, e.Perform())
	assert.Equal(t, "PUT [chunked] upload-me", body.String())
	assert.Zero(t, seeks, "first attempt needs no rewind")

	body.Reset()
	require.Equal(t, OK, e.Perform())
	assert.Equal(t, "PUT [chunked] upload-me", body.String())
	assert.Equal(t, 1, seeks)
}

func TestPerform_SeekFailureFailsRewind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
	}))
	defer srv.Close()

	e, _ := newEasy(t, srv.URL)
	require.Equal(t, OK, e.Setopt(OptUpload, true))
	require.Equal(t, OK, e.Setopt(OptInFileSize, int64(0)))
	require.Equal(t, OK, e.Setopt(OptSeekFunction, SeekFunc(func(int64, int) int { return SeekFail })))
	require.Equal(t, OK, e.Perform())
	assert.Equal(t, SendFailRewind, e.Perform())
}

func TestPerform_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	e, _ := newEasy(t, "http://"+addr+"/")
	assert.Equal(t, CouldntConnect, e.Perform())
}

func TestPerform_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	e, _ := newEasy(t, srv.URL)
	require.Equal(t, OK, e.Setopt(OptTimeoutMS, int64(100)))
	start := time.Now()
	assert.Equal(t, OperationTimedOut, e.Perform())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPerform_WriteCallbackShortCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data")
	}))
	defer srv.Close()

	e, _ := newEasy(t, srv.URL)
	require.Equal(t, OK, e.Setopt(OptWriteFunction, WriteFunc(func(p []byte) int { return 0 })))
	assert.Equal(t, WriteError, e.Perform())
}

func TestPerform_ProgressAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data")
	}))
	defer srv.Close()

	e, _ := newEasy(t, srv.URL)
	require.Equal(t, OK, e.Setopt(OptNoProgress, false))
	require.Equal(t, OK, e.Setopt(OptProgressFunction, ProgressFunc(func(_, _, _, _ int64) int {
		return ProgressAbort
	})))
	assert.Equal(t, AbortedByCallback, e.Perform())
}

func TestPerform_PausedWriteIsRedelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "paused-body")
	}))
	defer srv.Close()

	e := NewEasy()
	t.Cleanup(e.Cleanup)
	var got []string
	calls := 0
	paused := false
	require.Equal(t, OK, e.Setopt(OptURL, srv.URL))
	require.Equal(t, OK, e.Setopt(OptWriteFunction, WriteFunc(func(p []byte) int {
		calls++
		if calls == 1 {
			paused = true
			return WritePause
		}
		got = append(got, string(p))
		return len(p)
	})))
	require.Equal(t, OK, e.Setopt(OptNoProgress, false))
	require.Equal(t, OK, e.Setopt(OptProgressFunction, ProgressFunc(func(_, _, _, _ int64) int {
		if paused {
			paused = false
			e.Pause(PauseCont)
		}
		return ProgressContinue
	})))

	require.Equal(t, OK, e.Perform())
	assert.Equal(t, "paused-body", strings.Join(got, ""))
}

func TestPerform_GotNothing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(c)
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		_ = c.Close()
	}()

	e, _ := newEasy(t, "http://"+ln.Addr().String()+"/")
	assert.Equal(t, GotNothing, e.Perform())
}

func TestPerform_BadURLs(t *testing.T) {
	e := NewEasy()
	defer e.Cleanup()
	assert.Equal(t, URLMalformat, e.Perform())

	require.Equal(t, OK, e.Setopt(OptURL, "ftp://example.com/"))
	assert.Equal(t, UnsupportedProtocol, e.Perform())

	require.Equal(t, OK, e.Setopt(OptURL, "http://example.com:99999/"))
	assert.Equal(t, URLMalformat, e.Perform())
}

func TestPerform_ShareCachesResolution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()
	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)

	share := NewShare()
	e, body := newEasy(t, "http://localhost:"+port+"/")
	require.Equal(t, OK, e.Setopt(OptShare, share))
	require.Equal(t, OK, e.Perform())
	assert.Equal(t, "ok", body.String())
	assert.Equal(t, 1, share.Len())
}

func TestSendRecv_ConnectOnly(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.Copy(c, c)
	}()

	e := NewEasy()
	defer e.Cleanup()
	require.Equal(t, OK, e.Setopt(OptURL, "http://"+ln.Addr().String()))
	require.Equal(t, OK, e.Setopt(OptConnectOnly, true))
	require.Equal(t, OK, e.Perform())
	require.GreaterOrEqual(t, e.Info().ActiveSocket, 0)

	n, code := e.Send([]byte("ping"))
	require.Equal(t, OK, code)
	require.Equal(t, 4, n)

	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, code = e.Recv(buf)
		if code != Again {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, OK, code)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestSendRecv_WithoutConnectOnly(t *testing.T) {
	e := NewEasy()
	_, code := e.Send([]byte("x"))
	assert.Equal(t, BadFunctionArgument, code)
	_, code = e.Recv(make([]byte, 1))
	assert.Equal(t, BadFunctionArgument, code)
}

func TestSetopt_TypeMismatch(t *testing.T) {
	e := NewEasy()
	assert.Equal(t, BadFunctionArgument, e.Setopt(OptURL, 42))
	assert.Equal(t, BadFunctionArgument, e.Setopt(OptTimeoutMS, int64(-1)))
	assert.Equal(t, BadFunctionArgument, e.Setopt(OptWriteFunction, "nope"))
	assert.Equal(t, OK, e.Setopt(OptWriteFunction, nil))
	assert.Equal(t, BadFunctionArgument, e.Setopt(Opt(999), nil))
}

func TestDup_CopiesSettingsNotState(t *testing.T) {
	e := NewEasy()
	require.Equal(t, OK, e.Setopt(OptURL, "http://example.com/"))
	require.Equal(t, OK, e.Setopt(OptHTTPHeader, []string{"A: b"}))
	d := e.Dup()
	require.Equal(t, OK, e.Setopt(OptHTTPHeader, []string{"C: d"}))

	assert.Equal(t, "http://example.com/", d.set.url)
	assert.Equal(t, []string{"A: b"}, d.set.headers)
	assert.Nil(t, d.st)
}

func TestParseTarget(t *testing.T) {
	tg, code := parseTarget("example.com")
	require.Equal(t, OK, code)
	assert.Equal(t, "/", tg.path)
	assert.Equal(t, 80, tg.port)
	assert.Equal(t, "http://example.com/", tg.url)

	_, code = parseTarget("http://bücher.example/")
	assert.Equal(t, URLMalformat, code, "unicode host needs a conversion context")

	s := locale.Acquire()
	tg, code = parseTarget("http://bücher.example:8080/a?b=1")
	s.Release()
	require.Equal(t, OK, code)
	assert.Equal(t, "xn--bcher-kva.example", tg.host)
	assert.Equal(t, "xn--bcher-kva.example:8080", tg.hostHeader)
	assert.Equal(t, "/a?b=1", tg.path)

	tg, code = parseTarget("http://[::1]:81/")
	require.Equal(t, OK, code)
	assert.Equal(t, "::1", tg.host)
	assert.Equal(t, "[::1]:81", tg.hostHeader)
}

func TestParseStatusLine(t *testing.T) {
	for line, want := range map[string]int{
		"HTTP/1.1 200 OK\r\n":  200,
		"HTTP/1.0 404\r\n":     404,
		"HTTP/1.1 2000 no\r\n": 0,
		"ICY 200 OK\r\n":       0,
	} {
		got, _ := parseStatusLine([]byte(line))
		assert.Equal(t, want, got, line)
	}
}

func TestGlobalInit_SecondCallFails(t *testing.T) {
	require.Equal(t, OK, GlobalInit(InitDefault))
	defer GlobalCleanup()
	assert.Equal(t, FailedInit, GlobalInit(InitNothing))
	ok, flags := Initialized()
	assert.True(t, ok)
	assert.Equal(t, InitDefault, flags)
}

// File: internal/native/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package native

import "time"

// Opt identifies a settable property of an Easy.
type Opt int

const (
	OptURL Opt = iota + 1
	OptCustomRequest
	OptUserAgent
	OptTimeoutMS
	OptConnectTimeoutMS
	OptNoBody
	OptUpload
	OptInFileSize
	OptConnectOnly
	OptFailOnError
	OptVerbose
	OptNoProgress
	OptHTTPHeader
	OptPostFields
	OptShare
	OptWriteFunction
	OptHeaderFunction
	OptReadFunction
	OptSeekFunction
	OptProgressFunction
	OptDebugFunction
	OptSockoptFunction
)

// settings is the transfer configuration, copied verbatim by Dup.
type settings struct {
	url            string
	customRequest  string
	userAgent      string
	timeout        time.Duration
	connectTimeout time.Duration
	noBody         bool
	upload         bool
	inFileSize     int64
	connectOnly    bool
	failOnError    bool
	verbose        bool
	noProgress     bool
	headers        []string
	postFields     []byte
	post           bool
	share          *Share
}

func defaultSettings() settings {
	return settings{
		inFileSize: -1,
		noProgress: true,
	}
}

type callbacks struct {
	write    WriteFunc
	header   HeaderFunc
	read     ReadFunc
	seek     SeekFunc
	progress ProgressFunc
	debug    DebugFunc
	sockopt  SockoptFunc
}

// Setopt sets one option. Integer options accept int64; boolean options
// accept bool or a non-zero int64; a nil function clears the callback.
func (e *Easy) Setopt(opt Opt, v any) Code {
	switch opt {
	case OptURL:
		return setString(&e.set.url, v)
	case OptCustomRequest:
		return setString(&e.set.customRequest, v)
	case OptUserAgent:
		return setString(&e.set.userAgent, v)
	case OptTimeoutMS:
		return setMillis(&e.set.timeout, v)
	case OptConnectTimeoutMS:
		return setMillis(&e.set.connectTimeout, v)
	case OptNoBody:
		return setBool(&e.set.noBody, v)
	case OptUpload:
		return setBool(&e.set.upload, v)
	case OptInFileSize:
		n, ok := v.(int64)
		if !ok {
			return BadFunctionArgument
		}
		e.set.inFileSize = n
		return OK
	case OptConnectOnly:
		return setBool(&e.set.connectOnly, v)
	case OptFailOnError:
		return setBool(&e.set.failOnError, v)
	case OptVerbose:
		return setBool(&e.set.verbose, v)
	case OptNoProgress:
		return setBool(&e.set.noProgress, v)
	case OptHTTPHeader:
		l, ok := v.([]string)
		if !ok && v != nil {
			return BadFunctionArgument
		}
		e.set.headers = append([]string(nil), l...)
		return OK
	case OptPostFields:
		if v == nil {
			e.set.postFields, e.set.post = nil, false
			return OK
		}
		b, ok := v.([]byte)
		if !ok {
			return BadFunctionArgument
		}
		e.set.postFields = append(make([]byte, 0, len(b)), b...)
		e.set.post = true
		return OK
	case OptShare:
		s, ok := v.(*Share)
		if !ok && v != nil {
			return BadFunctionArgument
		}
		e.set.share = s
		return OK
	case OptWriteFunction:
		return setFunc(&e.cb.write, v)
	case OptHeaderFunction:
		return setFunc(&e.cb.header, v)
	case OptReadFunction:
		return setFunc(&e.cb.read, v)
	case OptSeekFunction:
		return setFunc(&e.cb.seek, v)
	case OptProgressFunction:
		return setFunc(&e.cb.progress, v)
	case OptDebugFunction:
		return setFunc(&e.cb.debug, v)
	case OptSockoptFunction:
		return setFunc(&e.cb.sockopt, v)
	}
	return BadFunctionArgument
}

func setString(dst *string, v any) Code {
	s, ok := v.(string)
	if !ok {
		return BadFunctionArgument
	}
	*dst = s
	return OK
}

func setBool(dst *bool, v any) Code {
	switch b := v.(type) {
	case bool:
		*dst = b
	case int64:
		*dst = b != 0
	default:
		return BadFunctionArgument
	}
	return OK
}

func setMillis(dst *time.Duration, v any) Code {
	n, ok := v.(int64)
	if !ok || n < 0 {
		return BadFunctionArgument
	}
	*dst = time.Duration(n) * time.Millisecond
	return OK
}

func setFunc[F any](dst *F, v any) Code {
	if v == nil {
		var zero F
		*dst = zero
		return OK
	}
	f, ok := v.(F)
	if !ok {
		return BadFunctionArgument
	}
	*dst = f
	return OK
}

// File: transfer/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transfer

import (
	"fmt"
	"strings"
	"time"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/internal/native"
)

// Kind is the value type an option accepts.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFunc
	KindList
	KindBlob
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFunc:
		return "func"
	case KindList:
		return "list"
	case KindBlob:
		return "blob"
	case KindHandle:
		return "handle"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// OptionID names a settable transfer option.
type OptionID int

const (
	OptURL OptionID = iota + 1
	OptCustomRequest
	OptUserAgent
	OptTimeout
	OptConnectTimeout
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

// Option describes one registry entry.
type Option struct {
	ID     OptionID
	Name   string
	Kind   Kind
	native native.Opt
}

var optionTable = []Option{
	{OptURL, "url", KindString, native.OptURL},
	{OptCustomRequest, "customrequest", KindString, native.OptCustomRequest},
	{OptUserAgent, "useragent", KindString, native.OptUserAgent},
	{OptTimeout, "timeout_ms", KindInt, native.OptTimeoutMS},
	{OptConnectTimeout, "connecttimeout_ms", KindInt, native.OptConnectTimeoutMS},
	{OptNoBody, "nobody", KindInt, native.OptNoBody},
	{OptUpload, "upload", KindInt, native.OptUpload},
	{OptInFileSize, "infilesize", KindInt, native.OptInFileSize},
	{OptConnectOnly, "connect_only", KindInt, native.OptConnectOnly},
	{OptFailOnError, "failonerror", KindInt, native.OptFailOnError},
	{OptVerbose, "verbose", KindInt, native.OptVerbose},
	{OptNoProgress, "noprogress", KindInt, native.OptNoProgress},
	{OptHTTPHeader, "httpheader", KindList, native.OptHTTPHeader},
	{OptPostFields, "postfields", KindBlob, native.OptPostFields},
	{OptShare, "share", KindHandle, native.OptShare},
	{OptWriteFunction, "writefunction", KindFunc, native.OptWriteFunction},
	{OptHeaderFunction, "headerfunction", KindFunc, native.OptHeaderFunction},
	{OptReadFunction, "readfunction", KindFunc, native.OptReadFunction},
	{OptSeekFunction, "seekfunction", KindFunc, native.OptSeekFunction},
	{OptProgressFunction, "progressfunction", KindFunc, native.OptProgressFunction},
	{OptDebugFunction, "debugfunction", KindFunc, native.OptDebugFunction},
	{OptSockoptFunction, "sockoptfunction", KindFunc, native.OptSockoptFunction},
}

var (
	byID   = make(map[OptionID]*Option, len(optionTable))
	byName = make(map[string]*Option, len(optionTable))
)

func init() {
	for i := range optionTable {
		o := &optionTable[i]
		byID[o.ID] = o
		byName[o.Name] = o
	}
}

// LookupOption resolves a case-insensitive option name.
func LookupOption(name string) (Option, bool) {
	o, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Option{}, false
	}
	return *o, true
}

// Options lists the registry in declaration order.
func Options() []Option {
	out := make([]Option, len(optionTable))
	copy(out, optionTable)
	return out
}

// Lookup returns the registry entry for id.
func (id OptionID) Lookup() (Option, bool) {
	o, ok := byID[id]
	if !ok {
		return Option{}, false
	}
	return *o, true
}

// IsCallback reports whether id installs a data callback. Such options are
// re-bound to the owning handle on duplicate.
func (id OptionID) IsCallback() bool {
	o, ok := byID[id]
	return ok && o.Kind == KindFunc
}

func (id OptionID) String() string {
	if o, ok := byID[id]; ok {
		return o.Name
	}
	return fmt.Sprintf("option(%d)", int(id))
}

// nativeValue converts a caller value for a non-callback option.
func nativeValue(o *Option, v any) (any, error) {
	switch o.Kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		case time.Duration:
			return n.Milliseconds(), nil
		}
	case KindList:
		if v == nil {
			return nil, nil
		}
		if l, ok := v.([]string); ok {
			return l, nil
		}
	case KindBlob:
		switch b := v.(type) {
		case nil:
			return nil, nil
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case KindHandle:
		switch s := v.(type) {
		case nil:
			return nil, nil
		case *Share:
			if s == nil {
				return nil, nil
			}
			return s.native, nil
		}
	}
	return nil, optionError(o, v)
}

func optionError(o *Option, v any) error {
	return api.Usage(api.ErrInvalidOption, fmt.Sprintf("option %s expects a %s value, got %T", o.Name, o.Kind, v)).
		WithContext("option", o.Name)
}

// Info is everything a transfer reports about itself.
type Info = native.Info

// InfoID names a piece of transfer information.
type InfoID int

const (
	InfoResponseCode InfoID = iota + 1
	InfoEffectiveURL
	InfoTotalTime
	InfoSizeDownload
	InfoSizeUpload
	InfoContentLength
	InfoActiveSocket
	InfoPrimaryIP
)

func infoValue(i native.Info, id InfoID) (any, bool) {
	switch id {
	case InfoResponseCode:
		return i.ResponseCode, true
	case InfoEffectiveURL:
		return i.EffectiveURL, true
	case InfoTotalTime:
		return i.TotalTime, true
	case InfoSizeDownload:
		return i.SizeDownload, true
	case InfoSizeUpload:
		return i.SizeUpload, true
	case InfoContentLength:
		return i.ContentLength, true
	case InfoActiveSocket:
		return i.ActiveSocket, true
	case InfoPrimaryIP:
		return i.PrimaryIP, true
	}
	return nil, false
}

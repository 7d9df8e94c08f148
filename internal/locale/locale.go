// File: internal/locale/locale.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package locale provides the scoped host-name conversion context the
// transfer library needs while it runs. A Scope pins the calling goroutine to
// its OS thread and activates an IDNA profile for that thread; Release undoes
// both. Outside any scope only plain ASCII host names convert, which mirrors a
// process running in the "C" locale.

package locale

import (
	"errors"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/net/idna"
)

// ErrNoLocale is returned when a non-ASCII host is converted outside a Scope.
var ErrNoLocale = errors.New("locale: no conversion context active on this thread")

type threadState struct {
	profile *idna.Profile
	depth   int
}

var (
	mu      sync.Mutex
	threads = make(map[int]*threadState)
)

// Scope is an acquired conversion context. It must be released on the same
// goroutine that acquired it.
type Scope struct {
	tid      int
	released bool
}

// Acquire activates the default lookup profile for the current thread.
// Scopes nest; the context stays active until the outermost Release.
func Acquire() *Scope {
	return AcquireProfile(idna.Lookup)
}

// AcquireProfile is Acquire with an explicit profile. A nested acquisition
// keeps the outer profile.
func AcquireProfile(p *idna.Profile) *Scope {
	runtime.LockOSThread()
	tid := threadID()

	mu.Lock()
	st, ok := threads[tid]
	if !ok {
		st = &threadState{profile: p}
		threads[tid] = st
	}
	st.depth++
	mu.Unlock()

	return &Scope{tid: tid}
}

// Release deactivates the context. Calling it twice is a no-op.
func (s *Scope) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true

	mu.Lock()
	if st, ok := threads[s.tid]; ok {
		st.depth--
		if st.depth <= 0 {
			delete(threads, s.tid)
		}
	}
	mu.Unlock()

	runtime.UnlockOSThread()
}

// Active reports whether the calling thread holds a conversion context.
func Active() bool {
	mu.Lock()
	defer mu.Unlock()
	_, ok := threads[threadID()]
	return ok
}

// ToASCII converts host to its ASCII (punycode) form using the calling
// thread's context.
func ToASCII(host string) (string, error) {
	if isASCII(host) {
		return strings.ToLower(host), nil
	}
	mu.Lock()
	st, ok := threads[threadID()]
	mu.Unlock()
	if !ok {
		return "", ErrNoLocale
	}
	return st.profile.ToASCII(host)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// File: internal/native/share.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package native

import (
	"net"
	"sync"
	"time"
)

// DefaultDNSCacheTTL is how long a shared resolution stays valid.
const DefaultDNSCacheTTL = 60 * time.Second

type dnsEntry struct {
	addrs   []net.IP
	expires time.Time
}

// Share is state several easy handles can use together. It currently holds a
// resolver cache. A Share may be attached to handles driven by different
// goroutines, so it locks internally.
type Share struct {
	mu  sync.Mutex
	ttl time.Duration
	dns map[string]dnsEntry
}

// NewShare creates an empty share.
func NewShare() *Share {
	return &Share{
		ttl: DefaultDNSCacheTTL,
		dns: make(map[string]dnsEntry),
	}
}

// SetDNSCacheTTL changes the lifetime of cached resolutions.
func (s *Share) SetDNSCacheTTL(ttl time.Duration) {
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

func (s *Share) lookup(host string, now time.Time) ([]net.IP, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dns[host]
	if !ok || now.After(e.expires) {
		return nil, false
	}
	return e.addrs, true
}

func (s *Share) store(host string, addrs []net.IP, now time.Time) {
	s.mu.Lock()
	s.dns[host] = dnsEntry{addrs: addrs, expires: now.Add(s.ttl)}
	s.mu.Unlock()
}

// Len reports the number of cached resolutions.
func (s *Share) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dns)
}

// File: transfer/share.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transfer

import (
	"time"

	"github.com/momentics/hioload-xfer/internal/native"
)

// Share is state several handles may use together, currently a resolver
// cache. The caller manages its lifetime; handles only carry the reference.
type Share struct {
	native *native.Share
}

// NewShare returns an empty share.
func NewShare() *Share {
	return &Share{native: native.NewShare()}
}

// SetDNSCacheTTL changes how long resolutions are reused.
func (s *Share) SetDNSCacheTTL(ttl time.Duration) {
	s.native.SetDNSCacheTTL(ttl)
}

// CachedHosts reports how many host names are cached.
func (s *Share) CachedHosts() int {
	return s.native.Len()
}

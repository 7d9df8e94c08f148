// File: internal/native/resolve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Host lookups run off the driving goroutine. The transfer watches a wakeup
// descriptor that becomes readable once the result is stored, so a slow
// name server never stalls the other transfers of a Multi.

package native

import (
	"context"
	"net"
	"sync"
	"time"
)

// lookupIPAddr is the resolver used for names not found in a Share.
var lookupIPAddr = net.DefaultResolver.LookupIPAddr

type resolver struct {
	fd     int
	cancel context.CancelFunc

	mu        sync.Mutex
	done      bool
	abandoned bool
	addrs     []net.IP
	err       error
}

// startResolve begins looking up host in the background.
func startResolve(host string, timeout time.Duration) (*resolver, error) {
	fd, err := newWakeFD()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	r := &resolver{fd: fd, cancel: cancel}
	go r.lookup(ctx, lookupIPAddr, host)
	return r, nil
}

func (r *resolver) lookup(ctx context.Context, fn func(context.Context, string) ([]net.IPAddr, error), host string) {
	found, err := fn(ctx, host)
	r.cancel()
	addrs := make([]net.IP, 0, len(found))
	for _, a := range found {
		addrs = append(addrs, a.IP)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned {
		return
	}
	r.addrs, r.err, r.done = addrs, err, true
	signalWakeFD(r.fd)
}

// result reports the lookup outcome once it is available.
func (r *resolver) result() ([]net.IP, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addrs, r.done, r.err
}

// abandon detaches the lookup from its descriptor. It must be called before
// the descriptor is closed.
func (r *resolver) abandon() {
	r.cancel()
	r.mu.Lock()
	r.abandoned = true
	r.mu.Unlock()
}

// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and reload propagation.

package control

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/momentics/hioload-xfer/api"
)

var _ api.Control = (*ConfigStore)(nil)

// ConfigStore is a dynamic key/value map with snapshot reads and listeners.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func(changed []string)
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config: make(map[string]any),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// Get returns one value.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// Duration reads key as milliseconds. Missing or non-numeric keys yield def.
func (cs *ConfigStore) Duration(key string, def time.Duration) time.Duration {
	v, ok := cs.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Millisecond
	case int64:
		return time.Duration(n) * time.Millisecond
	case float64:
		return time.Duration(n * float64(time.Millisecond))
	case time.Duration:
		return n
	}
	return def
}

// SetConfig merges new values and notifies listeners with the keys whose
// value changed. Listeners run synchronously after the lock is released.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	var changed []string
	for k, v := range newCfg {
		if old, ok := cs.config[k]; !ok || !reflect.DeepEqual(old, v) {
			changed = append(changed, k)
		}
		cs.config[k] = v
	}
	listeners := append([]func([]string){}, cs.listeners...)
	cs.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	for _, fn := range listeners {
		fn(changed)
	}
}

// OnReload registers a listener called after a change.
func (cs *ConfigStore) OnReload(fn func(changed []string)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// File: api/control.go
// Package api defines Control interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control manages runtime-mutable configuration.
type Control interface {
	GetSnapshot() map[string]any
	SetConfig(cfg map[string]any)
	OnReload(fn func(changed []string))
}

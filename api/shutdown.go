// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown stops a component's loop, waits for it to return and
// releases everything it owns.
type GracefulShutdown interface {
	Shutdown() error
}

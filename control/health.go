// control/health.go
// Author: momentics <momentics@gmail.com>
//
// Liveness and readiness endpoints backed by heptiolabs/healthcheck.

package control

import (
	"errors"

	"github.com/heptiolabs/healthcheck"
)

// NewHealth returns a handler serving /live and /ready. The engine check is
// a liveness check: a poisoned engine never recovers. maxGoroutines <= 0
// skips the goroutine readiness check.
func NewHealth(engineErr func() error, loopRunning func() bool, maxGoroutines int) healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("engine", func() error {
		return engineErr()
	})
	h.AddReadinessCheck("event-loop", func() error {
		if !loopRunning() {
			return errors.New("event loop is not running")
		}
		return nil
	})
	if maxGoroutines > 0 {
		h.AddReadinessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	}
	return h
}

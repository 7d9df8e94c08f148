// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, debug introspection and health reporting for the
// transfer runtime.
//
// Provides concurrent-safe primitives including:
//   - Snapshot config reads and merged updates with reload listeners
//   - YAML reload of runtime-mutable keys
//   - Named debug probes dumped on demand
//   - Liveness and readiness checks
package control

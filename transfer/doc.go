// File: transfer/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package transfer provides the Transfer Handle: one configured, independently
// drivable network transfer. A Handle is run standalone with Perform or handed
// to a multiplex engine, never both at once. Options are set through a static
// registry keyed by OptionID or by case-insensitive name.
package transfer

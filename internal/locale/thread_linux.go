//go:build linux
// +build linux

package locale

import "golang.org/x/sys/unix"

func threadID() int {
	return unix.Gettid()
}

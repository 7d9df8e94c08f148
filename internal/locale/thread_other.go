//go:build !linux
// +build !linux

package locale

// Without a portable thread id every pinned thread shares one slot.
func threadID() int {
	return 0
}

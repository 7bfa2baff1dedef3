//go:build !unix

package hostmem

import "unsafe"

// allocAligned over-allocates on the Go heap and slices at the first
// Alignment boundary. The garbage collector owns the memory.
func allocAligned(n int) ([]byte, bool, error) {
	raw := make([]byte, n+Alignment)
	off := int(-uintptr(unsafe.Pointer(&raw[0])) & (Alignment - 1))
	return raw[off : off+n : off+n], false, nil
}

func freeAligned([]byte) error {
	return nil
}

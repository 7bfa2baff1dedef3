//go:build unix

package hostmem

import "golang.org/x/sys/unix"

// allocAligned maps n anonymous bytes. Mappings start on a page boundary and
// come back zeroed.
func allocAligned(n int) ([]byte, bool, error) {
	data, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func freeAligned(data []byte) error {
	return unix.Munmap(data)
}

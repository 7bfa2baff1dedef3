//go:build linux || darwin

package system

import (
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

func pageSize() int {
	return unix.Getpagesize()
}

func memlockLimit() (int64, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlim); err != nil {
		return 0, fmt.Errorf("failed to read RLIMIT_MEMLOCK: %w", err)
	}
	// RLIM_INFINITY is all ones on linux and MaxInt64 on darwin
	if rlim.Cur >= math.MaxInt64 {
		return Unlimited, nil
	}
	return int64(rlim.Cur), nil
}

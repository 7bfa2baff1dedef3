//go:build !linux && !darwin

package system

import "os"

func pageSize() int {
	return os.Getpagesize()
}

func memlockLimit() (int64, error) {
	return Unlimited, nil
}

// Package system reports host memory facts relevant to pinned buffers:
// physical RAM, the page size and how much memory may be page-locked.
package system

import "runtime"

// RAMInfo contains information about system memory
type RAMInfo struct {
	TotalBytes     int64
	AvailableBytes int64
	UsedBytes      int64

	// LockedBytes is memory already page-locked system wide
	LockedBytes int64
}

// Unlimited is returned by MemlockLimit when no page-locking limit applies
const Unlimited = int64(-1)

// GetRAMInfo returns information about system RAM
func GetRAMInfo() (*RAMInfo, error) {
	return getRAMInfo()
}

// PageSize returns the host page size in bytes
func PageSize() int {
	return pageSize()
}

// MemlockLimit returns the soft RLIMIT_MEMLOCK in bytes, or Unlimited
func MemlockLimit() (int64, error) {
	return memlockLimit()
}

// PinnedBudget estimates how many bytes can be page-locked right now: the
// memlock limit capped by available RAM
func PinnedBudget() (int64, error) {
	info, err := GetRAMInfo()
	if err != nil {
		return 0, err
	}

	limit, err := MemlockLimit()
	if err != nil {
		return 0, err
	}
	if limit == Unlimited || limit > info.AvailableBytes {
		return info.AvailableBytes, nil
	}
	return limit, nil
}

// GetPlatform returns the current platform
func GetPlatform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

package system

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetRAMInfo(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skipf("RAM information not supported on %s", runtime.GOOS)
	}

	info, err := GetRAMInfo()
	if err != nil {
		t.Fatalf("GetRAMInfo failed: %v", err)
	}

	if info.TotalBytes <= 0 {
		t.Errorf("Expected positive total bytes, got %d", info.TotalBytes)
	}

	if info.AvailableBytes < 0 || info.AvailableBytes > info.TotalBytes {
		t.Errorf("Available bytes (%d) outside [0, %d]", info.AvailableBytes, info.TotalBytes)
	}
}

func TestPageSize(t *testing.T) {
	size := PageSize()
	if size <= 0 || size&(size-1) != 0 {
		t.Errorf("Expected a positive power of two page size, got %d", size)
	}
}

func TestMemlockLimit(t *testing.T) {
	limit, err := MemlockLimit()
	if err != nil {
		t.Fatalf("MemlockLimit failed: %v", err)
	}
	if limit != Unlimited && limit < 0 {
		t.Errorf("Expected Unlimited or a non-negative limit, got %d", limit)
	}
}

func TestPinnedBudget(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skipf("RAM information not supported on %s", runtime.GOOS)
	}

	budget, err := PinnedBudget()
	if err != nil {
		t.Fatalf("PinnedBudget failed: %v", err)
	}

	info, _ := GetRAMInfo()
	if budget < 0 || budget > info.AvailableBytes {
		t.Errorf("Pinned budget (%d) outside [0, %d]", budget, info.AvailableBytes)
	}
}

func TestGetPlatform(t *testing.T) {
	platform := GetPlatform()
	if !strings.Contains(platform, "/") {
		t.Errorf("Expected os/arch, got %q", platform)
	}
}

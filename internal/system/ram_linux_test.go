package system

import (
	"strings"
	"testing"
)

func TestParseMeminfo(t *testing.T) {
	input := `MemTotal:       16384000 kB
MemFree:         1024000 kB
MemAvailable:    8192000 kB
Buffers:          204800 kB
Unevictable:       65536 kB
Mlocked:           32768 kB
HugePages_Total:       0
`
	info, err := parseMeminfo(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseMeminfo failed: %v", err)
	}

	if info.TotalBytes != 16384000*1024 {
		t.Errorf("TotalBytes = %d", info.TotalBytes)
	}
	if info.AvailableBytes != 8192000*1024 {
		t.Errorf("AvailableBytes = %d", info.AvailableBytes)
	}
	if info.UsedBytes != info.TotalBytes-info.AvailableBytes {
		t.Errorf("UsedBytes = %d", info.UsedBytes)
	}
	if info.LockedBytes != 32768*1024 {
		t.Errorf("LockedBytes = %d", info.LockedBytes)
	}
}

func TestParseMeminfoWithoutMlocked(t *testing.T) {
	info, err := parseMeminfo(strings.NewReader("MemTotal: 2048 kB\nMemAvailable: 1024 kB\n"))
	if err != nil {
		t.Fatalf("parseMeminfo failed: %v", err)
	}
	if info.LockedBytes != 0 {
		t.Errorf("LockedBytes = %d, want 0", info.LockedBytes)
	}
}

func TestParseMeminfoWithoutTotal(t *testing.T) {
	_, err := parseMeminfo(strings.NewReader("MemAvailable: 100 kB\n"))
	if err == nil {
		t.Fatal("Expected an error without MemTotal")
	}
}

func TestParseMeminfoRejectsGarbledCounter(t *testing.T) {
	_, err := parseMeminfo(strings.NewReader("MemTotal: lots kB\n"))
	if err == nil || !strings.Contains(err.Error(), "MemTotal") {
		t.Fatalf("Expected a MemTotal parse error, got %v", err)
	}
}

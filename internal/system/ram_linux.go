package system

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const meminfoPath = "/proc/meminfo"

func getRAMInfo() (*RAMInfo, error) {
	f, err := os.Open(meminfoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", meminfoPath, err)
	}
	defer f.Close()

	return parseMeminfo(f)
}

// parseMeminfo fills a RAMInfo from the kB counters of /proc/meminfo that
// bound page-locked allocations: total and available RAM and the pages
// already locked by mlock or pinned host buffers.
func parseMeminfo(r io.Reader) (*RAMInfo, error) {
	var info RAMInfo
	wanted := map[string]*int64{
		"MemTotal":     &info.TotalBytes,
		"MemAvailable": &info.AvailableBytes,
		"Mlocked":      &info.LockedBytes,
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() && len(wanted) > 0 {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		dst, ok := wanted[key]
		if !ok {
			continue
		}
		kb, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimSpace(rest), " kB"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad %s line %q: %w", key, sc.Text(), err)
		}
		*dst = kb * 1024
		delete(wanted, key)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", meminfoPath, err)
	}

	if info.TotalBytes == 0 {
		return nil, fmt.Errorf("could not determine total RAM")
	}
	info.UsedBytes = info.TotalBytes - info.AvailableBytes
	return &info, nil
}

//go:build !linux

package system

import "fmt"

func getRAMInfo() (*RAMInfo, error) {
	return nil, fmt.Errorf("RAM information is only available on Linux")
}

package gpu

import (
	"fmt"
	"strings"
)

// DevicePtr is an address in device memory. Zero is the null pointer.
type DevicePtr uintptr

// Stream is an ordered queue of device operations. Zero is the default
// (synchronizing) stream.
type Stream uintptr

// Runtime is the accelerator driver seen by the rest of the module: device
// context control, device memory, host<->device copies and pinned host
// memory.
//
// The current device is ambient state owned by the runtime: per process in
// the simulator, per OS thread in CUDA. Callers that care which device an
// operation lands on go through Platform.WithDevice instead of calling
// SetDevice directly.
type Runtime interface {
	// Name returns a human-readable runtime name
	Name() string

	// DeviceCount returns the number of visible devices
	DeviceCount() (int, error)

	// GetDevice returns the current device id
	GetDevice() (int, error)

	// SetDevice makes id the current device
	SetDevice(id int) error

	// Malloc allocates n bytes on the current device
	Malloc(n int) (DevicePtr, error)

	// Free releases a device allocation
	Free(p DevicePtr) error

	// Memset fills n bytes at p with value
	Memset(p DevicePtr, value byte, n int) error

	// MemcpyHtoD copies len(src) bytes from host to device, blocking
	MemcpyHtoD(dst DevicePtr, src []byte) error

	// MemcpyDtoH copies len(dst) bytes from device to host, blocking
	MemcpyDtoH(dst []byte, src DevicePtr) error

	// MemcpyHtoDAsync enqueues a host to device copy on s and returns
	// without waiting for it. src must stay untouched until s is synchronized.
	MemcpyHtoDAsync(dst DevicePtr, src []byte, s Stream) error

	// MallocHost allocates n bytes of page-locked host memory
	MallocHost(n int) ([]byte, error)

	// FreeHost releases memory obtained from MallocHost
	FreeHost(b []byte) error

	// StreamCreate creates a new stream on the current device
	StreamCreate() (Stream, error)

	// StreamSynchronize blocks until all work queued on s has completed
	StreamSynchronize(s Stream) error

	// StreamDestroy releases a stream
	StreamDestroy(s Stream) error

	// MemoryUsage returns device memory usage in bytes (used, total) for the
	// current device
	MemoryUsage() (int64, int64)
}

// Mode is the execution mode selected at startup.
type Mode int

const (
	// ModeCPU keeps host allocations on the plain path
	ModeCPU Mode = iota
	// ModeGPU enables pinned host allocations when a runtime is present
	ModeGPU
)

func (m Mode) String() string {
	switch m {
	case ModeCPU:
		return "cpu"
	case ModeGPU:
		return "gpu"
	default:
		return "unknown"
	}
}

// ParseMode converts a config or flag value into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu", "":
		return ModeCPU, nil
	case "gpu":
		return ModeGPU, nil
	default:
		return ModeCPU, fmt.Errorf("unknown execution mode: %q", s)
	}
}

// OpenRuntime returns the runtime named by a config or flag value.
//
//	auto  CUDA if libcudart loads and reports a device, otherwise sim
//	cuda  CUDA runtime, error if unavailable
//	sim   in-process simulated accelerator with simDevices devices
//	none  no runtime (host-only); returns nil, nil
func OpenRuntime(name string, simDevices int) (Runtime, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "auto", "":
		if rt, err := NewCUDARuntime(); err == nil {
			return rt, nil
		}
		return NewSimRuntime(simDevices), nil
	case "cuda":
		rt, err := NewCUDARuntime()
		if err != nil {
			return nil, fmt.Errorf("CUDA not available: %w\nUse --runtime sim or --runtime none", err)
		}
		return rt, nil
	case "sim":
		return NewSimRuntime(simDevices), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown runtime: %q", name)
	}
}

//go:build linux

package gpu

// CUDA runtime bindings via purego. libcudart is loaded with dlopen on first
// use, so the binary builds and runs on machines without the toolkit.

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

type cudaError int32

const cudaSuccess cudaError = 0

// cudaMemcpyKind
const (
	cudaMemcpyHostToDevice int32 = 1
	cudaMemcpyDeviceToHost int32 = 2
)

func (e cudaError) Error() string {
	if cudaGetErrorString != nil {
		return fmt.Sprintf("%s (%d)", cudaGetErrorString(int32(e)), int32(e))
	}
	return fmt.Sprintf("cudaError(%d)", int32(e))
}

func check(r cudaError, op string) error {
	if r != cudaSuccess {
		return fmt.Errorf("%s: %w", op, r)
	}
	return nil
}

var (
	cudartOnce sync.Once
	cudartErr  error

	cudaGetErrorString func(err int32) string

	cudaGetDeviceCount func(count *int32) cudaError
	cudaGetDevice      func(device *int32) cudaError
	cudaSetDevice      func(device int32) cudaError
	cudaMemGetInfo     func(free, total *uint64) cudaError

	cudaMalloc func(ptr *uintptr, size uint64) cudaError
	cudaFree   func(ptr uintptr) cudaError
	cudaMemset func(ptr uintptr, value int32, count uint64) cudaError

	// cudaMemcpy and cudaMemcpyAsync are registered once per direction so
	// the host side is always passed as a Go pointer.
	cudaMemcpyHtoD      func(dst uintptr, src unsafe.Pointer, count uint64, kind int32) cudaError
	cudaMemcpyDtoH      func(dst unsafe.Pointer, src uintptr, count uint64, kind int32) cudaError
	cudaMemcpyHtoDAsync func(dst uintptr, src unsafe.Pointer, count uint64, kind int32, stream uintptr) cudaError

	cudaMallocHost func(ptr *unsafe.Pointer, size uint64) cudaError
	cudaFreeHost   func(ptr unsafe.Pointer) cudaError

	cudaStreamCreate      func(stream *uintptr) cudaError
	cudaStreamSynchronize func(stream uintptr) cudaError
	cudaStreamDestroy     func(stream uintptr) cudaError
)

var cudartNames = []string{"libcudart.so", "libcudart.so.12", "libcudart.so.11.0"}

// loadCudart opens libcudart and registers every function we use
func loadCudart() error {
	cudartOnce.Do(func() {
		var lib uintptr
		for _, name := range cudartNames {
			lib, cudartErr = purego.Dlopen(name, purego.RTLD_LAZY|purego.RTLD_GLOBAL)
			if cudartErr == nil {
				break
			}
		}
		if cudartErr != nil {
			cudartErr = fmt.Errorf("cannot load libcudart: %w (is the CUDA toolkit installed?)", cudartErr)
			return
		}

		purego.RegisterLibFunc(&cudaGetErrorString, lib, "cudaGetErrorString")
		purego.RegisterLibFunc(&cudaGetDeviceCount, lib, "cudaGetDeviceCount")
		purego.RegisterLibFunc(&cudaGetDevice, lib, "cudaGetDevice")
		purego.RegisterLibFunc(&cudaSetDevice, lib, "cudaSetDevice")
		purego.RegisterLibFunc(&cudaMemGetInfo, lib, "cudaMemGetInfo")
		purego.RegisterLibFunc(&cudaMalloc, lib, "cudaMalloc")
		purego.RegisterLibFunc(&cudaFree, lib, "cudaFree")
		purego.RegisterLibFunc(&cudaMemset, lib, "cudaMemset")
		purego.RegisterLibFunc(&cudaMemcpyHtoD, lib, "cudaMemcpy")
		purego.RegisterLibFunc(&cudaMemcpyDtoH, lib, "cudaMemcpy")
		purego.RegisterLibFunc(&cudaMemcpyHtoDAsync, lib, "cudaMemcpyAsync")
		purego.RegisterLibFunc(&cudaMallocHost, lib, "cudaMallocHost")
		purego.RegisterLibFunc(&cudaFreeHost, lib, "cudaFreeHost")
		purego.RegisterLibFunc(&cudaStreamCreate, lib, "cudaStreamCreate")
		purego.RegisterLibFunc(&cudaStreamSynchronize, lib, "cudaStreamSynchronize")
		purego.RegisterLibFunc(&cudaStreamDestroy, lib, "cudaStreamDestroy")
	})
	return cudartErr
}

// CUDARuntime implements Runtime on top of the CUDA runtime API
type CUDARuntime struct {
	devices int
}

var (
	cudaRuntimeSingleton *CUDARuntime
	cudaRuntimeOnce      sync.Once
	cudaRuntimeErr       error
)

// NewCUDARuntime returns the process-wide CUDA runtime (loaded on first call)
func NewCUDARuntime() (*CUDARuntime, error) {
	cudaRuntimeOnce.Do(func() {
		cudaRuntimeSingleton, cudaRuntimeErr = initCUDARuntime()
	})
	return cudaRuntimeSingleton, cudaRuntimeErr
}

func initCUDARuntime() (*CUDARuntime, error) {
	if err := loadCudart(); err != nil {
		return nil, err
	}

	var count int32
	if err := check(cudaGetDeviceCount(&count), "cudaGetDeviceCount"); err != nil {
		return nil, fmt.Errorf("CUDA not available: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("no CUDA devices found")
	}

	return &CUDARuntime{devices: int(count)}, nil
}

func (r *CUDARuntime) Name() string {
	return fmt.Sprintf("cuda (%d devices)", r.devices)
}

func (r *CUDARuntime) DeviceCount() (int, error) {
	return r.devices, nil
}

func (r *CUDARuntime) GetDevice() (int, error) {
	var dev int32
	if err := check(cudaGetDevice(&dev), "cudaGetDevice"); err != nil {
		return 0, err
	}
	return int(dev), nil
}

func (r *CUDARuntime) SetDevice(id int) error {
	return check(cudaSetDevice(int32(id)), fmt.Sprintf("cudaSetDevice(%d)", id))
}

func (r *CUDARuntime) Malloc(n int) (DevicePtr, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid buffer size: %d", n)
	}
	var ptr uintptr
	if err := check(cudaMalloc(&ptr, uint64(n)), fmt.Sprintf("cudaMalloc(%d bytes)", n)); err != nil {
		return 0, err
	}
	return DevicePtr(ptr), nil
}

func (r *CUDARuntime) Free(p DevicePtr) error {
	return check(cudaFree(uintptr(p)), "cudaFree")
}

func (r *CUDARuntime) Memset(p DevicePtr, value byte, n int) error {
	return check(cudaMemset(uintptr(p), int32(value), uint64(n)), "cudaMemset")
}

func (r *CUDARuntime) MemcpyHtoD(dst DevicePtr, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	r0 := cudaMemcpyHtoD(uintptr(dst), unsafe.Pointer(&src[0]), uint64(len(src)), cudaMemcpyHostToDevice)
	return check(r0, "cudaMemcpy(HostToDevice)")
}

func (r *CUDARuntime) MemcpyDtoH(dst []byte, src DevicePtr) error {
	if len(dst) == 0 {
		return nil
	}
	r0 := cudaMemcpyDtoH(unsafe.Pointer(&dst[0]), uintptr(src), uint64(len(dst)), cudaMemcpyDeviceToHost)
	return check(r0, "cudaMemcpy(DeviceToHost)")
}

func (r *CUDARuntime) MemcpyHtoDAsync(dst DevicePtr, src []byte, s Stream) error {
	if len(src) == 0 {
		return nil
	}
	r0 := cudaMemcpyHtoDAsync(uintptr(dst), unsafe.Pointer(&src[0]), uint64(len(src)),
		cudaMemcpyHostToDevice, uintptr(s))
	return check(r0, "cudaMemcpyAsync(HostToDevice)")
}

func (r *CUDARuntime) MallocHost(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid pinned allocation size: %d", n)
	}
	var ptr unsafe.Pointer
	if err := check(cudaMallocHost(&ptr, uint64(n)), fmt.Sprintf("cudaMallocHost(%d bytes)", n)); err != nil {
		return nil, err
	}
	if ptr == nil {
		return nil, fmt.Errorf("cudaMallocHost(%d bytes) returned nil", n)
	}
	return unsafe.Slice((*byte)(ptr), n), nil
}

func (r *CUDARuntime) FreeHost(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("free of empty pinned block")
	}
	return check(cudaFreeHost(unsafe.Pointer(&b[0])), "cudaFreeHost")
}

func (r *CUDARuntime) StreamCreate() (Stream, error) {
	var s uintptr
	if err := check(cudaStreamCreate(&s), "cudaStreamCreate"); err != nil {
		return 0, err
	}
	return Stream(s), nil
}

func (r *CUDARuntime) StreamSynchronize(s Stream) error {
	return check(cudaStreamSynchronize(uintptr(s)), "cudaStreamSynchronize")
}

func (r *CUDARuntime) StreamDestroy(s Stream) error {
	return check(cudaStreamDestroy(uintptr(s)), "cudaStreamDestroy")
}

func (r *CUDARuntime) MemoryUsage() (int64, int64) {
	var free, total uint64
	if cudaMemGetInfo(&free, &total) != cudaSuccess {
		return 0, 0
	}
	return int64(total) - int64(free), int64(total)
}

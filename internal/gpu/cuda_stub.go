//go:build !linux

package gpu

import "fmt"

var errNoCUDA = fmt.Errorf("CUDA not available")

// CUDARuntime stub for non-Linux builds
type CUDARuntime struct{}

// NewCUDARuntime returns an error on unsupported platforms
func NewCUDARuntime() (*CUDARuntime, error) {
	return nil, fmt.Errorf("CUDA runtime support requires Linux")
}

func (r *CUDARuntime) Name() string                                    { return "cuda (unavailable)" }
func (r *CUDARuntime) DeviceCount() (int, error)                       { return 0, errNoCUDA }
func (r *CUDARuntime) GetDevice() (int, error)                         { return 0, errNoCUDA }
func (r *CUDARuntime) SetDevice(id int) error                          { return errNoCUDA }
func (r *CUDARuntime) Malloc(n int) (DevicePtr, error)                 { return 0, errNoCUDA }
func (r *CUDARuntime) Free(p DevicePtr) error                          { return errNoCUDA }
func (r *CUDARuntime) Memset(p DevicePtr, value byte, n int) error     { return errNoCUDA }
func (r *CUDARuntime) MemcpyHtoD(dst DevicePtr, src []byte) error      { return errNoCUDA }
func (r *CUDARuntime) MemcpyDtoH(dst []byte, src DevicePtr) error      { return errNoCUDA }
func (r *CUDARuntime) MemcpyHtoDAsync(DevicePtr, []byte, Stream) error { return errNoCUDA }
func (r *CUDARuntime) MallocHost(n int) ([]byte, error)                { return nil, errNoCUDA }
func (r *CUDARuntime) FreeHost(b []byte) error                         { return errNoCUDA }
func (r *CUDARuntime) StreamCreate() (Stream, error)                   { return 0, errNoCUDA }
func (r *CUDARuntime) StreamSynchronize(s Stream) error                { return errNoCUDA }
func (r *CUDARuntime) StreamDestroy(s Stream) error                    { return errNoCUDA }
func (r *CUDARuntime) MemoryUsage() (int64, int64)                     { return 0, 0 }

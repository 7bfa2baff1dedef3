//go:build linux

package gpu

import (
	"bytes"
	"testing"
)

func TestCUDARuntime(t *testing.T) {
	rt, err := NewCUDARuntime()
	if err != nil {
		t.Skipf("CUDA not available: %v", err)
	}

	count, err := rt.DeviceCount()
	if err != nil {
		t.Fatalf("DeviceCount failed: %v", err)
	}
	if count == 0 {
		t.Error("Expected at least one device")
	}

	used, total := rt.MemoryUsage()
	if total == 0 {
		t.Error("Total memory should be > 0")
	}
	t.Logf("%s: %d MB used / %d MB total", rt.Name(), used/(1024*1024), total/(1024*1024))
}

func TestCUDARoundTrip(t *testing.T) {
	rt, err := NewCUDARuntime()
	if err != nil {
		t.Skipf("CUDA not available: %v", err)
	}

	size := 1 << 20
	ptr, err := rt.Malloc(size)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer rt.Free(ptr)

	src, err := rt.MallocHost(size)
	if err != nil {
		t.Fatalf("MallocHost failed: %v", err)
	}
	defer rt.FreeHost(src)

	for i := range src {
		src[i] = byte(i % 251)
	}

	if err := rt.MemcpyHtoD(ptr, src); err != nil {
		t.Fatalf("MemcpyHtoD failed: %v", err)
	}

	dst := make([]byte, size)
	if err := rt.MemcpyDtoH(dst, ptr); err != nil {
		t.Fatalf("MemcpyDtoH failed: %v", err)
	}

	if !bytes.Equal(src, dst) {
		t.Error("Round trip through device memory changed the data")
	}
}

func TestCUDAAsyncCopy(t *testing.T) {
	rt, err := NewCUDARuntime()
	if err != nil {
		t.Skipf("CUDA not available: %v", err)
	}

	s, err := rt.StreamCreate()
	if err != nil {
		t.Fatalf("StreamCreate failed: %v", err)
	}
	defer rt.StreamDestroy(s)

	ptr, err := rt.Malloc(4096)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer rt.Free(ptr)

	src := bytes.Repeat([]byte{0xAB}, 4096)
	if err := rt.MemcpyHtoDAsync(ptr, src, s); err != nil {
		t.Fatalf("MemcpyHtoDAsync failed: %v", err)
	}
	if err := rt.StreamSynchronize(s); err != nil {
		t.Fatalf("StreamSynchronize failed: %v", err)
	}

	dst := make([]byte, 4096)
	if err := rt.MemcpyDtoH(dst, ptr); err != nil {
		t.Fatalf("MemcpyDtoH failed: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("Async copy did not land on the device")
	}
}

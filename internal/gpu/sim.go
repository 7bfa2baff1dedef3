package gpu

import (
	"fmt"
	"sync"
)

const (
	simPtrBase        = DevicePtr(0x7f0000000000)
	simDefaultDevMem  = int64(1 << 30)
	simPtrGranularity = 256
)

// SimStats counts the operations a SimRuntime has performed
type SimStats struct {
	Mallocs     int64
	Frees       int64
	MallocHosts int64
	FreeHosts   int64
	HtoD        int64
	DtoH        int64
	HtoDAsync   int64
	SetDevices  int64
	BytesHtoD   int64
	BytesDtoH   int64

	// Sizes of the most recent Malloc and MallocHost requests
	LastMalloc     int
	LastMallocHost int
}

// SimRuntime is an in-process accelerator. Every device has its own address
// space, so a pointer is only valid while its device is current, like a
// real driver without peer access. Host pinned blocks are tracked so that
// freeing memory through the wrong path is reported.
type SimRuntime struct {
	mu         sync.Mutex
	devices    int
	current    int
	nextPtr    DevicePtr
	allocs     map[DevicePtr]*simAlloc
	used       []int64
	capacity   int64
	pinned     map[*byte]int
	pinnedCap  int64
	pinnedUsed int64
	streams    map[Stream]*simStream
	nextStream Stream
	stats      SimStats
}

type simAlloc struct {
	device int
	data   []byte
}

// NewSimRuntime creates a simulated runtime with the given number of
// devices (at least one). Device 0 is current.
func NewSimRuntime(devices int) *SimRuntime {
	if devices < 1 {
		devices = 1
	}
	return &SimRuntime{
		devices:  devices,
		nextPtr:  simPtrBase,
		allocs:   make(map[DevicePtr]*simAlloc),
		used:     make([]int64, devices),
		capacity: simDefaultDevMem,
		pinned:   make(map[*byte]int),
		streams:  make(map[Stream]*simStream),
	}
}

// SetDeviceCapacity limits the bytes each device can hand out
func (r *SimRuntime) SetDeviceCapacity(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capacity = n
}

// SetPinnedLimit limits page-locked host memory; 0 means unlimited
func (r *SimRuntime) SetPinnedLimit(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pinnedCap = n
}

func (r *SimRuntime) Name() string {
	return fmt.Sprintf("sim (%d devices)", r.devices)
}

func (r *SimRuntime) DeviceCount() (int, error) {
	return r.devices, nil
}

func (r *SimRuntime) GetDevice() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, nil
}

func (r *SimRuntime) SetDevice(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= r.devices {
		return fmt.Errorf("invalid device ordinal %d (have %d devices)", id, r.devices)
	}
	r.current = id
	r.stats.SetDevices++
	return nil
}

func (r *SimRuntime) Malloc(n int) (DevicePtr, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid allocation size: %d", n)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.LastMalloc = n

	if r.used[r.current]+int64(n) > r.capacity {
		return 0, fmt.Errorf("out of memory on device %d: requested %d, %d of %d in use",
			r.current, n, r.used[r.current], r.capacity)
	}

	ptr := r.nextPtr
	step := (n + simPtrGranularity - 1) / simPtrGranularity * simPtrGranularity
	r.nextPtr += DevicePtr(step)

	r.allocs[ptr] = &simAlloc{device: r.current, data: make([]byte, n)}
	r.used[r.current] += int64(n)
	r.stats.Mallocs++
	return ptr, nil
}

func (r *SimRuntime) Free(p DevicePtr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.lookup(p)
	if err != nil {
		return err
	}
	delete(r.allocs, p)
	r.used[a.device] -= int64(len(a.data))
	r.stats.Frees++
	return nil
}

func (r *SimRuntime) Memset(p DevicePtr, value byte, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.lookup(p)
	if err != nil {
		return err
	}
	if n > len(a.data) {
		return fmt.Errorf("memset of %d bytes exceeds allocation of %d", n, len(a.data))
	}
	for i := range a.data[:n] {
		a.data[i] = value
	}
	return nil
}

func (r *SimRuntime) MemcpyHtoD(dst DevicePtr, src []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.lookup(dst)
	if err != nil {
		return err
	}
	if len(src) > len(a.data) {
		return fmt.Errorf("copy of %d bytes exceeds allocation of %d", len(src), len(a.data))
	}
	copy(a.data, src)
	r.stats.HtoD++
	r.stats.BytesHtoD += int64(len(src))
	return nil
}

func (r *SimRuntime) MemcpyDtoH(dst []byte, src DevicePtr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.lookup(src)
	if err != nil {
		return err
	}
	if len(dst) > len(a.data) {
		return fmt.Errorf("copy of %d bytes exceeds allocation of %d", len(dst), len(a.data))
	}
	copy(dst, a.data)
	r.stats.DtoH++
	r.stats.BytesDtoH += int64(len(dst))
	return nil
}

func (r *SimRuntime) MemcpyHtoDAsync(dst DevicePtr, src []byte, s Stream) error {
	if s == 0 {
		return r.MemcpyHtoD(dst, src)
	}

	r.mu.Lock()
	a, err := r.lookup(dst)
	if err == nil && len(src) > len(a.data) {
		err = fmt.Errorf("copy of %d bytes exceeds allocation of %d", len(src), len(a.data))
	}
	st, ok := r.streams[s]
	if err == nil && !ok {
		err = fmt.Errorf("invalid stream handle %#x", uintptr(s))
	}
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.stats.HtoDAsync++
	r.stats.BytesHtoD += int64(len(src))
	r.mu.Unlock()

	st.enqueue(func() {
		r.mu.Lock()
		copy(a.data, src)
		r.mu.Unlock()
	})
	return nil
}

func (r *SimRuntime) MallocHost(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid pinned allocation size: %d", n)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.LastMallocHost = n
	if r.pinnedCap > 0 && r.pinnedUsed+int64(n) > r.pinnedCap {
		return nil, fmt.Errorf("pinned host memory exhausted: requested %d, %d of %d in use",
			n, r.pinnedUsed, r.pinnedCap)
	}

	b := make([]byte, n)
	r.pinned[&b[0]] = n
	r.pinnedUsed += int64(n)
	r.stats.MallocHosts++
	return b, nil
}

func (r *SimRuntime) FreeHost(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("free of empty pinned block")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := &b[0]
	n, ok := r.pinned[key]
	if !ok {
		return fmt.Errorf("pointer %p was not allocated as pinned host memory", key)
	}
	delete(r.pinned, key)
	r.pinnedUsed -= int64(n)
	r.stats.FreeHosts++
	return nil
}

func (r *SimRuntime) StreamCreate() (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextStream++
	s := r.nextStream
	r.streams[s] = newSimStream()
	return s, nil
}

func (r *SimRuntime) StreamSynchronize(s Stream) error {
	if s == 0 {
		return nil
	}

	r.mu.Lock()
	st, ok := r.streams[s]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("invalid stream handle %#x", uintptr(s))
	}

	st.wait()
	return nil
}

func (r *SimRuntime) StreamDestroy(s Stream) error {
	r.mu.Lock()
	st, ok := r.streams[s]
	delete(r.streams, s)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("invalid stream handle %#x", uintptr(s))
	}

	st.close()
	return nil
}

func (r *SimRuntime) MemoryUsage() (int64, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used[r.current], r.capacity
}

// Stats returns a snapshot of the operation counters
func (r *SimRuntime) Stats() SimStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Peek returns a copy of the allocation at p regardless of the current
// device. It exists for tests and diagnostics.
func (r *SimRuntime) Peek(p DevicePtr) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.allocs[p]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), a.data...), true
}

// DeviceOf returns the device an allocation lives on
func (r *SimRuntime) DeviceOf(p DevicePtr) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.allocs[p]
	if !ok {
		return 0, false
	}
	return a.device, true
}

// LiveAllocations returns the number of device and pinned host allocations
// that have not been freed
func (r *SimRuntime) LiveAllocations() (device, pinned int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.allocs), len(r.pinned)
}

// lookup resolves p on the current device. Caller holds r.mu.
func (r *SimRuntime) lookup(p DevicePtr) (*simAlloc, error) {
	a, ok := r.allocs[p]
	if !ok {
		return nil, fmt.Errorf("invalid device pointer %#x", uintptr(p))
	}
	if a.device != r.current {
		return nil, fmt.Errorf("device pointer %#x belongs to device %d, current device is %d",
			uintptr(p), a.device, r.current)
	}
	return a, nil
}

// simStream runs queued work in order on its own goroutine
type simStream struct {
	work    chan func()
	pending sync.WaitGroup
	done    chan struct{}
}

func newSimStream() *simStream {
	s := &simStream{
		work: make(chan func(), 64),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *simStream) run() {
	defer close(s.done)
	for fn := range s.work {
		fn()
		s.pending.Done()
	}
}

func (s *simStream) enqueue(fn func()) {
	s.pending.Add(1)
	s.work <- fn
}

func (s *simStream) wait() {
	s.pending.Wait()
}

func (s *simStream) close() {
	s.pending.Wait()
	close(s.work)
	<-s.done
}

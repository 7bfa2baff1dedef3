// Package syncedmem keeps a byte buffer coherent between host memory and one
// accelerator device.
//
// A SyncedMemory allocates each side lazily and copies between them only
// when a caller asks for current data on the side that is stale. Head tracks
// which side is authoritative:
//
//	Uninitialized  nothing allocated or written yet
//	HeadAtHost     host copy is current, device copy (if any) is stale
//	HeadAtDevice   device copy is current, host copy (if any) is stale
//	Synced         both copies hold the same bytes
//
// Read accessors (HostData, DeviceData) never invalidate the other side.
// Mutable accessors (MutableHostData, MutableDeviceData) leave the written
// side as the only current one. A call that advances the state performs at
// most one copy; a call that keeps it performs none.
//
// Running out of host or device memory, a failed transfer, and misuse such
// as device access on a host-only platform are unrecoverable: they are
// logged and the process exits.
package syncedmem

import (
	"fmt"

	"github.com/xupit3r/syncmem/internal/gpu"
	"github.com/xupit3r/syncmem/internal/hostmem"
	"github.com/xupit3r/syncmem/internal/logging"
	"github.com/xupit3r/syncmem/internal/metrics"
)

// Head says which copy of the data is authoritative
type Head int

const (
	Uninitialized Head = iota
	HeadAtHost
	HeadAtDevice
	Synced
)

func (h Head) String() string {
	switch h {
	case Uninitialized:
		return "UNINITIALIZED"
	case HeadAtHost:
		return "HEAD_AT_HOST"
	case HeadAtDevice:
		return "HEAD_AT_DEVICE"
	case Synced:
		return "SYNCED"
	default:
		return fmt.Sprintf("Head(%d)", int(h))
	}
}

// SyncedMemory is a buffer of Size() bytes that may live on the host, on a
// device, or on both.
//
// SyncedMemory does no locking of its own. Accessors, Set calls, Release,
// Free and a DecreaseReference that drops the last holder all mutate shared
// state and must be serialized by the caller when a buffer is reachable from
// more than one goroutine. Only the reference counter is safe to update
// concurrently.
type SyncedMemory struct {
	platform *gpu.Platform
	alloc    *hostmem.Allocator

	size        int
	alignedSize int

	host      []byte
	hostBlock *hostmem.Block
	ownHost   bool

	device    gpu.DevicePtr
	ownDevice bool
	deviceID  int

	head  Head
	refs  RefCount
	freed bool
}

// Option configures a SyncedMemory
type Option func(*SyncedMemory)

// WithDevice binds the device copy to device id instead of the platform's
// default device
func WithDevice(id int) Option {
	return func(m *SyncedMemory) {
		m.deviceID = id
	}
}

// WithAllocator uses a instead of a fresh allocator for the platform
func WithAllocator(a *hostmem.Allocator) Option {
	return func(m *SyncedMemory) {
		m.alloc = a
	}
}

// New creates a buffer of size bytes on platform p. Nothing is allocated
// until the first access.
func New(p *gpu.Platform, size int, opts ...Option) *SyncedMemory {
	if size < 0 {
		logging.Die(logging.Fields{"op": "new", "size": size}, "invalid synced memory size %d", size)
	}

	m := &SyncedMemory{
		platform:    p,
		size:        size,
		alignedSize: hostmem.AlignedSize(size),
		deviceID:    -1,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.alloc == nil {
		m.alloc = hostmem.New(p)
	}
	if m.deviceID < 0 {
		m.deviceID = p.DefaultDevice()
	}

	return m
}

func (m *SyncedMemory) Head() Head       { return m.head }
func (m *SyncedMemory) Size() int        { return m.size }
func (m *SyncedMemory) AlignedSize() int { return m.alignedSize }
func (m *SyncedMemory) DeviceID() int    { return m.deviceID }
func (m *SyncedMemory) OwnsHost() bool   { return m.ownHost }
func (m *SyncedMemory) OwnsDevice() bool { return m.ownDevice }
func (m *SyncedMemory) HostPinned() bool { return m.hostBlock.Pinned() }
func (m *SyncedMemory) References() int  { return m.refs.Load() }
func (m *SyncedMemory) HasHost() bool    { return m.host != nil }
func (m *SyncedMemory) HasDevice() bool  { return m.device != 0 }
func (m *SyncedMemory) String() string   { return fmt.Sprintf("SyncedMemory(%d bytes, %s)", m.size, m.head) }

// HostData returns the host copy, bringing it up to date first. The slice is
// for reading: writing through it leaves the device copy silently stale.
func (m *SyncedMemory) HostData() []byte {
	m.checkLive("host_data")
	m.toHost()
	return m.host
}

// MutableHostData returns the host copy for writing. The device copy, if
// any, is considered stale afterwards.
func (m *SyncedMemory) MutableHostData() []byte {
	m.checkLive("mutable_host_data")
	m.toHost()
	m.head = HeadAtHost
	return m.host
}

// DeviceData returns the device copy, bringing it up to date first
func (m *SyncedMemory) DeviceData() gpu.DevicePtr {
	m.checkLive("device_data")
	m.toDevice()
	return m.device
}

// MutableDeviceData returns the device copy for writing. The host copy, if
// any, is considered stale afterwards.
func (m *SyncedMemory) MutableDeviceData() gpu.DevicePtr {
	m.checkLive("mutable_device_data")
	m.toDevice()
	m.head = HeadAtDevice
	return m.device
}

// SetHostData makes data the host copy and the authoritative one. The
// caller keeps ownership of data: it is never freed here. data must hold at
// least Size() bytes.
func (m *SyncedMemory) SetHostData(data []byte) {
	m.checkLive("set_host_data")
	if data == nil {
		logging.Die(logging.Fields{"op": "set_host_data", "size": m.size}, "set_host_data: nil host pointer")
	}
	if len(data) < m.size {
		logging.Die(logging.Fields{"op": "set_host_data", "size": m.size, "len": len(data)},
			"set_host_data: host region of %d bytes is smaller than buffer size %d", len(data), m.size)
	}

	m.freeHost()
	m.host = data[:m.size]
	m.ownHost = false
	m.head = HeadAtHost
}

// SetDeviceData makes ptr the device copy and the authoritative one. ptr
// must belong to DeviceID() and hold at least Size() bytes. The caller keeps
// ownership of ptr.
func (m *SyncedMemory) SetDeviceData(ptr gpu.DevicePtr) {
	m.checkLive("set_device_data")
	m.requireRuntime("set_device_data")
	if ptr == 0 {
		logging.Die(logging.Fields{"op": "set_device_data", "size": m.size, "device": m.deviceID},
			"set_device_data: nil device pointer")
	}

	m.freeDevice()
	m.device = ptr
	m.ownDevice = false
	m.head = HeadAtDevice
}

// AsyncDevicePush starts copying the host copy to the device on stream and
// marks the buffer Synced without waiting. The caller must synchronize the
// stream before relying on the device copy and must not write the host copy
// until then. Pushing again before that synchronization is the caller's
// responsibility as well.
func (m *SyncedMemory) AsyncDevicePush(stream gpu.Stream) {
	m.checkLive("async_device_push")
	m.requireRuntime("async_device_push")
	if m.head != HeadAtHost {
		logging.Die(logging.Fields{"op": "async_device_push", "head": m.head.String()},
			"async_device_push requires head at host, buffer is %s", m.head)
	}

	m.onDevice("htod_async", func(rt gpu.Runtime) error {
		if m.device == 0 {
			if err := m.mallocDevice(rt); err != nil {
				return err
			}
		}
		return rt.MemcpyHtoDAsync(m.device, m.host, stream)
	})
	metrics.ObserveTransfer(metrics.HtoDAsync, m.size)
	m.head = Synced
}

// Release frees the memory this buffer owns right away and returns it to
// Uninitialized, whatever the reference count says. Regions supplied through
// SetHostData or SetDeviceData are dropped but not freed. The buffer stays
// usable and allocates again on the next access.
func (m *SyncedMemory) Release() {
	m.checkLive("release")
	m.freeHost()
	m.freeDevice()
	m.head = Uninitialized
	metrics.Releases.Inc()
	logging.Debugf("released %s", m)
}

// Free releases owned memory at the end of the buffer's life. Any later
// access is fatal; calling Free again is a no-op.
func (m *SyncedMemory) Free() {
	if m.freed {
		return
	}
	m.freeHost()
	m.freeDevice()
	m.freed = true
}

// DefaultReference makes the caller the sole holder
func (m *SyncedMemory) DefaultReference() {
	m.refs.Reset()
}

// IncreaseReference registers another holder
func (m *SyncedMemory) IncreaseReference() {
	m.refs.Retain()
}

// DecreaseReference unregisters a holder. When none remain the buffer is
// released as if by Release.
func (m *SyncedMemory) DecreaseReference() {
	if m.refs.Drop() {
		m.Release()
	}
}

func (m *SyncedMemory) toHost() {
	switch m.head {
	case Uninitialized:
		m.allocHost()
		clear(m.host)
		m.head = HeadAtHost
	case HeadAtDevice:
		if m.host == nil {
			m.allocHost()
		}
		m.onDevice("dtoh", func(rt gpu.Runtime) error {
			return rt.MemcpyDtoH(m.host, m.device)
		})
		metrics.ObserveTransfer(metrics.DtoH, m.size)
		m.head = Synced
	case HeadAtHost, Synced:
	}
}

func (m *SyncedMemory) toDevice() {
	m.requireRuntime("device_data")

	switch m.head {
	case Uninitialized:
		m.onDevice("device_alloc", func(rt gpu.Runtime) error {
			if m.device == 0 {
				if err := m.mallocDevice(rt); err != nil {
					return err
				}
			}
			return rt.Memset(m.device, 0, m.deviceRequest())
		})
		m.head = HeadAtDevice
	case HeadAtHost:
		m.onDevice("htod", func(rt gpu.Runtime) error {
			if m.device == 0 {
				if err := m.mallocDevice(rt); err != nil {
					return err
				}
			}
			return rt.MemcpyHtoD(m.device, m.host)
		})
		metrics.ObserveTransfer(metrics.HtoD, m.size)
		m.head = Synced
	case HeadAtDevice, Synced:
	}
}

func (m *SyncedMemory) allocHost() {
	m.hostBlock = m.alloc.Alloc(m.size)
	m.host = m.hostBlock.Bytes()
	m.ownHost = true
}

func (m *SyncedMemory) freeHost() {
	if m.ownHost && m.hostBlock != nil {
		m.alloc.Free(m.hostBlock)
	}
	m.hostBlock = nil
	m.host = nil
	m.ownHost = false
}

// deviceRequest is the byte count handed to the device allocator
func (m *SyncedMemory) deviceRequest() int {
	return max(m.alignedSize, 1)
}

// mallocDevice allocates the device copy. The device context is already
// set by the caller.
func (m *SyncedMemory) mallocDevice(rt gpu.Runtime) error {
	ptr, err := rt.Malloc(m.deviceRequest())
	if err != nil {
		return fmt.Errorf("device allocation of size %d: %w", m.deviceRequest(), err)
	}
	m.device = ptr
	m.ownDevice = true
	metrics.DeviceAllocBytes.Add(float64(m.deviceRequest()))
	return nil
}

func (m *SyncedMemory) freeDevice() {
	if m.device != 0 && m.ownDevice {
		m.onDevice("device_free", func(rt gpu.Runtime) error {
			return rt.Free(m.device)
		})
	}
	m.device = 0
	m.ownDevice = false
}

// onDevice runs fn with the buffer's device current. Any error is fatal.
func (m *SyncedMemory) onDevice(op string, fn func(rt gpu.Runtime) error) {
	if err := m.platform.WithDevice(m.deviceID, fn); err != nil {
		logging.Die(logging.Fields{
			"op":           op,
			"size":         m.size,
			"aligned_size": m.alignedSize,
			"device":       m.deviceID,
		}, "%s of %d bytes on device %d failed: %v", op, m.size, m.deviceID, err)
	}
}

func (m *SyncedMemory) requireRuntime(op string) {
	if !m.platform.HasRuntime() {
		logging.Die(logging.Fields{"op": op, "size": m.size},
			"%s: no accelerator runtime on this platform", op)
	}
}

func (m *SyncedMemory) checkLive(op string) {
	if m.freed {
		logging.Die(logging.Fields{"op": op, "size": m.size}, "%s on freed synced memory", op)
	}
}

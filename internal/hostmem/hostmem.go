// Package hostmem allocates host memory for synced buffers.
//
// When an accelerator execution mode is active the allocation is page-locked
// (pinned) through the accelerator runtime, which lets the driver DMA
// straight out of it. Otherwise the block is a plain page-aligned mapping.
// Every request is rounded up to Alignment, and a Block remembers which path
// produced it so Free can mirror it.
//
// Failure to obtain or return memory is unrecoverable: the allocator logs
// the request and terminates the process.
package hostmem

import (
	"github.com/xupit3r/syncmem/internal/gpu"
	"github.com/xupit3r/syncmem/internal/logging"
	"github.com/xupit3r/syncmem/internal/metrics"
)

// Alignment is the allocation granularity and address alignment of host
// blocks
const Alignment = 4096

// AlignedSize rounds size up to the next multiple of Alignment
func AlignedSize(size int) int {
	return ((size + Alignment - 1) / Alignment) * Alignment
}

// Block is a host allocation. Bytes exposes the caller's size; the
// underlying allocation covers the aligned size.
type Block struct {
	data   []byte
	size   int
	pinned bool
	mapped bool
}

// Bytes returns the usable region of the block
func (b *Block) Bytes() []byte {
	if b == nil || b.data == nil {
		return nil
	}
	return b.data[:b.size]
}

// Len returns the number of bytes actually allocated
func (b *Block) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Pinned reports whether the block came from the page-locked path
func (b *Block) Pinned() bool {
	return b != nil && b.pinned
}

func (b *Block) path() string {
	if b.pinned {
		return metrics.PathPinned
	}
	return metrics.PathPlain
}

// Allocator hands out host blocks for a platform
type Allocator struct {
	platform *gpu.Platform
}

// New creates an allocator bound to p
func New(p *gpu.Platform) *Allocator {
	return &Allocator{platform: p}
}

// Alloc returns a block of at least size bytes. The request passed to the
// underlying allocator is AlignedSize(size), or one byte for size 0.
func (a *Allocator) Alloc(size int) *Block {
	if size < 0 {
		logging.Die(logging.Fields{"op": "host_alloc", "size": size},
			"invalid host allocation size %d", size)
	}

	request := max(AlignedSize(size), 1)

	if a.platform.Accelerated() {
		data, err := a.platform.Runtime().MallocHost(request)
		if err != nil || data == nil {
			logging.Die(logging.Fields{"op": "host_alloc", "path": metrics.PathPinned, "size": size, "aligned_size": request},
				"pinned host allocation of size %d failed: %v", request, err)
		}
		metrics.HostAllocBytes.WithLabelValues(metrics.PathPinned).Add(float64(request))
		logging.Debugf("pinned host alloc: %d bytes (size %d)", request, size)
		return &Block{data: data, size: size, pinned: true}
	}

	data, mapped, err := allocAligned(request)
	if err != nil || data == nil {
		logging.Die(logging.Fields{"op": "host_alloc", "path": metrics.PathPlain, "size": size, "aligned_size": request},
			"host allocation of size %d failed: %v", request, err)
	}
	metrics.HostAllocBytes.WithLabelValues(metrics.PathPlain).Add(float64(request))
	logging.Debugf("plain host alloc: %d bytes (size %d)", request, size)
	return &Block{data: data, size: size, mapped: mapped}
}

// Free returns b through the path it was allocated on. Freeing nil or an
// already freed block is a no-op.
func (a *Allocator) Free(b *Block) {
	if b == nil || b.data == nil {
		return
	}

	var err error
	switch {
	case b.pinned:
		if !a.platform.HasRuntime() {
			logging.Die(logging.Fields{"op": "host_free", "path": metrics.PathPinned},
				"pinned host block freed without an accelerator runtime")
		}
		err = a.platform.Runtime().FreeHost(b.data)
	case b.mapped:
		err = freeAligned(b.data)
	}
	if err != nil {
		logging.Die(logging.Fields{"op": "host_free", "path": b.path(), "size": len(b.data)},
			"host free of %d bytes failed: %v", len(b.data), err)
	}

	metrics.HostFrees.WithLabelValues(b.path()).Inc()
	b.data = nil
}

package syncedmem

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xupit3r/syncmem/internal/gpu"
	"github.com/xupit3r/syncmem/internal/logging/logtest"
)

func TestRefCount(t *testing.T) {
	logtest.Install(t)

	var r RefCount
	assert.Zero(t, r.Load())

	r.Reset()
	r.Retain()
	assert.Equal(t, 2, r.Load())
	assert.False(t, r.Drop())
	assert.True(t, r.Drop())
	assert.Zero(t, r.Load())
}

func TestRefCountConcurrentRetainDrop(t *testing.T) {
	logtest.Install(t)

	var r RefCount
	r.Reset()

	const workers = 16
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				r.Retain()
				r.Drop()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.Load())
	assert.True(t, r.Drop())
}

// Several holders share buffers and serialize access with a mutex of their
// own. The last holder to leave releases the memory.
func TestSharedBuffersUnderExternalLock(t *testing.T) {
	rt, p, _ := newSim(t, 2, gpu.ModeGPU)

	const (
		buffers = 4
		workers = 8
		rounds  = 50
		size    = 1500
	)

	type shared struct {
		mu  sync.Mutex
		mem *SyncedMemory
	}

	bufs := make([]*shared, buffers)
	for i := range bufs {
		m := New(p, size, WithDevice(i%2))
		m.DefaultReference()
		for range workers - 1 {
			m.IncreaseReference()
		}
		bufs[i] = &shared{mem: m}
	}

	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			for r := range rounds {
				b := bufs[(w+r)%buffers]
				b.mu.Lock()

				fill := byte(w*rounds + r)
				copy(b.mem.MutableHostData(), bytes.Repeat([]byte{fill}, size))
				ptr := b.mem.DeviceData()
				data, ok := rt.Peek(ptr)
				if !ok || data[0] != fill || data[size-1] != fill {
					b.mu.Unlock()
					return assert.AnError
				}

				b.mem.MutableDeviceData()
				got := b.mem.HostData()[size/2]
				b.mu.Unlock()

				if got != fill {
					return assert.AnError
				}
			}

			for _, b := range bufs {
				b.mu.Lock()
				b.mem.DecreaseReference()
				b.mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, b := range bufs {
		assert.Zero(t, b.mem.References())
		assert.Equal(t, Uninitialized, b.mem.Head())
	}

	dev, pinned := rt.LiveAllocations()
	assert.Zero(t, dev)
	assert.Zero(t, pinned)

	cur, _ := rt.GetDevice()
	assert.Equal(t, 0, cur)
}

package gpu

import (
	"fmt"
	"runtime"
	"sync"
)

// Platform is the capability set resolved once at startup: the execution
// mode and the accelerator runtime, if any. It replaces build-time
// switching between host-only and accelerator builds.
type Platform struct {
	mode    Mode
	runtime Runtime
	device  int

	// device context is process state in the simulator and thread state in
	// CUDA; WithDevice holds mu and the OS thread for the whole call
	mu sync.Mutex
}

// NewPlatform creates a platform whose buffers default to device 0. rt may
// be nil for host-only operation.
func NewPlatform(mode Mode, rt Runtime) *Platform {
	return NewPlatformOn(mode, rt, 0)
}

// NewPlatformOn creates a platform whose buffers default to device. The
// runtime's ambient device is not consulted: in CUDA it belongs to whichever
// OS thread asks.
func NewPlatformOn(mode Mode, rt Runtime, device int) *Platform {
	return &Platform{mode: mode, runtime: rt, device: device}
}

// HostOnly returns a CPU-mode platform without a runtime
func HostOnly() *Platform {
	return &Platform{mode: ModeCPU}
}

func (p *Platform) Mode() Mode         { return p.mode }
func (p *Platform) Runtime() Runtime   { return p.runtime }
func (p *Platform) DefaultDevice() int { return p.device }

// HasRuntime reports whether device operations are possible at all
func (p *Platform) HasRuntime() bool {
	return p.runtime != nil
}

// Accelerated reports whether an accelerator execution mode is active and
// backed by a runtime. Host allocations take the pinned path only then.
func (p *Platform) Accelerated() bool {
	return p.mode == ModeGPU && p.runtime != nil
}

// WithDevice runs fn with device id current. The ambient device is switched
// only if it differs and is restored after fn returns. Calls are serialized
// per platform, so fn must not call WithDevice itself.
func (p *Platform) WithDevice(id int, fn func(rt Runtime) error) (err error) {
	if p.runtime == nil {
		return fmt.Errorf("no accelerator runtime available for device %d", id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	prev, err := p.runtime.GetDevice()
	if err != nil {
		return fmt.Errorf("failed to query current device: %w", err)
	}

	if prev != id {
		if err := p.runtime.SetDevice(id); err != nil {
			return fmt.Errorf("failed to switch to device %d: %w", id, err)
		}
		defer func() {
			if rerr := p.runtime.SetDevice(prev); rerr != nil && err == nil {
				err = fmt.Errorf("failed to restore device %d: %w", prev, rerr)
			}
		}()
	}

	return fn(p.runtime)
}

func (p *Platform) String() string {
	name := "none"
	if p.runtime != nil {
		name = p.runtime.Name()
	}
	return fmt.Sprintf("%s/%s", p.mode, name)
}

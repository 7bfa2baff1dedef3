package gpu

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"cpu", ModeCPU, false},
		{"GPU", ModeGPU, false},
		{" gpu ", ModeGPU, false},
		{"", ModeCPU, false},
		{"tpu", ModeCPU, true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPlatformAccelerated(t *testing.T) {
	rt := NewSimRuntime(1)

	assert.False(t, HostOnly().Accelerated())
	assert.False(t, HostOnly().HasRuntime())
	assert.False(t, NewPlatform(ModeGPU, nil).Accelerated())
	assert.False(t, NewPlatform(ModeCPU, rt).Accelerated())
	assert.True(t, NewPlatform(ModeGPU, rt).Accelerated())
	assert.Equal(t, "gpu/sim (1 devices)", NewPlatform(ModeGPU, rt).String())
}

func TestWithDeviceSwitchesAndRestores(t *testing.T) {
	rt := NewSimRuntime(3)
	p := NewPlatform(ModeGPU, rt)

	require.NoError(t, rt.SetDevice(2))

	var seen int
	err := p.WithDevice(1, func(r Runtime) error {
		var err error
		seen, err = r.GetDevice()
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seen)

	cur, _ := rt.GetDevice()
	assert.Equal(t, 2, cur, "ambient device must be restored")
}

func TestWithDeviceSkipsSwitchWhenCurrent(t *testing.T) {
	rt := NewSimRuntime(2)
	p := NewPlatform(ModeGPU, rt)

	before := rt.Stats().SetDevices
	require.NoError(t, p.WithDevice(0, func(Runtime) error { return nil }))
	assert.Equal(t, before, rt.Stats().SetDevices)
}

func TestWithDeviceErrors(t *testing.T) {
	err := HostOnly().WithDevice(0, func(Runtime) error { return nil })
	assert.Error(t, err)

	p := NewPlatform(ModeGPU, NewSimRuntime(1))
	assert.Error(t, p.WithDevice(5, func(Runtime) error { return nil }))

	boom := errors.New("boom")
	assert.ErrorIs(t, p.WithDevice(0, func(Runtime) error { return boom }), boom)
}

func TestWithDeviceConcurrentCallers(t *testing.T) {
	rt := NewSimRuntime(4)
	p := NewPlatform(ModeGPU, rt)

	var g errgroup.Group
	for id := range 4 {
		g.Go(func() error {
			for range 200 {
				err := p.WithDevice(id, func(r Runtime) error {
					cur, err := r.GetDevice()
					if err != nil {
						return err
					}
					if cur != id {
						return fmt.Errorf("device %d current inside WithDevice(%d)", cur, id)
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	cur, _ := rt.GetDevice()
	assert.Equal(t, 0, cur)
}

// restoreFailsRuntime accepts the first SetDevice and rejects every later one
type restoreFailsRuntime struct {
	*SimRuntime
	calls int
}

func (r *restoreFailsRuntime) SetDevice(id int) error {
	r.calls++
	if r.calls > 1 {
		return errors.New("device busy")
	}
	return r.SimRuntime.SetDevice(id)
}

func TestWithDeviceReportsFailedRestore(t *testing.T) {
	rt := &restoreFailsRuntime{SimRuntime: NewSimRuntime(2)}
	p := NewPlatform(ModeGPU, rt)

	ran := false
	err := p.WithDevice(1, func(Runtime) error {
		ran = true
		return nil
	})
	assert.True(t, ran)
	assert.ErrorContains(t, err, "failed to restore device 0")

	boom := errors.New("boom")
	rt.calls = 0
	err = p.WithDevice(1, func(Runtime) error { return boom })
	assert.ErrorIs(t, err, boom, "the operation's own error wins over the restore error")
}

func TestPlatformDefaultDevice(t *testing.T) {
	rt := NewSimRuntime(3)
	require.NoError(t, rt.SetDevice(2))

	assert.Equal(t, 0, NewPlatform(ModeGPU, rt).DefaultDevice())
	assert.Equal(t, 1, NewPlatformOn(ModeGPU, rt, 1).DefaultDevice())
	assert.Equal(t, 0, HostOnly().DefaultDevice())
}

func TestOpenRuntime(t *testing.T) {
	rt, err := OpenRuntime("sim", 2)
	require.NoError(t, err)
	n, _ := rt.DeviceCount()
	assert.Equal(t, 2, n)

	rt, err = OpenRuntime("none", 0)
	require.NoError(t, err)
	assert.Nil(t, rt)

	rt, err = OpenRuntime("auto", 1)
	require.NoError(t, err)
	assert.NotNil(t, rt)

	_, err = OpenRuntime("opencl", 1)
	assert.Error(t, err)
}

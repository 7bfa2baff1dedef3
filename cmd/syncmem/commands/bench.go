package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/xupit3r/syncmem/internal/gpu"
	"github.com/xupit3r/syncmem/internal/logging"
	"github.com/xupit3r/syncmem/internal/syncedmem"
)

var (
	benchSize       string
	benchIterations int
	benchAsync      bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure host/device transfer throughput",
	Long: `Time round trips through a single synced buffer: a host write followed
by a device read (host to device), then a device write followed by a host
read (device to host). With --async the upload goes through a stream.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVar(&benchSize, "size", "64MiB", "buffer size (e.g. 4KiB, 16MB)")
	benchCmd.Flags().IntVarP(&benchIterations, "iterations", "n", 20, "number of round trips")
	benchCmd.Flags().BoolVar(&benchAsync, "async", false, "upload with an asynchronous push on a stream")
	rootCmd.AddCommand(benchCmd)
}

type benchResult struct {
	Size       int
	Iterations int
	Async      bool
	Device     int
	HtoD       time.Duration
	DtoH       time.Duration
}

// Throughput returns bytes per second for d spent on all iterations
func (r *benchResult) Throughput(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(r.Size) * float64(r.Iterations) / d.Seconds()
}

func runBench(cmd *cobra.Command, args []string) error {
	size, err := humanize.ParseBytes(benchSize)
	if err != nil {
		return fmt.Errorf("invalid --size %q: %w", benchSize, err)
	}

	res, err := runBenchmark(platform, int(size), benchIterations, benchAsync)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("syncmem transfer benchmark"))
	row(out, "Platform", platform.String())
	row(out, "Buffer", humanize.IBytes(uint64(res.Size)))
	row(out, "Device", fmt.Sprint(res.Device))
	row(out, "Iterations", fmt.Sprint(res.Iterations))
	row(out, "Upload", uploadKind(res.Async))
	row(out, "Host to device", rate(res, res.HtoD))
	row(out, "Device to host", rate(res, res.DtoH))
	return nil
}

// runBenchmark performs iterations round trips on one buffer and times each
// direction. Each upload carries a stamp written on the host and each
// download must return a different stamp written on the device.
func runBenchmark(p *gpu.Platform, size, iterations int, async bool) (*benchResult, error) {
	if !p.HasRuntime() {
		return nil, errors.New("bench needs an accelerator runtime (--runtime auto, cuda or sim)")
	}
	if size < 1 || iterations < 1 {
		return nil, fmt.Errorf("size and iterations must be positive, got %d and %d", size, iterations)
	}

	m := syncedmem.New(p, size)
	defer m.Free()

	var stream gpu.Stream
	if async {
		err := p.WithDevice(m.DeviceID(), func(rt gpu.Runtime) (err error) {
			stream, err = rt.StreamCreate()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
		defer p.WithDevice(m.DeviceID(), func(rt gpu.Runtime) error {
			return rt.StreamDestroy(stream)
		})
	}

	res := &benchResult{Size: size, Iterations: iterations, Async: async, Device: m.DeviceID()}
	for i := range iterations {
		stamp := byte(i + 1)
		host := m.MutableHostData()
		host[0], host[size-1] = stamp, stamp

		start := time.Now()
		if async {
			m.AsyncDevicePush(stream)
			err := p.WithDevice(m.DeviceID(), func(rt gpu.Runtime) error {
				return rt.StreamSynchronize(stream)
			})
			if err != nil {
				return nil, fmt.Errorf("failed to synchronize stream: %w", err)
			}
		} else {
			m.DeviceData()
		}
		res.HtoD += time.Since(start)

		ptr := m.MutableDeviceData()
		devStamp := ^stamp
		err := p.WithDevice(m.DeviceID(), func(rt gpu.Runtime) error {
			return rt.Memset(ptr, devStamp, size)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to write device stamp: %w", err)
		}

		start = time.Now()
		got := m.HostData()
		res.DtoH += time.Since(start)

		if got[0] != devStamp || got[size-1] != devStamp {
			return nil, fmt.Errorf("round trip %d returned %#x/%#x, want %#x", i, got[0], got[size-1], devStamp)
		}
	}

	logging.WithFields(logging.Fields{
		"size":       size,
		"iterations": iterations,
		"htod":       res.HtoD,
		"dtoh":       res.DtoH,
	}).Debug("benchmark finished")
	return res, nil
}

func rate(res *benchResult, d time.Duration) string {
	perIter := d / time.Duration(res.Iterations)
	return fmt.Sprintf("%s/s (%s per copy)", humanize.IBytes(uint64(res.Throughput(d))), perIter)
}

func uploadKind(async bool) string {
	if async {
		return "async push + stream sync"
	}
	return "synchronous"
}

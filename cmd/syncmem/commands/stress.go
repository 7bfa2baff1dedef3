package commands

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xupit3r/syncmem/internal/gpu"
	"github.com/xupit3r/syncmem/internal/logging"
	"github.com/xupit3r/syncmem/internal/syncedmem"
)

var stressOpts = stressOptions{
	Workers: 8,
	Buffers: 4,
	Rounds:  200,
	Size:    64 * 1024,
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Share synced buffers between many goroutines",
	Long: `Run workers that share a set of buffers, each guarded by its own mutex.
Every round a worker writes a pattern on the host, reads it on the device,
overwrites it on the device with a second pattern and reads that back on the
host, checking the head state and the contents at each step. Every worker
holds a reference to every buffer and drops it when done, so the last one out
releases them.

Buffers are spread across all devices of the runtime.`,
	RunE: runStressCmd,
}

func init() {
	f := stressCmd.Flags()
	f.IntVarP(&stressOpts.Workers, "workers", "w", stressOpts.Workers, "number of goroutines")
	f.IntVar(&stressOpts.Buffers, "buffers", stressOpts.Buffers, "number of shared buffers")
	f.IntVar(&stressOpts.Rounds, "rounds", stressOpts.Rounds, "rounds per worker")
	f.IntVar(&stressOpts.Size, "size", stressOpts.Size, "buffer size in bytes")
	rootCmd.AddCommand(stressCmd)
}

type stressOptions struct {
	Workers int
	Buffers int
	Rounds  int
	Size    int
}

type stressReport struct {
	Rounds     int64
	Bytes      int64
	Violations []string
}

// sharedBuffer is a synced buffer with the lock its users agree on
type sharedBuffer struct {
	mu  sync.Mutex
	mem *syncedmem.SyncedMemory
}

func runStressCmd(cmd *cobra.Command, args []string) error {
	report, err := runStress(cmd.Context(), platform, stressOpts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("syncmem stress"))
	row(out, "Platform", platform.String())
	row(out, "Workers", fmt.Sprint(stressOpts.Workers))
	row(out, "Rounds", humanize.Comma(report.Rounds))
	row(out, "Verified", humanize.IBytes(uint64(report.Bytes)))
	row(out, "Violations", fmt.Sprint(len(report.Violations)))

	for _, msg := range report.Violations {
		fmt.Fprintln(out, warnStyle.Render("  "+msg))
	}
	if len(report.Violations) > 0 {
		return fmt.Errorf("%d coherence violations", len(report.Violations))
	}
	return nil
}

func runStress(ctx context.Context, p *gpu.Platform, opts stressOptions) (*stressReport, error) {
	if !p.HasRuntime() {
		return nil, fmt.Errorf("stress needs an accelerator runtime (--runtime auto, cuda or sim)")
	}
	if opts.Workers < 1 || opts.Buffers < 1 || opts.Rounds < 1 || opts.Size < 1 {
		return nil, fmt.Errorf("workers, buffers, rounds and size must be positive")
	}

	devices, err := p.Runtime().DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}

	bufs := make([]*sharedBuffer, opts.Buffers)
	for i := range bufs {
		m := syncedmem.New(p, opts.Size, syncedmem.WithDevice(i%devices))
		m.DefaultReference()
		for range opts.Workers - 1 {
			m.IncreaseReference()
		}
		bufs[i] = &sharedBuffer{mem: m}
	}

	var (
		rounds, verified atomic.Int64
		violationsMu     sync.Mutex
		violations       []string
	)
	violate := func(format string, args ...any) {
		violationsMu.Lock()
		violations = append(violations, fmt.Sprintf(format, args...))
		violationsMu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	for w := range opts.Workers {
		g.Go(func() error {
			defer func() {
				for _, b := range bufs {
					b.mu.Lock()
					b.mem.DecreaseReference()
					b.mu.Unlock()
				}
			}()

			for r := range opts.Rounds {
				if err := ctx.Err(); err != nil {
					return err
				}

				i := (w + r) % len(bufs)
				b := bufs[i]
				b.mu.Lock()
				checkRoundTrip(p, b.mem, byte(w*31+r), func(msg string) {
					violate("worker %d round %d buffer %d: %s", w, r, i, msg)
				})
				b.mu.Unlock()

				rounds.Add(1)
				verified.Add(int64(opts.Size))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, b := range bufs {
		if refs := b.mem.References(); refs != 0 {
			violate("buffer %d: %d references left", i, refs)
		}
		if b.mem.HasHost() || b.mem.HasDevice() {
			violate("buffer %d: memory held after last reference was dropped", i)
		}
		b.mem.Free()
	}

	logging.WithFields(logging.Fields{
		"workers":    opts.Workers,
		"rounds":     rounds.Load(),
		"violations": len(violations),
	}).Info("stress run finished")

	return &stressReport{
		Rounds:     rounds.Load(),
		Bytes:      verified.Load(),
		Violations: violations,
	}, nil
}

// checkRoundTrip moves a fill pattern host -> device, overwrites it on the
// device with its complement and moves that back to the host, reporting every
// state or content mismatch. The caller holds the buffer's lock.
func checkRoundTrip(p *gpu.Platform, m *syncedmem.SyncedMemory, fill byte, report func(string)) {
	want := bytes.Repeat([]byte{fill}, m.Size())

	copy(m.MutableHostData(), want)
	if h := m.Head(); h != syncedmem.HeadAtHost {
		report(fmt.Sprintf("after host write head is %s", h))
	}

	m.DeviceData()
	if h := m.Head(); h != syncedmem.Synced {
		report(fmt.Sprintf("after device read head is %s", h))
	}

	ptr := m.MutableDeviceData()
	if h := m.Head(); h != syncedmem.HeadAtDevice {
		report(fmt.Sprintf("after device write head is %s", h))
	}

	devFill := ^fill
	err := p.WithDevice(m.DeviceID(), func(rt gpu.Runtime) error {
		return rt.Memset(ptr, devFill, m.Size())
	})
	if err != nil {
		report(fmt.Sprintf("device write failed: %v", err))
		return
	}

	if got := m.HostData(); !bytes.Equal(got, bytes.Repeat([]byte{devFill}, m.Size())) {
		report("host copy does not hold the pattern written on the device")
	}
	if h := m.Head(); h != syncedmem.Synced {
		report(fmt.Sprintf("after host read head is %s", h))
	}
}

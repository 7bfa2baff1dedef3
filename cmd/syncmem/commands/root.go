package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xupit3r/syncmem/internal/config"
	"github.com/xupit3r/syncmem/internal/gpu"
	"github.com/xupit3r/syncmem/internal/logging"
	"github.com/xupit3r/syncmem/internal/metrics"
)

var (
	cfgFile string
	verbose bool

	// v carries the flag bindings into config loading
	v = viper.New()

	cfg        *config.Config
	platform   *gpu.Platform
	metricsSrv *http.Server
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "syncmem",
	Short: "Inspect and exercise host/device synchronized memory",
	Long: `syncmem drives buffers that live on the host, on an accelerator device,
or on both, copying between them only when the stale side is read.

It reports what the platform offers for pinned and device memory, measures
transfer throughput, and stress tests shared buffers from many goroutines.
Without a CUDA driver the simulated runtime stands in for the device.`,
	Version:            version,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.syncmem/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("mode", "gpu", "execution mode: cpu or gpu")
	flags.String("runtime", "auto", "accelerator runtime: auto, cuda, sim or none")
	flags.Int("device", 0, "device to bind buffers to")
	flags.Int("sim-devices", 2, "number of devices of the simulated runtime")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")

	v.BindPFlag("mode", flags.Lookup("mode"))
	v.BindPFlag("runtime", flags.Lookup("runtime"))
	v.BindPFlag("device", flags.Lookup("device"))
	v.BindPFlag("sim.devices", flags.Lookup("sim-devices"))
	v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
}

// setup resolves the platform once for every command that needs it
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		c.Logging.Level = "debug"
	}

	if err := logging.Init(c.Logging.Level, c.Logging.File, c.Logging.Console); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	p, err := openPlatform(c)
	if err != nil {
		return err
	}

	if c.Metrics.Addr != "" {
		startMetrics(c.Metrics.Addr)
	}

	cfg, platform = c, p
	logging.WithFields(logging.Fields{
		"platform": p.String(),
		"device":   c.Device,
	}).Debug("platform ready")
	return nil
}

func openPlatform(c *config.Config) (*gpu.Platform, error) {
	mode, err := gpu.ParseMode(c.Mode)
	if err != nil {
		return nil, err
	}

	rt, err := gpu.OpenRuntime(c.Runtime, c.Sim.Devices)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s runtime: %w", c.Runtime, err)
	}

	if rt != nil {
		count, err := rt.DeviceCount()
		if err != nil {
			return nil, fmt.Errorf("failed to count devices: %w", err)
		}
		if c.Device >= count {
			return nil, fmt.Errorf("device %d not available, %s has %d", c.Device, rt.Name(), count)
		}
	} else if mode == gpu.ModeGPU {
		logging.Warnf("gpu mode without a runtime, host allocations stay unpinned")
	}

	p := gpu.NewPlatformOn(mode, rt, c.Device)
	if rt != nil {
		if err := p.WithDevice(c.Device, func(gpu.Runtime) error { return nil }); err != nil {
			return nil, fmt.Errorf("failed to select device %d: %w", c.Device, err)
		}
	}
	return p, nil
}

func startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsSrv = &http.Server{Addr: addr, Handler: mux}

	go func() {
		logging.Infof("serving metrics on %s/metrics", addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("metrics server: %v", err)
		}
	}()
}

func teardown(cmd *cobra.Command, args []string) error {
	if metricsSrv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := metricsSrv.Shutdown(ctx)
	metricsSrv = nil
	return err
}

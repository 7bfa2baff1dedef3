package commands

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/xupit3r/syncmem/internal/gpu"
	"github.com/xupit3r/syncmem/internal/hostmem"
	"github.com/xupit3r/syncmem/internal/system"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7B68EE")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00D4FF"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Width(16)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500"))
)

var deviceInfoCmd = &cobra.Command{
	Use:   "device",
	Short: "Show device and host memory information",
	Long: `Display the execution mode, the accelerator runtime and its devices, and
the host memory facts that bound pinned allocations: RAM, page size and the
page-locking limit.`,
	RunE: runDeviceInfo,
}

func init() {
	rootCmd.AddCommand(deviceInfoCmd)
}

func runDeviceInfo(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("syncmem device information"))
	fmt.Fprintln(out)

	fmt.Fprintln(out, sectionStyle.Render("Platform"))
	row(out, "Mode", platform.Mode().String())
	row(out, "Runtime", runtimeName(platform))
	row(out, "Pinned host", yesNo(platform.Accelerated()))
	row(out, "Alignment", humanize.IBytes(hostmem.Alignment))
	row(out, "System", system.GetPlatform())
	fmt.Fprintln(out)

	if platform.HasRuntime() {
		if err := printDevices(out, platform); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, sectionStyle.Render("Host memory"))
	if info, err := system.GetRAMInfo(); err == nil {
		row(out, "RAM total", humanize.IBytes(uint64(info.TotalBytes)))
		row(out, "RAM available", humanize.IBytes(uint64(info.AvailableBytes)))
		row(out, "RAM locked", humanize.IBytes(uint64(info.LockedBytes)))
	} else {
		row(out, "RAM", warnStyle.Render(err.Error()))
	}
	row(out, "Page size", humanize.IBytes(uint64(system.PageSize())))

	limit, err := system.MemlockLimit()
	switch {
	case err != nil:
		row(out, "Memlock limit", warnStyle.Render(err.Error()))
	case limit == system.Unlimited:
		row(out, "Memlock limit", "unlimited")
	default:
		row(out, "Memlock limit", humanize.IBytes(uint64(limit)))
	}
	if budget, err := system.PinnedBudget(); err == nil {
		row(out, "Pinned budget", humanize.IBytes(uint64(budget)))
	}

	return nil
}

func printDevices(out io.Writer, p *gpu.Platform) error {
	rt := p.Runtime()
	count, err := rt.DeviceCount()
	if err != nil {
		return fmt.Errorf("failed to count devices: %w", err)
	}

	fmt.Fprintln(out, sectionStyle.Render("Devices"))
	row(out, "Count", fmt.Sprint(count))
	row(out, "Buffers on", fmt.Sprint(p.DefaultDevice()))

	for id := range count {
		err := p.WithDevice(id, func(rt gpu.Runtime) error {
			used, total := rt.MemoryUsage()
			usage := "unknown"
			if total > 0 {
				usage = fmt.Sprintf("%s / %s (%.1f%%)",
					humanize.IBytes(uint64(used)), humanize.IBytes(uint64(total)),
					float64(used)/float64(total)*100)
			}
			row(out, fmt.Sprintf("Device %d", id), usage)
			return nil
		})
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(out)
	return nil
}

func row(out io.Writer, label, value string) {
	fmt.Fprintf(out, "  %s %s\n", labelStyle.Render(label), value)
}

func runtimeName(p *gpu.Platform) string {
	if !p.HasRuntime() {
		return "none"
	}
	return p.Runtime().Name()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

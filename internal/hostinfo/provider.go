// Package hostinfo reads host resource usage and platform details.
package hostinfo

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/net"
	"github.com/shirou/gopsutil/process"
)

const (
	unknownCPU = "unknown"

	// kernelBuildPath holds the same text as `uname -v`.
	kernelBuildPath = "/proc/sys/kernel/version"
)

// Provider queries the local host through gopsutil.
type Provider struct {
	logger      *slog.Logger
	now         func() time.Time
	kernelBuild string
}

// NewProvider constructs a Provider.
func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Provider{
		logger:      logger,
		now:         time.Now,
		kernelBuild: kernelBuildPath,
	}
}

// Metrics samples CPU, memory, disk usage of diskPath, uptime and process count.
// Failures of those core queries are returned as *Error; the optional swap,
// load and network figures are left nil when unavailable.
func (p *Provider) Metrics(ctx context.Context, diskPath string) (Metrics, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Metrics{}, &Error{Op: "cpu percent", Err: err}
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Metrics{}, &Error{Op: "virtual memory", Err: err}
	}

	usage, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return Metrics{}, &Error{Op: "disk usage " + diskPath, Err: err}
	}

	bootTime, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return Metrics{}, &Error{Op: "boot time", Err: err}
	}
	booted := time.Unix(int64(bootTime), 0)
	uptime := int64(p.now().Sub(booted) / time.Second)
	if uptime < 0 {
		uptime = 0
	}

	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return Metrics{}, &Error{Op: "process list", Err: err}
	}

	metrics := Metrics{
		CPUPercent:    cpuPercent,
		Memory:        Capacity{TotalBytes: vm.Total, UsedBytes: vm.Used},
		Disk:          Capacity{TotalBytes: usage.Total, UsedBytes: usage.Used},
		UptimeSeconds: uptime,
		ProcessCount:  len(pids),
		BootTime:      booted.UTC(),
	}

	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		metrics.Swap = &Capacity{TotalBytes: swap.Total, UsedBytes: swap.Used}
	} else {
		p.logger.Debug("swap usage unavailable", "err", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		metrics.Load = &LoadAverage{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}
	} else {
		p.logger.Debug("load average unavailable", "err", err)
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		metrics.Network = &NetworkTotals{
			InTransferBytes:  counters[0].BytesRecv,
			OutTransferBytes: counters[0].BytesSent,
		}
	} else if err != nil {
		p.logger.Debug("network counters unavailable", "err", err)
	}

	return metrics, nil
}

// Platform reads the host name, OS and architecture. PlatformVersion is the
// kernel build string, or the kernel release where that is unavailable. The
// CPU model falls back to "unknown" when the processor cannot be identified.
func (p *Provider) Platform(ctx context.Context) (Platform, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Platform{}, &Error{Op: "platform info", Err: err}
	}

	platform := Platform{
		Hostname:        info.Hostname,
		Platform:        platformString(info),
		PlatformVersion: p.kernelVersion(info),
		Arch:            info.KernelArch,
		CPUModel:        unknownCPU,
		Virtualization:  info.VirtualizationSystem,
	}
	if info.BootTime > 0 {
		platform.BootTime = time.Unix(int64(info.BootTime), 0).UTC()
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		if model := strings.TrimSpace(cpus[0].ModelName); model != "" {
			platform.CPUModel = model
		}
	} else if err != nil {
		p.logger.Debug("cpu info unavailable", "err", err)
	}

	return platform, nil
}

func (p *Provider) kernelVersion(info *host.InfoStat) string {
	data, err := os.ReadFile(p.kernelBuild)
	if err != nil {
		p.logger.Debug("kernel build string unavailable", "err", err)
		return info.KernelVersion
	}
	if build := strings.TrimSpace(string(data)); build != "" {
		return build
	}
	return info.KernelVersion
}

// Username returns the owner of pid from the host process table.
func (p *Provider) Username(ctx context.Context, pid int) (string, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return proc.UsernameWithContext(ctx)
}

// platformString renders "<os>-<kernel>-<arch>", e.g. "linux-6.8.0-45-generic-x86_64".
func platformString(info *host.InfoStat) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{info.OS, info.KernelVersion, info.KernelArch} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "-")
}

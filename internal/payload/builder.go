// Package payload maps an aggregated snapshot onto the ingestion wire schema.
package payload

import (
	"time"

	"github.com/skobkin/lab-agent/internal/api"
	"github.com/skobkin/lab-agent/internal/config"
	"github.com/skobkin/lab-agent/internal/hostinfo"
	"github.com/skobkin/lab-agent/internal/nvsmi"
	"github.com/skobkin/lab-agent/internal/snapshot"
	"github.com/skobkin/lab-agent/internal/version"
)

// Build assembles the request body for one cycle. Slug and name fall back to
// the host name when they are not configured.
func Build(device config.DeviceConfig, platform hostinfo.Platform, rows []nvsmi.DeviceRow, processes map[string][]nvsmi.ProcessRow, snap snapshot.Snapshot) api.Payload {
	return api.Payload{
		Device:       buildDevice(device, platform, rows),
		Snapshot:     buildSnapshot(snap),
		Accelerators: buildAccelerators(rows, processes),
	}
}

func buildDevice(device config.DeviceConfig, platform hostinfo.Platform, rows []nvsmi.DeviceRow) api.Device {
	slug := device.Slug
	if slug == "" {
		slug = platform.Hostname
	}
	name := device.Name
	if name == "" {
		name = platform.Hostname
	}

	cpuModel := platform.CPUModel
	if cpuModel == "" {
		cpuModel = "unknown"
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Name)
	}

	out := api.Device{
		Slug:            slug,
		Name:            name,
		Location:        device.Location,
		Platform:        platform.Platform,
		PlatformVersion: platform.PlatformVersion,
		Arch:            platform.Arch,
		CPUInfo:         []string{cpuModel},
		AcceleratorInfo: names,
		Version:         version.Current().Version,
		Virtualization:  platform.Virtualization,
	}
	if !platform.BootTime.IsZero() {
		out.BootTime = platform.BootTime.UTC().Format(time.RFC3339)
	}
	return out
}

func buildSnapshot(snap snapshot.Snapshot) api.Snapshot {
	host := snap.Host
	out := api.Snapshot{
		RecordedAt:    snap.RecordedAt.UTC().Format(time.RFC3339Nano),
		UptimeSeconds: host.UptimeSeconds,
		Online:        true,
		CPUUsage:      host.CPUPercent,
		Memory:        capacity(host.Memory),
		Disk:          capacity(host.Disk),
		ProcessCount:  host.ProcessCount,
		GPU: api.GPU{
			Utilization:      snap.GPU.Utilization,
			MemoryTotalBytes: snap.GPU.MemoryTotalBytes,
			MemoryUsedBytes:  snap.GPU.MemoryUsedBytes,
		},
	}
	if host.Swap != nil {
		swap := capacity(*host.Swap)
		out.Swap = &swap
	}
	if host.Load != nil {
		out.Load = &api.Load{Load1: host.Load.Load1, Load5: host.Load.Load5, Load15: host.Load.Load15}
	}
	if host.Network != nil {
		out.Network = &api.Network{
			InTransferBytes:  host.Network.InTransferBytes,
			OutTransferBytes: host.Network.OutTransferBytes,
		}
	}
	return out
}

func buildAccelerators(rows []nvsmi.DeviceRow, processes map[string][]nvsmi.ProcessRow) []api.Accelerator {
	out := make([]api.Accelerator, 0, len(rows))
	for _, row := range rows {
		procs := processes[row.UUID]
		wireProcs := make([]api.Process, 0, len(procs))
		for _, proc := range procs {
			wireProcs = append(wireProcs, api.Process{
				PID:         proc.PID,
				Name:        proc.Name,
				User:        proc.User,
				MemoryBytes: proc.MemoryBytes,
			})
		}

		out = append(out, api.Accelerator{
			Slot:              row.Slot,
			Kind:              api.KindGPU,
			Name:              row.Name,
			Vendor:            api.VendorNVIDIA,
			BusID:             row.UUID,
			MemoryTotalBytes:  row.MemoryTotalBytes,
			MemoryUsedBytes:   row.MemoryUsedBytes,
			Utilization:       row.Utilization,
			MemoryUtilization: row.MemoryUtilization,
			TemperatureC:      row.TemperatureC,
			PowerWatts:        row.PowerWatts,
			PowerLimitWatts:   row.PowerLimitWatts,
			Processes:         wireProcs,
		})
	}
	return out
}

func capacity(c hostinfo.Capacity) api.Capacity {
	return api.Capacity{TotalBytes: c.TotalBytes, UsedBytes: c.UsedBytes}
}

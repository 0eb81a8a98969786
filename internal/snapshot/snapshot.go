// Package snapshot combines one cycle's GPU rows and host metrics.
package snapshot

import (
	"time"

	"github.com/skobkin/lab-agent/internal/hostinfo"
	"github.com/skobkin/lab-agent/internal/nvsmi"
)

// Snapshot is the aggregated view of a single cycle.
type Snapshot struct {
	RecordedAt time.Time
	Host       hostinfo.Metrics
	GPU        GPUSummary
}

// GPUSummary aggregates all devices. Utilization is nil when no devices were found.
type GPUSummary struct {
	Utilization      *float64
	MemoryTotalBytes int64
	MemoryUsedBytes  int64
	DeviceCount      int
}

// Aggregate builds a Snapshot from the parsed device rows and host metrics.
//
// A device without a utilization reading counts as 0 in the mean, so the
// divisor is always the number of devices rather than the number of readings.
func Aggregate(rows []nvsmi.DeviceRow, host hostinfo.Metrics, recordedAt time.Time) Snapshot {
	summary := GPUSummary{DeviceCount: len(rows)}

	var utilSum float64
	for _, row := range rows {
		summary.MemoryTotalBytes += row.MemoryTotalBytes
		summary.MemoryUsedBytes += row.MemoryUsedBytes
		if row.Utilization != nil {
			utilSum += *row.Utilization
		}
	}
	if len(rows) > 0 {
		mean := utilSum / float64(len(rows))
		summary.Utilization = &mean
	}

	return Snapshot{
		RecordedAt: recordedAt.UTC(),
		Host:       host,
		GPU:        summary,
	}
}

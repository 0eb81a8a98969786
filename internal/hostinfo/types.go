package hostinfo

import "time"

// Metrics is one sample of host resource usage.
// Swap, Load and Network are best effort and nil when the host does not expose them.
type Metrics struct {
	CPUPercent    float64
	Memory        Capacity
	Disk          Capacity
	UptimeSeconds int64
	ProcessCount  int
	BootTime      time.Time
	Swap          *Capacity
	Load          *LoadAverage
	Network       *NetworkTotals
}

// Capacity pairs a total with the used portion, both in bytes.
type Capacity struct {
	TotalBytes uint64
	UsedBytes  uint64
}

// LoadAverage holds the 1, 5 and 15 minute run-queue averages.
type LoadAverage struct {
	Load1  float64
	Load5  float64
	Load15 float64
}

// NetworkTotals are cumulative byte counters across all interfaces since boot.
type NetworkTotals struct {
	InTransferBytes  uint64
	OutTransferBytes uint64
}

// Platform describes the host operating environment.
type Platform struct {
	Hostname        string
	Platform        string
	PlatformVersion string
	Arch            string
	CPUModel        string
	Virtualization  string
	BootTime        time.Time
}

// Error reports a failed host query.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "host " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

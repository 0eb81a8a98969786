// Package api defines the JSON documents accepted by the lab ingestion endpoint.
package api

// TokenHeader carries the static ingestion token.
const TokenHeader = "x-lab-token"

// Accelerator kinds and vendors reported by this agent.
const (
	KindGPU      = "GPU"
	VendorNVIDIA = "NVIDIA"
)

// Payload is the body of one ingestion request.
type Payload struct {
	Device       Device        `json:"device"`
	Snapshot     Snapshot      `json:"snapshot"`
	Accelerators []Accelerator `json:"accelerators"`
}

// Device describes the reporting host.
type Device struct {
	Slug            string   `json:"slug"`
	Name            string   `json:"name"`
	Location        *string  `json:"location"`
	Platform        string   `json:"platform"`
	PlatformVersion string   `json:"platformVersion"`
	Arch            string   `json:"arch"`
	CPUInfo         []string `json:"cpuInfo"`
	AcceleratorInfo []string `json:"acceleratorInfo"`
	Version         string   `json:"version,omitempty"`
	BootTime        string   `json:"bootTime,omitempty"`
	Virtualization  string   `json:"virtualization,omitempty"`
}

// Snapshot is the host and aggregate GPU state at RecordedAt.
type Snapshot struct {
	RecordedAt    string    `json:"recordedAt"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	Online        bool      `json:"online"`
	CPUUsage      float64   `json:"cpuUsage"`
	Memory        Capacity  `json:"memory"`
	Disk          Capacity  `json:"disk"`
	Swap          *Capacity `json:"swap,omitempty"`
	Load          *Load     `json:"load,omitempty"`
	Network       *Network  `json:"network,omitempty"`
	ProcessCount  int       `json:"processCount"`
	GPU           GPU       `json:"gpu"`
}

// Capacity is a total/used pair in bytes.
type Capacity struct {
	TotalBytes uint64 `json:"totalBytes"`
	UsedBytes  uint64 `json:"usedBytes"`
}

// Load holds run-queue averages.
type Load struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// Network holds cumulative transfer counters.
type Network struct {
	InTransferBytes  uint64 `json:"inTransferBytes"`
	OutTransferBytes uint64 `json:"outTransferBytes"`
}

// GPU summarises all accelerators. Utilization is null when none were found.
type GPU struct {
	Utilization      *float64 `json:"utilization"`
	MemoryTotalBytes int64    `json:"memoryTotalBytes"`
	MemoryUsedBytes  int64    `json:"memoryUsedBytes"`
}

// Accelerator is one device with its compute processes.
type Accelerator struct {
	Slot              int       `json:"slot"`
	Kind              string    `json:"kind"`
	Name              string    `json:"name"`
	Vendor            string    `json:"vendor"`
	BusID             string    `json:"busId"`
	MemoryTotalBytes  int64     `json:"memoryTotalBytes"`
	MemoryUsedBytes   int64     `json:"memoryUsedBytes"`
	Utilization       *float64  `json:"utilization"`
	MemoryUtilization *float64  `json:"memoryUtilization"`
	TemperatureC      *float64  `json:"temperatureC"`
	PowerWatts        *float64  `json:"powerWatts"`
	PowerLimitWatts   *float64  `json:"powerLimitWatts,omitempty"`
	Processes         []Process `json:"processes"`
}

// Process is a compute process holding accelerator memory.
type Process struct {
	PID         int     `json:"pid"`
	Name        string  `json:"name"`
	User        *string `json:"user"`
	MemoryBytes *int64  `json:"memoryBytes"`
}

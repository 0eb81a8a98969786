package nvsmi

import (
	"fmt"
	"strings"
)

// DeviceRow is a single GPU as reported by the device query.
// Pointer fields are nil when the tool did not report a value.
type DeviceRow struct {
	Slot              int      `json:"slot"`
	UUID              string   `json:"uuid"`
	Name              string   `json:"name"`
	MemoryTotalBytes  int64    `json:"memory_total_bytes"`
	MemoryUsedBytes   int64    `json:"memory_used_bytes"`
	Utilization       *float64 `json:"utilization"`
	MemoryUtilization *float64 `json:"memory_utilization"`
	TemperatureC      *float64 `json:"temperature_c"`
	PowerWatts        *float64 `json:"power_watts"`
	PowerLimitWatts   *float64 `json:"power_limit_watts"`
}

// ProcessRow is a compute process holding memory on a GPU.
type ProcessRow struct {
	PID         int     `json:"pid"`
	Name        string  `json:"name"`
	User        *string `json:"user"`
	MemoryBytes *int64  `json:"memory_bytes"`
}

// ToolError reports a failed invocation of the GPU query tool: the binary is
// missing, exited non-zero or could not be started.
type ToolError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %v", e.Command, e.Err)
	if e.Stderr != "" {
		b.WriteString(": ")
		b.WriteString(e.Stderr)
	}
	return b.String()
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Package nvsmi samples NVIDIA GPUs through the nvidia-smi query interface.
package nvsmi

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

const csvFormat = "--format=csv,noheader,nounits"

// UserLookup resolves the owning username of a process.
type UserLookup interface {
	Username(ctx context.Context, pid int) (string, error)
}

// Sampler runs the device and process queries and parses their output.
type Sampler struct {
	binary string
	runner Runner
	users  UserLookup
	logger *slog.Logger
}

// NewSampler constructs a Sampler. A nil runner executes commands on the host;
// a nil users lookup leaves every process username absent.
func NewSampler(binary string, runner Runner, users UserLookup, logger *slog.Logger) *Sampler {
	if binary == "" {
		binary = "nvidia-smi"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Sampler{
		binary: binary,
		runner: runner,
		users:  users,
		logger: orDiscard(logger),
	}
}

// Sample returns the current device rows and the compute processes grouped by
// GPU uuid. Any failure to run either query is returned as *ToolError.
func (s *Sampler) Sample(ctx context.Context) ([]DeviceRow, map[string][]ProcessRow, error) {
	rawDevices, err := s.query(ctx, "--query-gpu="+strings.Join(deviceQueryFields, ","))
	if err != nil {
		return nil, nil, err
	}
	rawProcesses, err := s.query(ctx, "--query-compute-apps="+strings.Join(processQueryFields, ","))
	if err != nil {
		return nil, nil, err
	}

	devices := ParseDevices(rawDevices, s.logger)
	processes := ParseProcesses(rawProcesses, func(pid int) *string {
		return s.lookupUser(ctx, pid)
	}, s.logger)

	s.logger.Debug("sampled gpus", "devices", len(devices), "process_groups", len(processes))
	return devices, processes, nil
}

func (s *Sampler) query(ctx context.Context, query string) ([]byte, error) {
	out, err := s.runner.Run(ctx, s.binary, query, csvFormat)
	if err == nil {
		return out, nil
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return nil, err
	}
	return nil, &ToolError{Command: commandLine(s.binary, []string{query, csvFormat}), Err: err}
}

func (s *Sampler) lookupUser(ctx context.Context, pid int) *string {
	if s.users == nil {
		return nil
	}
	name, err := s.users.Username(ctx, pid)
	if err != nil || name == "" {
		s.logger.Debug("process owner lookup failed", "pid", pid, "err", err)
		return nil
	}
	return &name
}

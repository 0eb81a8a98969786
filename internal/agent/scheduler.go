// Package agent runs the periodic sample and upload cycle.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/lab-agent/internal/api"
	"github.com/skobkin/lab-agent/internal/config"
	"github.com/skobkin/lab-agent/internal/hostinfo"
	"github.com/skobkin/lab-agent/internal/nvsmi"
	"github.com/skobkin/lab-agent/internal/payload"
	"github.com/skobkin/lab-agent/internal/snapshot"
	"github.com/skobkin/lab-agent/internal/uploader"
)

// GPUSampler reads the current device and process tables.
type GPUSampler interface {
	Sample(ctx context.Context) ([]nvsmi.DeviceRow, map[string][]nvsmi.ProcessRow, error)
}

// HostProvider reads host metrics and platform details.
type HostProvider interface {
	Metrics(ctx context.Context, diskPath string) (hostinfo.Metrics, error)
	Platform(ctx context.Context) (hostinfo.Platform, error)
}

// Uploader delivers one payload.
type Uploader interface {
	Upload(ctx context.Context, p api.Payload) (uploader.Result, error)
}

// Scheduler runs cycles one after another. A cycle never overlaps the next:
// the interval is waited out only after the previous cycle has finished.
type Scheduler struct {
	device   config.DeviceConfig
	diskPath string
	interval time.Duration
	once     bool

	sampler  GPUSampler
	host     HostProvider
	uploader Uploader
	status   *Status
	logger   *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewScheduler builds a Scheduler from the startup configuration. A nil status
// allocates a private one.
func NewScheduler(cfg config.Config, sampler GPUSampler, host HostProvider, up Uploader, status *Status, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if status == nil {
		status = NewStatus()
	}
	return &Scheduler{
		device:   cfg.Device,
		diskPath: cfg.DiskPath,
		interval: cfg.EffectiveInterval(),
		once:     cfg.Once,
		sampler:  sampler,
		host:     host,
		uploader: up,
		status:   status,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
		after:    time.After,
	}
}

// Status returns the tracker updated after every cycle.
func (s *Scheduler) Status() *Status {
	return s.status
}

// Run executes the first cycle immediately and then one cycle per interval
// until ctx is canceled. In single-shot mode it returns after one cycle.
// Cycle failures are logged and never end the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.once {
		s.logger.Info("single-shot mode")
	} else {
		s.logger.Info("scheduler started", "interval", s.interval)
	}

	for {
		s.RunCycle(ctx)
		if s.once {
			return nil
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-s.after(s.interval):
		}
	}
}

// RunCycle performs one pass and records its outcome. No upload is attempted
// unless a complete payload was built.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	result := CycleResult{
		ID:      uuid.NewString(),
		Started: s.now(),
	}
	logger := s.logger.With("cycle_id", result.ID)

	p, err := s.collect(ctx)
	if err == nil {
		result.Payload = &p
		result.Upload, err = s.uploader.Upload(ctx, p)
	}

	result.Err = err
	result.Kind = Classify(err)
	result.Duration = s.now().Sub(result.Started)

	if result.OK() {
		logger.Debug("cycle finished", "duration", result.Duration)
	} else {
		logger.Error("failed to post snapshot", "kind", result.Kind, "duration", result.Duration, "err", err)
	}

	s.status.Record(result)
	return result
}

// Collect samples and builds a payload without uploading it.
func (s *Scheduler) Collect(ctx context.Context) (api.Payload, error) {
	return s.collect(ctx)
}

func (s *Scheduler) collect(ctx context.Context) (api.Payload, error) {
	rows, processes, err := s.sampler.Sample(ctx)
	if err != nil {
		return api.Payload{}, fmt.Errorf("sample gpus: %w", err)
	}

	host, err := s.host.Metrics(ctx, s.diskPath)
	if err != nil {
		return api.Payload{}, fmt.Errorf("sample host: %w", err)
	}
	snap := snapshot.Aggregate(rows, host, s.now())

	platform, err := s.host.Platform(ctx)
	if err != nil {
		return api.Payload{}, fmt.Errorf("read platform: %w", err)
	}

	return payload.Build(s.device, platform, rows, processes, snap), nil
}

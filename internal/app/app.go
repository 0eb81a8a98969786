// Package app wires up and runs the agent services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/lab-agent/internal/agent"
	"github.com/skobkin/lab-agent/internal/config"
	"github.com/skobkin/lab-agent/internal/gpu"
	"github.com/skobkin/lab-agent/internal/hostinfo"
	"github.com/skobkin/lab-agent/internal/httpserver"
	"github.com/skobkin/lab-agent/internal/nvsmi"
	"github.com/skobkin/lab-agent/internal/uploader"
)

const shutdownTimeout = 10 * time.Second

// NewScheduler builds the cycle pipeline from cfg. Command execution and host
// queries go to the local machine.
func NewScheduler(baseLogger *slog.Logger, cfg config.Config, status *agent.Status) *agent.Scheduler {
	host := hostinfo.NewProvider(baseLogger.With("component", "hostinfo"))
	sampler := nvsmi.NewSampler(cfg.NvidiaSMI, nil, host, baseLogger.With("component", "nvsmi"))
	client := uploader.New(cfg.Endpoint, cfg.Token, baseLogger.With("component", "uploader"))

	return agent.NewScheduler(cfg, sampler, host, client, status, baseLogger)
}

// Run bootstraps the agent lifecycle. It returns after one cycle in
// single-shot mode and on context cancellation otherwise.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	gpus, err := gpu.Discover(cfg.SysfsRoot, baseLogger.With("component", "gpu_discovery"))
	if err != nil {
		appLogger.Warn("pci discovery failed", "err", err)
	}
	appLogger.Info("discovered GPUs", "count", len(gpus))

	status := agent.NewStatus()

	var (
		srv   *httpserver.Server
		errCh chan error
	)
	if cfg.MetricsAddr != "" {
		srv = httpserver.New(cfg.MetricsAddr, baseLogger, status, gpus)
		ln, err := srv.Listen()
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		errCh = make(chan error, 1)
		go func() {
			errCh <- srv.Serve(ln)
		}()
	}

	scheduler := NewScheduler(baseLogger, cfg, status)

	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()

	schedErrCh := make(chan error, 1)
	go func() {
		schedErrCh <- scheduler.Run(schedCtx)
	}()

	var runErr error
	select {
	case err := <-schedErrCh:
		schedErrCh = nil
		runErr = err
	case err := <-errCh:
		errCh = nil
		if err != nil {
			runErr = fmt.Errorf("metrics listener: %w", err)
		}
	case <-ctx.Done():
		appLogger.Info("shutdown initiated", "reason", ctx.Err())
	}

	schedCancel()
	if schedErrCh != nil {
		if err := <-schedErrCh; err != nil && runErr == nil {
			runErr = err
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
			runErr = fmt.Errorf("metrics listener shutdown: %w", err)
		}
		if errCh != nil {
			if err := <-errCh; err != nil && runErr == nil {
				runErr = err
			}
		}
	}

	if runErr == nil {
		appLogger.Info("shutdown complete")
	}
	return runErr
}

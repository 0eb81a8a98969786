package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/skobkin/lab-agent/internal/agent"
	"github.com/skobkin/lab-agent/internal/app"
	"github.com/skobkin/lab-agent/internal/config"
	"github.com/skobkin/lab-agent/internal/gpu"
)

type options struct {
	sysfsRoot  string
	nvidiaSMI  string
	diskPath   string
	slug       string
	name       string
	sample     bool
	jsonOutput bool
	timeout    time.Duration
}

func parseFlags() options {
	var opts options
	pflag.StringVar(&opts.sysfsRoot, "sysfs", envOrDefault("LAB_SYSFS_ROOT", "/sys"), "Path to sysfs root")
	pflag.StringVar(&opts.nvidiaSMI, "nvidia-smi", envOrDefault("LAB_NVIDIA_SMI", "nvidia-smi"), "Path to the nvidia-smi binary")
	pflag.StringVar(&opts.diskPath, "disk-path", envOrDefault("LAB_DISK_PATH", "/"), "Filesystem path whose usage is reported")
	pflag.StringVar(&opts.slug, "slug", os.Getenv("LAB_DEVICE_SLUG"), "Device slug (defaults to hostname)")
	pflag.StringVar(&opts.name, "name", os.Getenv("LAB_DEVICE_NAME"), "Device display name (defaults to hostname)")
	pflag.BoolVar(&opts.sample, "sample", false, "Build one payload and print it without uploading")
	pflag.BoolVar(&opts.jsonOutput, "json", false, "Emit discovery result as JSON")
	pflag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Deadline for the sample run")
	pflag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	infos, err := gpu.Discover(opts.sysfsRoot, logger.With("component", "gpu_discovery"))
	if err != nil {
		logger.Error("gpu discovery failed", "err", err)
		os.Exit(1)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(infos); err != nil {
			logger.Error("encode discovery output", "err", err)
			os.Exit(1)
		}
	} else {
		if len(infos) == 0 {
			fmt.Println("No NVIDIA GPUs detected on the PCI bus")
		} else {
			fmt.Println("Discovered GPUs:")
		}
		for _, info := range infos {
			fmt.Printf("- %s (PCIID: %s, Class: %s, Driver: %s, Name: %s)\n", info.PCI, info.PCIID, info.Class, info.Driver, info.Name)
		}
	}

	if !opts.sample {
		return
	}

	cfg := config.Config{
		Device:    config.DeviceConfig{Slug: opts.slug, Name: opts.name},
		DiskPath:  opts.diskPath,
		Interval:  config.DefaultInterval,
		Once:      true,
		NvidiaSMI: opts.nvidiaSMI,
	}
	scheduler := app.NewScheduler(logger, cfg, agent.NewStatus())

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	fmt.Println()
	fmt.Printf("Collecting snapshot at %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Println(strings.Repeat("-", 60))

	p, err := scheduler.Collect(ctx)
	if err != nil {
		logger.Error("collect snapshot", "kind", agent.Classify(err), "err", err)
		os.Exit(1)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		logger.Error("encode payload", "err", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n\n", data)
	fmt.Printf("%d GPU(s), %s of %s VRAM in use\n",
		len(p.Accelerators),
		humanize.IBytes(uint64(max(p.Snapshot.GPU.MemoryUsedBytes, 0))),
		humanize.IBytes(uint64(max(p.Snapshot.GPU.MemoryTotalBytes, 0))),
	)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

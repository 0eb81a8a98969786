package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const (
	// DefaultInterval is the pause between the end of one cycle and the start of the next.
	DefaultInterval = 300 * time.Second
	// MinInterval bounds the pause so a misconfigured agent cannot hammer the endpoint.
	MinInterval = 5 * time.Second
)

// ErrMissingRequired is returned when the ingestion endpoint or token is not configured.
var ErrMissingRequired = errors.New("LAB_ENDPOINT and LAB_TOKEN (or --endpoint/--token) are required")

// Config is the runtime configuration of the agent. It is built once at startup
// and handed to the application by value.
type Config struct {
	Endpoint    string
	Token       string
	Device      DeviceConfig
	DiskPath    string
	Interval    time.Duration
	Once        bool
	NvidiaSMI   string
	MetricsAddr string
	SysfsRoot   string
	LogLevel    slog.Level
}

// DeviceConfig identifies the reporting machine on the ingestion side.
// Empty Slug or Name fall back to the hostname when the payload is built.
type DeviceConfig struct {
	Slug     string
	Name     string
	Location *string
}

// EffectiveInterval returns the configured interval clamped to MinInterval.
func (c Config) EffectiveInterval() time.Duration {
	if c.Interval < MinInterval {
		return MinInterval
	}
	return c.Interval
}

// Load builds the configuration from environment variables and command-line
// arguments (without the program name). Flags take precedence over the environment.
func Load(args []string) (Config, error) {
	cfg := defaults()

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := applyFlags(&cfg, args); err != nil {
		return Config{}, err
	}

	if cfg.Endpoint == "" || cfg.Token == "" {
		return Config{}, ErrMissingRequired
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		DiskPath:  "/",
		Interval:  DefaultInterval,
		NvidiaSMI: "nvidia-smi",
		SysfsRoot: "/sys",
		LogLevel:  slog.LevelInfo,
	}
}

func applyEnv(cfg *Config) error {
	if value := strings.TrimSpace(os.Getenv("LAB_ENDPOINT")); value != "" {
		cfg.Endpoint = value
	}

	if value := strings.TrimSpace(os.Getenv("LAB_TOKEN")); value != "" {
		cfg.Token = value
	}

	if value := strings.TrimSpace(os.Getenv("LAB_DEVICE_SLUG")); value != "" {
		cfg.Device.Slug = value
	}

	if value := strings.TrimSpace(os.Getenv("LAB_DEVICE_NAME")); value != "" {
		cfg.Device.Name = value
	}

	if value := strings.TrimSpace(os.Getenv("LAB_DEVICE_LOCATION")); value != "" {
		cfg.Device.Location = &value
	}

	if value := strings.TrimSpace(os.Getenv("LAB_DISK_PATH")); value != "" {
		cfg.DiskPath = value
	}

	if value := strings.TrimSpace(os.Getenv("LAB_INTERVAL")); value != "" {
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parse LAB_INTERVAL: %w", err)
		}
		interval, err := secondsToInterval(seconds)
		if err != nil {
			return fmt.Errorf("parse LAB_INTERVAL: %w", err)
		}
		cfg.Interval = interval
	}

	if value := strings.TrimSpace(os.Getenv("LAB_ONCE")); value != "" {
		once, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse LAB_ONCE: %w", err)
		}
		cfg.Once = once
	}

	if value := strings.TrimSpace(os.Getenv("LAB_NVIDIA_SMI")); value != "" {
		cfg.NvidiaSMI = value
	}

	if value := strings.TrimSpace(os.Getenv("LAB_METRICS_ADDR")); value != "" {
		cfg.MetricsAddr = value
	}

	if value := strings.TrimSpace(os.Getenv("LAB_SYSFS_ROOT")); value != "" {
		cfg.SysfsRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("LAB_LOG_LEVEL")); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return fmt.Errorf("parse LAB_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	return nil
}

// flagValues holds flags whose type differs from the Config field they set.
type flagValues struct {
	location        string
	intervalSeconds int
	logLevel        string
}

func newFlagSet(cfg *Config) (*pflag.FlagSet, *flagValues) {
	fs := pflag.NewFlagSet("lab-agent", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	values := &flagValues{
		intervalSeconds: int(cfg.Interval / time.Second),
		logLevel:        cfg.LogLevel.String(),
	}
	if cfg.Device.Location != nil {
		values.location = *cfg.Device.Location
	}

	fs.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "Ingestion endpoint URL (LAB_ENDPOINT)")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "Ingestion token sent as x-lab-token (LAB_TOKEN)")
	fs.StringVar(&cfg.Device.Slug, "slug", cfg.Device.Slug, "Device slug, defaults to hostname (LAB_DEVICE_SLUG)")
	fs.StringVar(&cfg.Device.Name, "name", cfg.Device.Name, "Device display name, defaults to hostname (LAB_DEVICE_NAME)")
	fs.StringVar(&values.location, "location", values.location, "Device location (LAB_DEVICE_LOCATION)")
	fs.StringVar(&cfg.DiskPath, "disk-path", cfg.DiskPath, "Filesystem path whose usage is reported (LAB_DISK_PATH)")
	fs.IntVar(&values.intervalSeconds, "interval", values.intervalSeconds, "Seconds between samples, at least 5 (LAB_INTERVAL)")
	fs.BoolVar(&cfg.Once, "once", cfg.Once, "Collect and post a single snapshot, then exit (LAB_ONCE)")
	fs.StringVar(&cfg.NvidiaSMI, "nvidia-smi", cfg.NvidiaSMI, "Path to the nvidia-smi binary (LAB_NVIDIA_SMI)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Listen address for the local status and metrics endpoint (LAB_METRICS_ADDR)")
	fs.StringVar(&cfg.SysfsRoot, "sysfs", cfg.SysfsRoot, "Path to sysfs root (LAB_SYSFS_ROOT)")
	fs.StringVar(&values.logLevel, "log-level", values.logLevel, "Log level: debug, info, warn, error (LAB_LOG_LEVEL)")

	return fs, values
}

// Usage returns the flag reference printed for --help.
func Usage() string {
	cfg := defaults()
	fs, _ := newFlagSet(&cfg)
	return fs.FlagUsages()
}

func applyFlags(cfg *Config, args []string) error {
	fs, values := newFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	if fs.Changed("location") {
		if values.location == "" {
			cfg.Device.Location = nil
		} else {
			location := values.location
			cfg.Device.Location = &location
		}
	}
	if fs.Changed("interval") {
		interval, err := secondsToInterval(values.intervalSeconds)
		if err != nil {
			return fmt.Errorf("parse --interval: %w", err)
		}
		cfg.Interval = interval
	}
	if fs.Changed("log-level") {
		level, err := parseLogLevel(values.logLevel)
		if err != nil {
			return fmt.Errorf("parse --log-level: %w", err)
		}
		cfg.LogLevel = level
	}

	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Token = strings.TrimSpace(cfg.Token)

	return nil
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}

// maxIntervalSeconds is the longest interval a time.Duration can hold.
const maxIntervalSeconds = math.MaxInt64 / int64(time.Second)

func secondsToInterval(seconds int) (time.Duration, error) {
	if int64(seconds) > maxIntervalSeconds {
		return 0, fmt.Errorf("%d seconds exceeds the maximum of %d", seconds, maxIntervalSeconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

package hostinfo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/shirou/gopsutil/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderMetrics(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("host metrics test requires linux")
	}

	provider := NewProvider(nil)
	metrics, err := provider.Metrics(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Positive(t, metrics.Memory.TotalBytes)
	assert.LessOrEqual(t, metrics.Memory.UsedBytes, metrics.Memory.TotalBytes)
	assert.Positive(t, metrics.Disk.TotalBytes)
	assert.Positive(t, metrics.ProcessCount)
	assert.GreaterOrEqual(t, metrics.UptimeSeconds, int64(0))
	assert.GreaterOrEqual(t, metrics.CPUPercent, 0.0)
	assert.False(t, metrics.BootTime.IsZero())
}

func TestProviderMetricsUptimeNeverNegative(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("host metrics test requires linux")
	}

	provider := NewProvider(nil)
	provider.now = func() time.Time { return time.Unix(0, 0) }

	metrics, err := provider.Metrics(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, int64(0), metrics.UptimeSeconds)
}

func TestProviderMetricsBadDiskPath(t *testing.T) {
	provider := NewProvider(nil)
	missing := filepath.Join(t.TempDir(), "does", "not", "exist")

	_, err := provider.Metrics(context.Background(), missing)
	require.Error(t, err)

	var hostErr *Error
	require.True(t, errors.As(err, &hostErr))
	assert.Contains(t, hostErr.Op, "disk usage")
}

func TestProviderPlatform(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("platform test requires linux")
	}

	platform, err := NewProvider(nil).Platform(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, platform.Hostname)
	assert.NotEmpty(t, platform.Arch)
	assert.NotEmpty(t, platform.CPUModel)
	assert.Contains(t, platform.Platform, "linux")
	assert.NotEmpty(t, platform.PlatformVersion)
}

func TestKernelVersion(t *testing.T) {
	info := &host.InfoStat{KernelVersion: "6.8.0-45-generic"}
	dir := t.TempDir()

	build := filepath.Join(dir, "version")
	require.NoError(t, os.WriteFile(build, []byte("#45-Ubuntu SMP PREEMPT_DYNAMIC Fri Aug 30 12:02:04 UTC 2024\n"), 0o600))
	blank := filepath.Join(dir, "blank")
	require.NoError(t, os.WriteFile(blank, []byte("\n"), 0o600))

	testCases := []struct {
		name string
		path string
		want string
	}{
		{"BuildString", build, "#45-Ubuntu SMP PREEMPT_DYNAMIC Fri Aug 30 12:02:04 UTC 2024"},
		{"Missing", filepath.Join(dir, "absent"), "6.8.0-45-generic"},
		{"Blank", blank, "6.8.0-45-generic"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			provider := NewProvider(nil)
			provider.kernelBuild = tc.path
			assert.Equal(t, tc.want, provider.kernelVersion(info))
		})
	}
}

func TestProviderUsernameMissingProcess(t *testing.T) {
	// PIDs are bounded well below this on every supported kernel.
	_, err := NewProvider(nil).Username(context.Background(), 1<<30)
	assert.Error(t, err)
}

func TestPlatformString(t *testing.T) {
	testCases := []struct {
		name string
		info host.InfoStat
		want string
	}{
		{"Full", host.InfoStat{OS: "linux", KernelVersion: "6.8.0-45-generic", KernelArch: "x86_64"}, "linux-6.8.0-45-generic-x86_64"},
		{"MissingKernel", host.InfoStat{OS: "linux", KernelArch: "aarch64"}, "linux-aarch64"},
		{"Empty", host.InfoStat{}, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			info := tc.info
			assert.Equal(t, tc.want, platformString(&info))
		})
	}
}

package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/lab-agent/internal/config"
)

func testConfig(t *testing.T, endpoint string) config.Config {
	t.Helper()

	return config.Config{
		Endpoint:  endpoint,
		Token:     "secret",
		DiskPath:  t.TempDir(),
		Interval:  config.DefaultInterval,
		Once:      true,
		NvidiaSMI: filepath.Join(t.TempDir(), "nvidia-smi"),
		SysfsRoot: t.TempDir(),
		LogLevel:  slog.LevelInfo,
	}
}

func newIngest(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

func TestRunFailsWhenMetricsAddrIsBusy(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	ingest, hits := newIngest(t)
	cfg := testConfig(t, ingest.URL)
	cfg.MetricsAddr = busy.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for range 5 {
		err = Run(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metrics listener")
	}
	assert.Zero(t, hits.Load())
}

func TestRunOnceWithMetricsListener(t *testing.T) {
	ingest, hits := newIngest(t)
	cfg := testConfig(t, ingest.URL)
	cfg.MetricsAddr = "127.0.0.1:0"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The missing nvidia-smi fails the cycle before any upload; single-shot
	// mode still exits cleanly.
	err := Run(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	require.NoError(t, err)
	assert.Zero(t, hits.Load())
}

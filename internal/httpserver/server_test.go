package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/lab-agent/internal/agent"
	"github.com/skobkin/lab-agent/internal/api"
	"github.com/skobkin/lab-agent/internal/gpu"
	"github.com/skobkin/lab-agent/internal/uploader"
	"github.com/skobkin/lab-agent/internal/version"
)

func float64Ptr(v float64) *float64 { return &v }

func TestHealthzOK(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, agent.NewStatus(), nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestHealthzRejectsPost(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, agent.NewStatus(), nil)

	resp, err := http.Post(ts.URL+"/healthz", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodGet, resp.Header.Get("Allow"))
}

func TestReadyzStates(t *testing.T) {
	t.Parallel()

	status := agent.NewStatus()
	_, ts := newTestHTTPServer(t, status, []gpu.Info{{PCI: "0000:41:00.0"}})

	assertReadyz(t, ts.URL+"/readyz", http.StatusServiceUnavailable, "initializing", "waiting_for_first_cycle")

	status.Record(agent.CycleResult{
		Kind:    agent.KindUpload,
		Err:     &uploader.Error{StatusCode: http.StatusUnauthorized},
		Started: time.Now(),
	})
	assertReadyz(t, ts.URL+"/readyz", http.StatusServiceUnavailable, "degraded", "upload")

	status.Record(agent.CycleResult{Kind: agent.KindOK, Started: time.Now(), Payload: &api.Payload{}})
	ready := assertReadyz(t, ts.URL+"/readyz", http.StatusOK, "ok", "")
	assert.Equal(t, uint64(2), ready.Cycles)
	assert.Equal(t, 1, ready.GPUs)
	assert.NotEmpty(t, ready.LastSuccess)
}

func TestVersionEndpoint(t *testing.T) {
	version.Set(version.Info{Version: "v0.0.1", Commit: "abc123", BuildTime: "now"})
	t.Cleanup(func() { version.Set(version.Info{}) })

	_, ts := newTestHTTPServer(t, agent.NewStatus(), nil)

	resp, err := http.Get(ts.URL + "/version")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info version.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "v0.0.1", info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, "now", info.BuildTime)
}

func TestAPILast(t *testing.T) {
	t.Parallel()

	status := agent.NewStatus()
	_, ts := newTestHTTPServer(t, status, nil)

	resp, err := http.Get(ts.URL + "/api/last")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "nothing posted yet")

	status.Record(agent.CycleResult{Kind: agent.KindOK, Started: time.Now(), Payload: testPayload()})

	resp, err = http.Get(ts.URL + "/api/last")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload api.Payload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "gpu-box", payload.Device.Slug)
	assert.Len(t, payload.Accelerators, 1)
}

func TestAPIGPUs(t *testing.T) {
	t.Parallel()

	gpus := []gpu.Info{{PCI: "0000:41:00.0", PCIID: "10de:2684", Class: "030000", Name: "AD102 [GeForce RTX 4090]"}}
	_, ts := newTestHTTPServer(t, agent.NewStatus(), gpus)

	resp, err := http.Get(ts.URL + "/api/gpus")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got []gpu.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, gpus, got)
}

func TestPrometheusMetrics(t *testing.T) {
	t.Parallel()

	status := agent.NewStatus()
	status.Record(agent.CycleResult{Kind: agent.KindTool, Err: errors.New("nvidia-smi missing"), Started: time.Now()})
	status.Record(agent.CycleResult{Kind: agent.KindOK, Started: time.Now(), Duration: 1500 * time.Millisecond, Payload: testPayload()})

	_, ts := newTestHTTPServer(t, status, []gpu.Info{{PCI: "0000:41:00.0"}})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(data)

	expected := []string{
		`lab_agent_cycle_total{result="ok"} 1`,
		`lab_agent_cycle_total{result="tool"} 1`,
		`lab_agent_cycle_total{result="upload"} 0`,
		`lab_agent_cycle_duration_seconds 1.5`,
		`lab_agent_cycle_last_success_timestamp_seconds`,
		`lab_agent_pci_devices 1`,
		`lab_agent_gpu_utilization_percent{name="NVIDIA L4",slot="0",uuid="GPU-l4"} 42`,
		`lab_agent_gpu_power_limit_watts{name="NVIDIA L4",slot="0",uuid="GPU-l4"} 72`,
		`lab_agent_gpu_memory_total_bytes{name="NVIDIA L4",slot="0",uuid="GPU-l4"} 2.4152899584e+10`,
		`lab_agent_gpu_processes{name="NVIDIA L4",slot="0",uuid="GPU-l4"} 0`,
	}
	for _, want := range expected {
		assert.Contains(t, body, want)
	}

	assert.NotContains(t, body, "lab_agent_gpu_temperature_celsius", "absent temperature must not be exported")
}

func TestListenBusyAddress(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	srv := New(busy.Addr().String(), slog.New(slog.NewTextHandler(io.Discard, nil)), agent.NewStatus(), nil)

	_, err = srv.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), busy.Addr().String())
}

func TestListenThenServe(t *testing.T) {
	t.Parallel()

	srv := New("127.0.0.1:0", slog.New(slog.NewTextHandler(io.Discard, nil)), agent.NewStatus(), nil)

	ln, err := srv.Listen()
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-errCh, "graceful shutdown is not an error")
}

func testPayload() *api.Payload {
	return &api.Payload{
		Device: api.Device{Slug: "gpu-box", Name: "gpu-box"},
		Accelerators: []api.Accelerator{{
			Slot:             0,
			Kind:             api.KindGPU,
			Name:             "NVIDIA L4",
			Vendor:           api.VendorNVIDIA,
			BusID:            "GPU-l4",
			MemoryTotalBytes: 23034 * 1024 * 1024,
			Utilization:      float64Ptr(42),
			PowerLimitWatts:  float64Ptr(72),
			Processes:        []api.Process{},
		}},
	}
}

func newTestHTTPServer(t *testing.T, status *agent.Status, gpus []gpu.Info) (*Server, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New("127.0.0.1:0", logger, status, gpus)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func assertReadyz(t *testing.T, url string, expectedStatus int, expected string, reason string) readyResponse {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, expectedStatus, resp.StatusCode, url)

	var payload readyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	assert.Equal(t, expected, payload.Status)
	assert.Equal(t, reason, payload.Reason)
	return payload
}

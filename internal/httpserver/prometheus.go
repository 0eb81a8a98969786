package httpserver

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/lab-agent/internal/agent"
	"github.com/skobkin/lab-agent/internal/api"
)

type statusCollector struct {
	status *agent.Status

	cycles        *prometheus.Desc
	lastSuccess   *prometheus.Desc
	cycleDuration *prometheus.Desc
	metrics       []gpuMetric
}

type gpuMetric struct {
	desc    *prometheus.Desc
	extract func(acc api.Accelerator) (float64, bool)
}

func newStatusCollector(status *agent.Status) prometheus.Collector {
	collector := &statusCollector{
		status: status,
		cycles: prometheus.NewDesc(
			prometheus.BuildFQName("lab_agent", "cycle", "total"),
			"Cycles finished since start, by result.",
			[]string{"result"},
			nil,
		),
		lastSuccess: prometheus.NewDesc(
			prometheus.BuildFQName("lab_agent", "cycle", "last_success_timestamp_seconds"),
			"Unix timestamp of the last accepted upload.",
			nil,
			nil,
		),
		cycleDuration: prometheus.NewDesc(
			prometheus.BuildFQName("lab_agent", "cycle", "duration_seconds"),
			"Wall time of the most recent cycle.",
			nil,
			nil,
		),
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("lab_agent", "gpu", name),
			help,
			[]string{"uuid", "slot", "name"},
			nil,
		)
	}

	collector.metrics = []gpuMetric{
		{
			desc:    desc("utilization_percent", "GPU utilization reported in the last posted snapshot."),
			extract: func(acc api.Accelerator) (float64, bool) { return deref(acc.Utilization) },
		},
		{
			desc:    desc("memory_utilization_percent", "Share of GPU memory in use."),
			extract: func(acc api.Accelerator) (float64, bool) { return deref(acc.MemoryUtilization) },
		},
		{
			desc: desc("memory_used_bytes", "GPU memory in use in bytes."),
			extract: func(acc api.Accelerator) (float64, bool) {
				return float64(acc.MemoryUsedBytes), true
			},
		},
		{
			desc: desc("memory_total_bytes", "GPU memory capacity in bytes."),
			extract: func(acc api.Accelerator) (float64, bool) {
				return float64(acc.MemoryTotalBytes), true
			},
		},
		{
			desc:    desc("temperature_celsius", "GPU temperature in Celsius."),
			extract: func(acc api.Accelerator) (float64, bool) { return deref(acc.TemperatureC) },
		},
		{
			desc:    desc("power_watts", "GPU power draw in Watts."),
			extract: func(acc api.Accelerator) (float64, bool) { return deref(acc.PowerWatts) },
		},
		{
			desc:    desc("power_limit_watts", "Configured GPU power limit in Watts."),
			extract: func(acc api.Accelerator) (float64, bool) { return deref(acc.PowerLimitWatts) },
		},
		{
			desc: desc("processes", "Compute processes holding GPU memory."),
			extract: func(acc api.Accelerator) (float64, bool) {
				return float64(len(acc.Processes)), true
			},
		},
	}

	return collector
}

func (c *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cycles
	ch <- c.lastSuccess
	ch <- c.cycleDuration
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *statusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.status.Snapshot()

	for _, kind := range agent.Kinds {
		ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(snap.Counts[kind]), string(kind))
	}
	if !snap.LastSuccess.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastSuccess, prometheus.GaugeValue, float64(snap.LastSuccess.Unix()))
	}
	if snap.Last != nil {
		ch <- prometheus.MustNewConstMetric(c.cycleDuration, prometheus.GaugeValue, snap.Last.Duration.Seconds())
	}

	if snap.LastPayload == nil {
		return
	}
	for _, acc := range snap.LastPayload.Accelerators {
		slot := strconv.Itoa(acc.Slot)
		for _, metric := range c.metrics {
			value, ok := metric.extract(acc)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, value, acc.BusID, slot, acc.Name)
		}
	}
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

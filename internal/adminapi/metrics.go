// ABOUTME: Prometheus gauges for live worker count, backoff state, and signal queue health.
// ABOUTME: Collected lazily from a supervisor.Snapshot on every /metrics scrape.
package adminapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scarson/poolmaster/internal/supervisor"
)

// metricsCollector adapts a supervisor.Snapshot into Prometheus gauges.
// It implements prometheus.Collector directly rather than maintaining a
// background-updated GaugeVec, so /metrics always reflects the Master's
// state as of the scrape, not as of the last poll-hook tick.
type metricsCollector struct {
	registry *prometheus.Registry
	snapshot func() supervisor.Snapshot

	workers    *prometheus.Desc
	delayUntil *prometheus.Desc
	queueDepth *prometheus.Desc
	queueDrops *prometheus.Desc
}

func newMetricsCollector(snapshotFn func() supervisor.Snapshot) *metricsCollector {
	c := &metricsCollector{
		registry: prometheus.NewRegistry(),
		snapshot: snapshotFn,
		workers: prometheus.NewDesc(
			"poolmaster_workers",
			"Number of live worker processes per queue group.",
			[]string{"queue_group"}, nil,
		),
		delayUntil: prometheus.NewDesc(
			"poolmaster_backoff_delay_until_seconds",
			"Unix timestamp until which spawning is suppressed for a queue group, 0 when not backed off.",
			[]string{"queue_group"}, nil,
		),
		queueDepth: prometheus.NewDesc(
			"poolmaster_signal_queue_depth",
			"Number of signals currently buffered in the master's SignalQueue.",
			nil, nil,
		),
		queueDrops: prometheus.NewDesc(
			"poolmaster_signal_queue_drops_total",
			"Number of signals dropped because the SignalQueue was full.",
			nil, nil,
		),
	}
	c.registry.MustRegister(c)
	return c
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.workers
	ch <- c.delayUntil
	ch <- c.queueDepth
	ch <- c.queueDrops
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()

	for g, recs := range snap.Workers {
		ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(len(recs)), string(g))
	}
	for g, until := range snap.DelayUntil {
		sec := 0.0
		if !until.IsZero() {
			sec = float64(until.Unix())
		}
		ch <- prometheus.MustNewConstMetric(c.delayUntil, prometheus.GaugeValue, sec, string(g))
	}
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(snap.QueueDepth))
	ch <- prometheus.MustNewConstMetric(c.queueDrops, prometheus.CounterValue, float64(snap.QueueDrops))
}

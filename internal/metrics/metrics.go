// SPDX-License-Identifier: MIT
//
// Package metrics exposes pipeline telemetry in the Prometheus format. The
// pipeline counters are read from a csi.Stats snapshot at scrape time, so
// nothing is recorded on the capture path.
package metrics

import (
	"net/http"
	"time"

	"csi/internal/csi"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "csi"

// Drop reasons used as the "reason" label of csi_frames_dropped_total.
const (
	ReasonAlloc     = "alloc"
	ReasonQueueFull = "queue_full"
	ReasonNotReady  = "not_ready"
	ReasonSinkError = "sink_error"
)

// Metrics holds the registry and the metrics recorded outside the pipeline.
type Metrics struct {
	reg *prometheus.Registry

	// Sink metrics, observed on the consumer side only
	EmitDuration prometheus.Histogram
	FrameSamples prometheus.Histogram
}

// New creates a registry exporting the snapshot returned by stats together
// with the Go runtime and process collectors.
func New(stats func() csi.Stats) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newStatsCollector(stats),
	)

	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		EmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_emit_duration_seconds",
			Help:      "Time spent in the sink per delivered frame",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10), // 1us to ~260ms
		}),
		FrameSamples: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_samples",
			Help:      "Samples per frame handed to the sink",
			Buckets:   []float64{0, 64, 128, 256, 384, 512, 1024},
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// InstrumentSink wraps s so every Emit is timed and sized.
func (m *Metrics) InstrumentSink(s csi.Sink) csi.Sink {
	return csi.SinkFunc(func(f *csi.Frame) error {
		start := time.Now()
		err := s.Emit(f)
		m.EmitDuration.Observe(time.Since(start).Seconds())
		m.FrameSamples.Observe(float64(f.Len()))
		return err
	})
}

// statsCollector turns one csi.Stats snapshot per scrape into const metrics.
type statsCollector struct {
	stats func() csi.Stats

	info          *prometheus.Desc
	uptime        *prometheus.Desc
	captured      *prometheus.Desc
	rejected      *prometheus.Desc
	enqueued      *prometheus.Desc
	delivered     *prometheus.Desc
	dropped       *prometheus.Desc
	queueDepth    *prometheus.Desc
	queueCapacity *prometheus.Desc
	outstanding   *prometheus.Desc
}

func newStatsCollector(stats func() csi.Stats) *statsCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &statsCollector{
		stats:         stats,
		info:          desc("pipeline_info", "Capture session of this process", "session"),
		uptime:        desc("pipeline_uptime_seconds", "Time since the pipeline was built"),
		captured:      desc("frames_captured_total", "Frames accepted from the radio driver"),
		rejected:      desc("frames_rejected_total", "Driver events without a usable payload"),
		enqueued:      desc("frames_enqueued_total", "Frames handed to the delivery queue"),
		delivered:     desc("frames_delivered_total", "Frames accepted by the sink"),
		dropped:       desc("frames_dropped_total", "Frames lost between driver and sink, by reason", "reason"),
		queueDepth:    desc("queue_depth", "Frames waiting in the delivery queue"),
		queueCapacity: desc("queue_capacity", "Slots in the delivery queue"),
		outstanding:   desc("frames_outstanding", "Frames allocated and not yet released"),
	}
}

// Describe implements prometheus.Collector.
func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.info
	ch <- c.uptime
	ch <- c.captured
	ch <- c.rejected
	ch <- c.enqueued
	ch <- c.delivered
	ch <- c.dropped
	ch <- c.queueDepth
	ch <- c.queueCapacity
	ch <- c.outstanding
}

// Collect implements prometheus.Collector.
func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	gauge(c.info, 1, s.Session)
	gauge(c.uptime, s.Uptime.Seconds())
	counter(c.captured, s.Captured)
	counter(c.rejected, s.Rejected)
	counter(c.enqueued, s.Enqueued)
	counter(c.delivered, s.Delivered)
	counter(c.dropped, s.AllocFailures, ReasonAlloc)
	counter(c.dropped, s.QueueDrops, ReasonQueueFull)
	counter(c.dropped, s.NotReady, ReasonNotReady)
	counter(c.dropped, s.SinkErrors, ReasonSinkError)
	gauge(c.queueDepth, float64(s.QueueDepth))
	gauge(c.queueCapacity, float64(s.QueueCapacity))
	gauge(c.outstanding, float64(s.Outstanding))
}

// Package metrics exposes Prometheus metrics for the capture path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/harpoon/pkg/capture"
)

var (
	// ProcessedPacketsTotal counts packets handed to processors.
	ProcessedPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harpoon_processed_packets_total",
			Help: "Packets delivered to the processor chain",
		},
		[]string{"backend"},
	)

	// FilteredPacketsTotal counts packets dropped by the filter chain.
	FilteredPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harpoon_filtered_packets_total",
			Help: "Packets dropped by the filter chain",
		},
		[]string{"backend", "filter"},
	)

	// ParseResultsTotal counts parse outcomes by protocol and status.
	ParseResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harpoon_parse_results_total",
			Help: "Parse outcomes by protocol and status",
		},
		[]string{"protocol", "status"},
	)
)

// backendDescs are the per-scrape metrics a BackendCollector produces
// from the backend's own counters.
var (
	descCaptured = prometheus.NewDesc(
		"harpoon_capture_packets_total",
		"Packets captured by the backend",
		[]string{"backend", "interface"}, nil)
	descDropped = prometheus.NewDesc(
		"harpoon_capture_drops_total",
		"Packets dropped by the backend",
		[]string{"backend", "interface"}, nil)
	descBytes = prometheus.NewDesc(
		"harpoon_capture_bytes_total",
		"Bytes captured by the backend",
		[]string{"backend", "interface"}, nil)
	descRate = prometheus.NewDesc(
		"harpoon_capture_rate_pps",
		"Capture rate reported by the backend",
		[]string{"backend", "interface"}, nil)
)

// BackendCollector reads a backend's statistics at scrape time instead
// of double counting on the hot path.
type BackendCollector struct {
	kind  string
	iface string
	stats func() capture.Statistics
}

// NewBackendCollector builds a collector over the stats function.
func NewBackendCollector(kind, iface string, stats func() capture.Statistics) *BackendCollector {
	return &BackendCollector{kind: kind, iface: iface, stats: stats}
}

func (c *BackendCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descCaptured
	ch <- descDropped
	ch <- descBytes
	ch <- descRate
}

func (c *BackendCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(descCaptured, prometheus.CounterValue,
		float64(s.PacketsCaptured), c.kind, c.iface)
	ch <- prometheus.MustNewConstMetric(descDropped, prometheus.CounterValue,
		float64(s.PacketsDropped), c.kind, c.iface)
	ch <- prometheus.MustNewConstMetric(descBytes, prometheus.CounterValue,
		float64(s.BytesCaptured), c.kind, c.iface)
	ch <- prometheus.MustNewConstMetric(descRate, prometheus.GaugeValue,
		s.CaptureRate, c.kind, c.iface)
}

// RegisterBackend registers a scrape-time collector for one backend.
// The returned function unregisters it.
func RegisterBackend(kind, iface string, stats func() capture.Statistics) func() {
	c := NewBackendCollector(kind, iface, stats)
	prometheus.MustRegister(c)
	return func() { prometheus.Unregister(c) }
}

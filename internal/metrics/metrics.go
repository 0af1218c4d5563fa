package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediadupfinder/internal/models"
)

// Metrics holds all scan metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Fingerprint metrics
	FilesFingerprinted  *prometheus.CounterVec
	FingerprintDuration *prometheus.HistogramVec

	// Scan metrics
	ScansTotal      *prometheus.CounterVec
	DuplicateGroups prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FilesFingerprinted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediadup_files_fingerprinted_total",
				Help: "Total number of files fingerprinted",
			},
			[]string{"kind", "status"},
		),
		FingerprintDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediadup_fingerprint_duration_seconds",
				Help:    "Time spent fingerprinting one file",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),

		ScansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediadup_scans_total",
				Help: "Total number of scans by outcome",
			},
			[]string{"outcome"},
		),
		DuplicateGroups: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediadup_duplicate_groups",
				Help: "Duplicate groups found by the last completed scan",
			},
		),
	}
}

// Registry returns the registry holding all metrics
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFile records the outcome of fingerprinting one file
func (m *Metrics) ObserveFile(kind models.Kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FilesFingerprinted.WithLabelValues(kind.String(), status).Inc()
	m.FingerprintDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

// ObserveScan records a finished scan
func (m *Metrics) ObserveScan(outcome string, groups int) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		m.DuplicateGroups.Set(float64(groups))
	}
}

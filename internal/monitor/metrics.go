// Package monitor records capture metrics for the node_exporter textfile collector.
package monitor

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is one process' worth of capture metrics on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Captures        *prometheus.CounterVec
	CaptureDuration *prometheus.HistogramVec
	CaptureBytes    *prometheus.GaugeVec
	LastSuccess     *prometheus.GaugeVec
	SessionExit     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hypstar_captures_total",
			Help: "Capture attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		CaptureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hypstar_capture_duration_seconds",
			Help:    "Wall time of a capture pipeline.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		CaptureBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hypstar_capture_bytes",
			Help: "Bytes written by the last capture.",
		}, []string{"kind"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hypstar_last_success_timestamp_seconds",
			Help: "Unix time of the last successful capture.",
		}, []string{"kind"}),
		SessionExit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hypstar_session_exit_code",
			Help: "Exit code of the last session initialization (0, 6 or 27).",
		}),
	}
	m.Registry.MustRegister(m.Captures, m.CaptureDuration, m.CaptureBytes, m.LastSuccess, m.SessionExit)
	return m
}

// ObserveCapture records one pipeline run. outcome is "ok" or a failure kind.
func (m *Metrics) ObserveCapture(kind, outcome string, d time.Duration, bytes int) {
	m.Captures.WithLabelValues(kind, outcome).Inc()
	m.CaptureDuration.WithLabelValues(kind).Observe(d.Seconds())
	if outcome == "ok" {
		m.CaptureBytes.WithLabelValues(kind).Set(float64(bytes))
		m.LastSuccess.WithLabelValues(kind).SetToCurrentTime()
	}
}

func (m *Metrics) ObserveSession(exitCode int) {
	m.SessionExit.Set(float64(exitCode))
}

// WriteTextfile atomically replaces path with the registry's contents.
func (m *Metrics) WriteTextfile(path string) error {
	return errors.Wrapf(prometheus.WriteToTextfile(path, m.Registry), "write metrics to %s", path)
}

// Package metrics defines the client's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-client collectors. A nil *Metrics is a valid no-op
// receiver so the hot path never branches on whether metrics are enabled.
type Metrics struct {
	// RequestsInFlight gauges requests admitted but not yet destroyed.
	RequestsInFlight prometheus.Gauge

	// RequestsNetworkIO gauges requests actively on the wire.
	RequestsNetworkIO prometheus.Gauge

	// RequestQueueSize gauges prepared requests waiting for a connection.
	RequestQueueSize prometheus.Gauge

	// PartsCompletedTotal counts finished part uploads by status.
	PartsCompletedTotal *prometheus.CounterVec

	// RetriesTotal counts request retries.
	RetriesTotal prometheus.Counter

	// MetaRequestsTotal counts terminated meta requests by type and status.
	MetaRequestsTotal *prometheus.CounterVec
}

// New builds the collectors and registers them with reg when non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "s3xfer_requests_in_flight",
			Help: "Requests admitted to the pipeline and not yet destroyed",
		}),
		RequestsNetworkIO: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "s3xfer_requests_network_io",
			Help: "Requests currently being sent or received",
		}),
		RequestQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "s3xfer_request_queue_size",
			Help: "Prepared requests waiting for a connection",
		}),
		PartsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "s3xfer_parts_completed_total",
			Help: "Finished part uploads by status",
		}, []string{"status"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3xfer_request_retries_total",
			Help: "Request attempts that were retried",
		}),
		MetaRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "s3xfer_meta_requests_total",
			Help: "Terminated meta requests by type and status",
		}, []string{"type", "status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RequestsInFlight,
			m.RequestsNetworkIO,
			m.RequestQueueSize,
			m.PartsCompletedTotal,
			m.RetriesTotal,
			m.MetaRequestsTotal,
		)
	}
	return m
}

// AddInFlight adjusts the in-flight gauge.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.RequestsInFlight.Add(delta)
}

// AddNetworkIO adjusts the network-io gauge.
func (m *Metrics) AddNetworkIO(delta float64) {
	if m == nil {
		return
	}
	m.RequestsNetworkIO.Add(delta)
}

// SetQueueSize sets the request-queue gauge.
func (m *Metrics) SetQueueSize(n float64) {
	if m == nil {
		return
	}
	m.RequestQueueSize.Set(n)
}

// PartCompleted counts one finished part upload.
func (m *Metrics) PartCompleted(status string) {
	if m == nil {
		return
	}
	m.PartsCompletedTotal.WithLabelValues(status).Inc()
}

// Retry counts one retried attempt.
func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// MetaRequestFinished counts one terminated meta request.
func (m *Metrics) MetaRequestFinished(typ, status string) {
	if m == nil {
		return
	}
	m.MetaRequestsTotal.WithLabelValues(typ, status).Inc()
}

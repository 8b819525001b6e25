// Package metrics exposes Prometheus instrumentation for the USB/IP
// dispatch pipeline: connections, URBs processed, UNLINK cancellations, and
// queue depth.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges the server updates as connections
// are served. The zero value is not usable; construct with New.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	QueueDepth        prometheus.Gauge
	SubmitsProcessed  prometheus.Counter
	UnlinksProcessed  *prometheus.CounterVec
	HandlerErrors     prometheus.Counter
}

// New registers a fresh Metrics set against reg and returns it.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "usbipd",
			Name:      "active_connections",
			Help:      "Number of currently open USB/IP client connections.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "usbipd",
			Name:      "queue_depth",
			Help:      "URB dispatch queue length most recently reported by any connection.",
		}),
		SubmitsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "usbipd",
			Name:      "submits_processed_total",
			Help:      "Total USBIP_CMD_SUBMIT packets processed.",
		}),
		UnlinksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usbipd",
			Name:      "unlinks_processed_total",
			Help:      "Total USBIP_CMD_UNLINK packets processed, by outcome.",
		}, []string{"outcome"}),
		HandlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "usbipd",
			Name:      "handler_errors_total",
			Help:      "Total interface/device handler errors, each resolved to an empty response.",
		}),
	}
	reg.MustRegister(m.ActiveConnections, m.QueueDepth, m.SubmitsProcessed, m.UnlinksProcessed, m.HandlerErrors)
	return m
}

// RecordUnlink increments the unlink counter for the given outcome, one of
// "cancelled" or "too-late".
func (m *Metrics) RecordUnlink(cancelled bool) {
	if m == nil {
		return
	}
	outcome := "too-late"
	if cancelled {
		outcome = "cancelled"
	}
	m.UnlinksProcessed.WithLabelValues(outcome).Inc()
}

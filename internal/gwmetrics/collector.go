// Package gwmetrics exposes the gateway's Prometheus metrics: a single
// Collector wired into Ingress, Analytics, and Storage, following the same
// namespace/subsystem/constructor shape as the BFD daemon's own metrics
// collector.
package gwmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sensorgw"

// Collector holds every gateway-level Prometheus metric.
//
// A nil *Collector is safe to call methods on (every method is a no-op),
// so components can accept an optional collector without branching on
// whether metrics were configured.
type Collector struct {
	ActiveConnections prometheus.Gauge
	ReadingsIngested  prometheus.Counter
	FramesMalformed   prometheus.Counter
	Alerts            *prometheus.CounterVec
	RetryQueueDepth   prometheus.Gauge
	DatabaseConnected prometheus.Gauge
	BufferOccupancy   *prometheus.GaugeVec
}

// NewCollector creates a Collector with all gateway metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ActiveConnections,
		c.ReadingsIngested,
		c.FramesMalformed,
		c.Alerts,
		c.RetryQueueDepth,
		c.DatabaseConnected,
		c.BufferOccupancy,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingress",
			Name:      "active_connections",
			Help:      "Number of currently connected sensor clients.",
		}),

		ReadingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingress",
			Name:      "readings_ingested_total",
			Help:      "Total sensor readings successfully decoded and fanned out.",
		}),

		FramesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingress",
			Name:      "frames_malformed_total",
			Help:      "Total wire frames rejected for being short, oversized, or otherwise malformed.",
		}),

		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "alerts_total",
			Help:      "Total thermal alerts logged, labeled by sensor id and alert kind.",
		}, []string{"sensor_id", "kind"}),

		RetryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "retry_queue_depth",
			Help:      "Current number of readings waiting in the local retry queue.",
		}),

		DatabaseConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "database_connected",
			Help:      "1 if the storage consumer currently holds a live database connection, else 0.",
		}),

		BufferOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "occupancy",
			Help:      "Current number of elements queued in a shared buffer, labeled by buffer name.",
		}, []string{"buffer"}),
	}
}

// IncActiveConnections increments the active connections gauge.
func (c *Collector) IncActiveConnections() {
	if c == nil {
		return
	}
	c.ActiveConnections.Inc()
}

// DecActiveConnections decrements the active connections gauge.
func (c *Collector) DecActiveConnections() {
	if c == nil {
		return
	}
	c.ActiveConnections.Dec()
}

// IncReadingsIngested increments the ingested-readings counter.
func (c *Collector) IncReadingsIngested() {
	if c == nil {
		return
	}
	c.ReadingsIngested.Inc()
}

// IncFramesMalformed increments the malformed-frames counter.
func (c *Collector) IncFramesMalformed() {
	if c == nil {
		return
	}
	c.FramesMalformed.Inc()
}

// IncAlert increments the per-sensor alert counter for kind (e.g.
// "too_hot", "too_cold", "normal").
func (c *Collector) IncAlert(sensorID uint16, kind string) {
	if c == nil {
		return
	}
	c.Alerts.WithLabelValues(strconv.Itoa(int(sensorID)), kind).Inc()
}

// SetRetryQueueDepth sets the retry queue depth gauge.
func (c *Collector) SetRetryQueueDepth(n int) {
	if c == nil {
		return
	}
	c.RetryQueueDepth.Set(float64(n))
}

// SetDatabaseConnected sets the database-connected gauge to 1 or 0.
func (c *Collector) SetDatabaseConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.DatabaseConnected.Set(1)
	} else {
		c.DatabaseConnected.Set(0)
	}
}

// SetBufferOccupancy sets the named buffer's occupancy gauge.
func (c *Collector) SetBufferOccupancy(name string, n int) {
	if c == nil {
		return
	}
	c.BufferOccupancy.WithLabelValues(name).Set(float64(n))
}

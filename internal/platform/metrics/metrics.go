package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Metrics groups the Prometheus collectors exported by the storefront.
// Every method is safe to call on a nil receiver so components can run without metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	ordersPlaced  *prometheus.CounterVec
	statusChanges *prometheus.CounterVec
	notifications *prometheus.CounterVec
	cartWrites    *prometheus.CounterVec
	activeCarts   prometheus.Gauge
	dispatchDrops prometheus.Counter
}

// New registers the storefront collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		gatherer: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "orders_placed_total",
			Help:      "Orders written by checkout, by source.",
		}, []string{"source"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "status_changes_total",
			Help:      "Order status transitions, by target status.",
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sms_total",
			Help:      "SMS notifications by outcome (sent, suppressed, failed).",
		}, []string{"outcome"}),
		cartWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "persist_total",
			Help:      "Background cart persistence attempts by result.",
		}, []string{"result"}),
		activeCarts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "active_sessions",
			Help:      "Cart stores currently held in memory.",
		}),
		dispatchDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "dropped_total",
			Help:      "Fire-and-forget jobs dropped because the queue was full.",
		}),
	}
	reg.MustRegister(m.httpRequests, m.httpLatency, m.ordersPlaced, m.statusChanges,
		m.notifications, m.cartWrites, m.activeCarts, m.dispatchDrops)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest records a completed HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(float64(latency) / float64(time.Millisecond))
}

// OrderPlaced counts a successful checkout.
func (m *Metrics) OrderPlaced(source string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(source).Inc()
}

// StatusChanged counts an applied order status transition.
func (m *Metrics) StatusChanged(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// Notification counts an SMS outcome.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// CartPersisted counts a background cart write.
func (m *Metrics) CartPersisted(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cartWrites.WithLabelValues(result).Inc()
}

// SetActiveCarts reports the number of cart stores held in memory.
func (m *Metrics) SetActiveCarts(n int) {
	if m == nil {
		return
	}
	m.activeCarts.Set(float64(n))
}

// JobDropped counts a job rejected by a full dispatcher queue.
func (m *Metrics) JobDropped() {
	if m == nil {
		return
	}
	m.dispatchDrops.Inc()
}

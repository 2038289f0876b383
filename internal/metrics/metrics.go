package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics methods are safe on a nil receiver so collaborators can run
// without instrumentation in tests.
type Metrics struct {
	OrdersCreated   *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	LowStock        prometheus.Counter
	Notifications   *prometheus.CounterVec
	OutboxPublished *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	LatencyMS       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen", Subsystem: service,
			Name: "orders_created_total", Help: "Orders admitted by the order engine.",
		}, []string{"order_type"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen", Subsystem: service,
			Name: "order_transitions_total", Help: "Committed order status transitions.",
		}, []string{"to"}),
		LowStock: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canteen", Subsystem: service,
			Name: "low_stock_warnings_total", Help: "Low stock warnings emitted.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen", Subsystem: service,
			Name: "notifications_total", Help: "Notification deliveries by kind and result.",
		}, []string{"kind", "result"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen", Subsystem: service,
			Name: "outbox_published_total", Help: "Outbox records relayed.",
		}, []string{"topic", "result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canteen", Subsystem: service,
			Name: "http_requests_total", Help: "Total number of HTTP requests.",
		}, []string{"method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "canteen", Subsystem: service,
			Name:    "http_request_duration_ms",
			Help:    "HTTP request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method"}),
		gatherer: reg,
	}
	reg.MustRegister(m.OrdersCreated, m.Transitions, m.LowStock, m.Notifications,
		m.OutboxPublished, m.Requests, m.LatencyMS)
	return m
}

func (m *Metrics) OrderCreated(orderType string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(orderType).Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) LowStockWarning() {
	if m == nil {
		return
	}
	m.LowStock.Inc()
}

func (m *Metrics) Notification(kind, result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Outbox(topic, result string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency per method.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.Requests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		m.LatencyMS.WithLabelValues(r.Method).Observe(float64(time.Since(start).Milliseconds()))
	})
}

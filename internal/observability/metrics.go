package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	movementsTotal   *prometheus.CounterVec
	shortfallsTotal  prometheus.Counter
	shortfallQty     prometheus.Counter
	stockAlertsTotal *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "granary_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "granary_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "granary_stock_movements_total",
		Help: "Stock movements posted to the ledger by direction.",
	}, []string{"direction"})
	shortfalls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "granary_stock_shortfalls_total",
		Help: "Forced-remainder deductions recorded by the deduction engine.",
	})
	shortfallQty := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "granary_stock_shortfall_quantity_total",
		Help: "Cumulative quantity deducted beyond available stock.",
	})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "granary_stock_alerts_total",
		Help: "Stock status alerts by kind (low_stock, out_of_stock, negative).",
	}, []string{"kind"})
	registry.MustRegister(requests, duration, movements, shortfalls, shortfallQty, alerts)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		movementsTotal:   movements,
		shortfallsTotal:  shortfalls,
		shortfallQty:     shortfallQty,
		stockAlertsTotal: alerts,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveMovement counts a posted ledger movement.
func (m *Metrics) ObserveMovement(direction string) {
	if m == nil {
		return
	}
	m.movementsTotal.WithLabelValues(direction).Inc()
}

// ObserveShortfall records a forced-remainder deduction and its quantity.
func (m *Metrics) ObserveShortfall(quantity float64) {
	if m == nil {
		return
	}
	m.shortfallsTotal.Inc()
	if quantity > 0 {
		m.shortfallQty.Add(quantity)
	}
}

// ObserveStockAlert counts an emitted stock status alert.
func (m *Metrics) ObserveStockAlert(kind string) {
	if m == nil {
		return
	}
	m.stockAlertsTotal.WithLabelValues(kind).Inc()
}

// Registerer exposes the registry for registering custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

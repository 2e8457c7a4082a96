// Package telemetry wires Prometheus metrics and OpenTelemetry tracing into
// the HTTP server and the resource store.
package telemetry

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zibfhir"

// Interaction outcomes recorded on zibfhir_fhir_interactions_total.
const (
	OutcomeSuccess     = "success"
	OutcomeClientError = "client_error"
	OutcomeServerError = "server_error"
)

// Metrics holds the Prometheus collectors of one server.
type Metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	interactions *prometheus.CounterVec
	gateway      *prometheus.CounterVec
	registerer   prometheus.Registerer
	gatherer     prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them on reg. Passing a
// fresh prometheus.NewRegistry() keeps tests isolated from the default one.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests being served",
		}),
		interactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fhir_interactions_total",
				Help:      "FHIR interactions by resource type and outcome",
			},
			[]string{"type", "interaction", "outcome"},
		),
		gateway: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Gateway session lookups by result",
			},
			[]string{"result"},
		),
		registerer: reg,
		gatherer:   reg,
	}
	reg.MustRegister(m.requests, m.duration, m.inFlight, m.interactions, m.gateway)
	return m
}

// RegisterPool exposes connection pool usage as gauges.
func (m *Metrics) RegisterPool(pool *pgxpool.Pool) {
	gauge := func(name, help string, fn func(*pgxpool.Stat) int32) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn(pool.Stat())) })
	}
	m.registerer.MustRegister(
		gauge("db_pool_total_connections", "Connections in the pool", (*pgxpool.Stat).TotalConns),
		gauge("db_pool_idle_connections", "Idle connections in the pool", (*pgxpool.Stat).IdleConns),
		gauge("db_pool_acquired_connections", "Connections in use", (*pgxpool.Stat).AcquiredConns),
	)
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				// let the error handler write the status before it is read
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			status := strconv.Itoa(c.Response().Status)

			m.requests.WithLabelValues(method, route, status).Inc()
			m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// RecordInteraction counts one FHIR interaction. A nil Metrics records nothing.
func (m *Metrics) RecordInteraction(resourceType, interaction, outcome string) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(resourceType, interaction, outcome).Inc()
}

// RecordGateway counts one Gateway session lookup.
func (m *Metrics) RecordGateway(result string) {
	if m == nil {
		return
	}
	m.gateway.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}

// OutcomeForStatus classifies an HTTP status for interaction metrics.
func OutcomeForStatus(status int) string {
	switch {
	case status >= 500:
		return OutcomeServerError
	case status >= 400:
		return OutcomeClientError
	default:
		return OutcomeSuccess
	}
}

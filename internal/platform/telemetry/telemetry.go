// Package telemetry exposes Prometheus metrics for the HTTP server and the
// OCR ingestion pipeline. All recording methods are safe on a nil receiver so
// components can run without metrics in tests.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medrec"

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

type Config struct {
	// RuntimeCollectors registers Go runtime and process collectors.
	RuntimeCollectors bool
}

type Provider struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	batches           *prometheus.CounterVec
	items             *prometheus.CounterVec
	strategies        *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	reformatFallbacks prometheus.Counter
	poolInUse         prometheus.Gauge
}

func NewProvider(cfg Config) *Provider {
	p := &Provider{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request latency.", Buckets: defaultDurationBuckets,
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ocr", Name: "batches_total",
			Help: "Upload batches by outcome.",
		}, []string{"outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ocr", Name: "items_total",
			Help: "Uploaded files by extraction status.",
		}, []string{"status"}),
		strategies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ocr", Name: "strategy_total",
			Help: "Concurrency strategies chosen for batches.",
		}, []string{"mode"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ocr", Name: "stage_duration_seconds",
			Help: "Time spent per pipeline stage.", Buckets: defaultDurationBuckets,
		}, []string{"stage"}),
		reformatFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ocr", Name: "reformat_fallbacks_total",
			Help: "Items whose reformatted text was replaced by raw OCR text.",
		}),
		poolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ocr", Name: "pool_workers_in_use",
			Help: "Worker slots currently leased from the shared OCR pool.",
		}),
	}

	p.registry.MustRegister(
		p.httpRequests, p.httpDuration, p.httpInFlight,
		p.batches, p.items, p.strategies, p.stageDuration, p.reformatFallbacks, p.poolInUse,
	)
	if cfg.RuntimeCollectors {
		p.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return p
}

// MetricsMiddleware records request counts and latency keyed by route pattern.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p == nil {
				return next(c)
			}
			p.httpInFlight.Inc()
			start := time.Now()

			err := next(c)

			p.httpInFlight.Dec()
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			p.httpRequests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
			p.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

func (p *Provider) ObserveBatch(outcome string) {
	if p == nil {
		return
	}
	p.batches.WithLabelValues(outcome).Inc()
}

func (p *Provider) ObserveItems(status string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.items.WithLabelValues(status).Add(float64(n))
}

func (p *Provider) ObserveStrategy(mode string) {
	if p == nil {
		return
	}
	p.strategies.WithLabelValues(mode).Inc()
}

func (p *Provider) ObserveStage(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *Provider) ObserveReformatFallbacks(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.reformatFallbacks.Add(float64(n))
}

func (p *Provider) SetPoolInUse(n int) {
	if p == nil {
		return
	}
	p.poolInUse.Set(float64(n))
}

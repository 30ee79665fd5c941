// Package telemetry exposes service metrics in the Prometheus text format:
// HTTP server metrics recorded by an Echo middleware, connection pool gauges,
// and counters for the care workflow (outcomes recorded, degraded trend
// reports, snapshot runs).
package telemetry

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "caretrack"

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Config holds the static labels attached to every metric.
type Config struct {
	ServiceVersion string
	Environment    string
}

// Provider owns a private registry; nothing is registered globally.
type Provider struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	responseSize    prometheus.Histogram

	outcomes     *prometheus.CounterVec
	degraded     *prometheus.CounterVec
	snapshotRuns *prometheus.CounterVec
}

func NewProvider(cfg Config) *Provider {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"version": cfg.ServiceVersion, "env": cfg.Environment}
	f := prometheusFactory{reg: reg, labels: labels}

	p := &Provider{
		registry: reg,
		requestDuration: f.histogramVec(prometheus.HistogramOpts{
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   defaultDurationBuckets,
		}, "method", "route", "status"),
		activeRequests: f.gauge(prometheus.GaugeOpts{
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of HTTP requests being served.",
		}),
		responseSize: f.histogram(prometheus.HistogramOpts{
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Size of HTTP response bodies in bytes.",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		}),
		outcomes: f.counterVec(prometheus.CounterOpts{
			Name: "outcomes_recorded_total",
			Help: "Occurrences resolved, by outcome and care item category.",
		}, "status", "category"),
		degraded: f.counterVec(prometheus.CounterOpts{
			Name: "report_parts_degraded_total",
			Help: "Report parts reported as zero after a fetch failure.",
		}, "report"),
		snapshotRuns: f.counterVec(prometheus.CounterOpts{
			Name: "snapshot_runs_total",
			Help: "Scheduled dashboard snapshots, by result.",
		}, "result"),
	}
	reg.MustRegister(collectors.NewGoCollector())
	return p
}

func (p *Provider) Registry() *prometheus.Registry { return p.registry }

// MetricsMiddleware records duration, status and response size per route.
// The route is the Echo path pattern, so ids never become label values.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.activeRequests.Inc()
			defer p.activeRequests.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				// Write the error response now so the status is final. The
				// error still propagates for logging; Echo skips committed
				// responses.
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			p.requestDuration.WithLabelValues(c.Request().Method, route, status).Observe(time.Since(start).Seconds())
			if size := c.Response().Size; size > 0 {
				p.responseSize.Observe(float64(size))
			}
			return err
		}
	}
}

// PrometheusHandler serves the registry at /metrics.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

// RegisterPool adds gauges read from the pool's statistics on every scrape.
func (p *Provider) RegisterPool(pool *pgxpool.Pool) {
	p.RegisterPoolStats(pool.Stat)
}

// RegisterPoolStats is RegisterPool for any source of pool statistics.
func (p *Provider) RegisterPoolStats(stat func() *pgxpool.Stat) {
	gauge := func(name, help string, read func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(stat()) })
	}
	p.registry.MustRegister(
		gauge("total_connections", "Connections currently open.", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("acquired_connections", "Connections checked out of the pool.", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
		gauge("idle_connections", "Connections idle in the pool.", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
		gauge("max_connections", "Configured maximum pool size.", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
	)
}

// OutcomeRecorded counts one resolved occurrence.
func (p *Provider) OutcomeRecorded(status, category string) {
	p.outcomes.WithLabelValues(status, category).Inc()
}

// ReportDegraded counts one report part served as zero.
func (p *Provider) ReportDegraded(report string) {
	p.degraded.WithLabelValues(report).Inc()
}

// SnapshotRun counts one scheduled snapshot by its result.
func (p *Provider) SnapshotRun(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	p.snapshotRuns.WithLabelValues(result).Inc()
}

// prometheusFactory creates collectors under the service namespace with the
// static labels and registers them.
type prometheusFactory struct {
	reg    *prometheus.Registry
	labels prometheus.Labels
}

func (f prometheusFactory) histogramVec(opts prometheus.HistogramOpts, labels ...string) *prometheus.HistogramVec {
	opts.Namespace, opts.ConstLabels = namespace, f.labels
	v := prometheus.NewHistogramVec(opts, labels)
	f.reg.MustRegister(v)
	return v
}

func (f prometheusFactory) histogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace, opts.ConstLabels = namespace, f.labels
	h := prometheus.NewHistogram(opts)
	f.reg.MustRegister(h)
	return h
}

func (f prometheusFactory) gauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace, opts.ConstLabels = namespace, f.labels
	g := prometheus.NewGauge(opts)
	f.reg.MustRegister(g)
	return g
}

func (f prometheusFactory) counterVec(opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	opts.Namespace, opts.ConstLabels = namespace, f.labels
	v := prometheus.NewCounterVec(opts, labels)
	f.reg.MustRegister(v)
	return v
}

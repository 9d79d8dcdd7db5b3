// Package metrics exposes the service's Prometheus counters.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/safebar/stockledger/report"
	"github.com/safebar/stockledger/stock"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	EntriesRecorded  prometheus.Counter
	NegativeSold     prometheus.Counter
	Corrections      prometheus.Counter
	ReportsClosed    *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
	LastReportTotal  prometheus.Gauge
}

var _ report.Observer = (*Metrics)(nil)

// New registers every metric under prefix on a fresh registry.
func New(prefix string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		EntriesRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_stock_entries_recorded_total",
			Help: "Stock entries recorded or overwritten",
		}),
		NegativeSold: f.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_stock_negative_sold_total",
			Help: "Stock entries stored with a negative sold quantity",
		}),
		Corrections: f.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_stock_corrections_total",
			Help: "Opening corrections applied",
		}),
		ReportsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_reports_closed_total",
			Help: "Shift reports persisted and processed",
		}, []string{"delivered"}),
		DeliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_report_delivery_failures_total",
			Help: "Report delivery failures by stage",
		}, []string{"stage"}),
		LastReportTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_report_last_total_sales",
			Help: "Total sales of the most recently closed shift, in minor units",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// EntryRecorded counts a stored entry.
func (m *Metrics) EntryRecorded(e stock.Entry) {
	m.EntriesRecorded.Inc()
	if e.Sold < 0 {
		m.NegativeSold.Inc()
	}
}

func (m *Metrics) CorrectionApplied() { m.Corrections.Inc() }

func (m *Metrics) ReportClosed(rep report.DailyReport, delivered bool) {
	m.ReportsClosed.WithLabelValues(strconv.FormatBool(delivered)).Inc()
	m.LastReportTotal.Set(float64(rep.TotalSales))
}

func (m *Metrics) DeliveryFailed(stage string) {
	m.DeliveryFailures.WithLabelValues(stage).Inc()
}

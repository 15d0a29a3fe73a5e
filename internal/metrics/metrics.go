// Package metrics exposes Prometheus instruments for forecasts, providers,
// alerts and HTTP traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "somnus"

// Metrics holds every instrument. Construct with New; a nil *Metrics is a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	// forecastsGenerated counts newly stored forecasts.
	// Labels: result (success, fallback)
	forecastsGenerated *prometheus.CounterVec

	// forecastsVerified counts verification writes.
	// Labels: accurate (true, false)
	forecastsVerified *prometheus.CounterVec

	// forecastAccuracy tracks the distribution of accuracy percentages.
	forecastAccuracy prometheus.Histogram

	// providerRequests counts prediction provider calls.
	// Labels: operation (predict, analyze), status (success, error, retry)
	providerRequests *prometheus.CounterVec

	// providerLatency measures provider call latency in seconds.
	// Labels: operation
	providerLatency *prometheus.HistogramVec

	// alertsFired counts alerts returned by detection.
	// Labels: id, severity
	alertsFired *prometheus.CounterVec

	// httpRequests counts HTTP requests.
	// Labels: method, route, status
	httpRequests *prometheus.CounterVec

	// httpDuration measures HTTP handler latency in seconds.
	// Labels: method, route
	httpDuration *prometheus.HistogramVec

	// workerRuns counts background job runs.
	// Labels: worker, status (success, error)
	workerRuns *prometheus.CounterVec
}

// New registers all instruments with reg. Pass prometheus.NewRegistry() in
// tests to keep registrations isolated.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		forecastsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "generated_total",
			Help:      "Forecasts generated by result",
		}, []string{"result"}),
		forecastsVerified: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "verified_total",
			Help:      "Forecast verifications by derived accuracy",
		}, []string{"accurate"}),
		forecastAccuracy: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "forecast",
			Name:      "accuracy_percent",
			Help:      "Distribution of forecast accuracy percentages",
			Buckets:   []float64{0, 25, 50, 75, 100},
		}),
		providerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Provider calls by operation and status",
		}, []string{"operation", "status"}),
		providerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"operation"}),
		alertsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Pattern alerts returned by detection",
		}, []string{"id", "severity"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		workerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Background job runs by worker and status",
		}, []string{"worker", "status"}),
	}
}

// Handler serves the Prometheus exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordForecastGenerated counts a stored forecast.
func (m *Metrics) RecordForecastGenerated(fallback bool) {
	if m == nil {
		return
	}
	result := "success"
	if fallback {
		result = "fallback"
	}
	m.forecastsGenerated.WithLabelValues(result).Inc()
}

// RecordForecastVerified counts a verification and observes its accuracy.
func (m *Metrics) RecordForecastVerified(accuracyPercent int, wasAccurate bool) {
	if m == nil {
		return
	}
	m.forecastsVerified.WithLabelValues(boolLabel(wasAccurate)).Inc()
	m.forecastAccuracy.Observe(float64(accuracyPercent))
}

// RecordProviderCall counts one provider attempt and its latency.
func (m *Metrics) RecordProviderCall(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(operation, status).Inc()
	m.providerLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordAlert counts a fired alert.
func (m *Metrics) RecordAlert(id, severity string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(id, severity).Inc()
}

// RecordHTTPRequest counts a served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordWorkerRun counts a background job run.
func (m *Metrics) RecordWorkerRun(worker string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.workerRuns.WithLabelValues(worker, status).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

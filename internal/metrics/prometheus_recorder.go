package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "insightsync"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	jobsSubmitted *prom.CounterVec
	jobOutcomes   *prom.CounterVec
	jobDuration   *prom.HistogramVec
	jobsInFlight  prom.Gauge
	throttle      prom.Gauge
	records       *prom.CounterVec
	dropped       *prom.CounterVec
	runDuration   prom.Histogram
	runOutcomes   *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		jobsSubmitted: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Async report jobs submitted, including resubmissions",
		}, []string{"stream"}),
		jobOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Async report job outcomes",
		}, []string{"stream", "outcome"}),
		jobDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from first submission to completion of a report job",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"stream"}),
		jobsInFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Report jobs currently running on the platform",
		}),
		throttle: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "throttle_utilization_percent",
			Help:      "Last insights throttle utilization reported by the platform",
		}),
		records: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records emitted",
		}, []string{"stream"}),
		dropped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Rows dropped because a configured breakdown was missing",
		}, []string{"stream"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total sync run duration",
			Buckets:   prom.ExponentialBuckets(1, 4, 8),
		}),
		runOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Sync runs by final status",
		}, []string{"outcome"}),
	}
	reg.MustRegister(pr.jobsSubmitted, pr.jobOutcomes, pr.jobDuration, pr.jobsInFlight, pr.throttle,
		pr.records, pr.dropped, pr.runDuration, pr.runOutcomes)
	return pr
}

func (p *PrometheusRecorder) IncJobSubmitted(stream string) {
	if p == nil {
		return
	}
	p.jobsSubmitted.WithLabelValues(stream).Inc()
}

func (p *PrometheusRecorder) IncJobOutcome(stream string, outcome JobOutcome) {
	if p == nil {
		return
	}
	p.jobOutcomes.WithLabelValues(stream, string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveJobDuration(stream string, d time.Duration) {
	if p == nil {
		return
	}
	p.jobDuration.WithLabelValues(stream).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetJobsInFlight(n int) {
	if p == nil {
		return
	}
	p.jobsInFlight.Set(float64(n))
}

func (p *PrometheusRecorder) SetThrottleUtilization(pct float64) {
	if p == nil || pct < 0 {
		return
	}
	p.throttle.Set(pct)
}

func (p *PrometheusRecorder) AddRecords(stream string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.records.WithLabelValues(stream).Add(float64(n))
}

func (p *PrometheusRecorder) IncRecordsDropped(stream string) {
	if p == nil {
		return
	}
	p.dropped.WithLabelValues(stream).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(outcome RunOutcome) {
	if p == nil {
		return
	}
	p.runOutcomes.WithLabelValues(string(outcome)).Inc()
}

// NewRegistry returns a registry with the Go runtime and process collectors attached.
func NewRegistry() *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

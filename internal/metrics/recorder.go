// Package metrics exposes pipeline outcomes as Prometheus metrics. The
// daemon serves them on /metrics; one-shot CLI runs record into a private
// registry that is simply discarded.
package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Recorder receives timing and outcome observations from the pipeline.
type Recorder interface {
	ObserveTask(task, result string, d time.Duration)
	ObserveRun(outcome string, d time.Duration)
	ObserveUpload(target string, d time.Duration)
	IncRetry(op string)
}

// NopRecorder drops all observations.
type NopRecorder struct{}

func (NopRecorder) ObserveTask(string, string, time.Duration) {}
func (NopRecorder) ObserveRun(string, time.Duration)          {}
func (NopRecorder) ObserveUpload(string, time.Duration)       {}
func (NopRecorder) IncRetry(string)                           {}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once           sync.Once
	taskDuration   *prom.HistogramVec
	taskResults    *prom.CounterVec
	runDuration    prom.Histogram
	runOutcomes    *prom.CounterVec
	uploadDuration *prom.HistogramVec
	retries        *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "relbuilder",
			Name:      "task_duration_seconds",
			Help:      "Duration of individual pipeline tasks",
			Buckets:   prom.DefBuckets,
		}, []string{"task"})
		pr.taskResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "relbuilder",
			Name:      "task_results_total",
			Help:      "Task result counts by outcome",
		}, []string{"task", "result"})
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "relbuilder",
			Name:      "run_duration_seconds",
			Help:      "Total pipeline run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.runOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "relbuilder",
			Name:      "run_outcomes_total",
			Help:      "Pipeline run outcomes by final status",
		}, []string{"outcome"})
		pr.uploadDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "relbuilder",
			Name:      "upload_duration_seconds",
			Help:      "Duration of artifact and index uploads",
			Buckets:   prom.DefBuckets,
		}, []string{"target"})
		pr.retries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "relbuilder",
			Name:      "retries_total",
			Help:      "Retry attempts by operation",
		}, []string{"op"})

		reg.MustRegister(pr.taskDuration, pr.taskResults, pr.runDuration, pr.runOutcomes, pr.uploadDuration, pr.retries)
	})
	return pr
}

func (pr *PrometheusRecorder) ObserveTask(task, result string, d time.Duration) {
	pr.taskDuration.WithLabelValues(task).Observe(d.Seconds())
	pr.taskResults.WithLabelValues(task, result).Inc()
}

func (pr *PrometheusRecorder) ObserveRun(outcome string, d time.Duration) {
	pr.runDuration.Observe(d.Seconds())
	pr.runOutcomes.WithLabelValues(outcome).Inc()
}

func (pr *PrometheusRecorder) ObserveUpload(target string, d time.Duration) {
	pr.uploadDuration.WithLabelValues(target).Observe(d.Seconds())
}

func (pr *PrometheusRecorder) IncRetry(op string) {
	pr.retries.WithLabelValues(op).Inc()
}

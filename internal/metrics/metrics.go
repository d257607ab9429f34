// Package metrics exposes Prometheus collectors for jobs, the worker queue
// and audio serving.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwygoda/audiodrop/internal/domain"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	activeTasks   prometheus.Gauge
	audioRequests *prometheus.CounterVec
	audioBytes    prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiodrop_jobs_submitted_total",
			Help: "Download jobs accepted for processing.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiodrop_jobs_finished_total",
			Help: "Download jobs that reached a terminal status.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiodrop_queue_depth",
			Help: "Download tasks waiting for a worker.",
		}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audiodrop_active_downloads",
			Help: "Download tasks currently running.",
		}),
		audioRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audiodrop_audio_requests_total",
			Help: "Audio requests by response code.",
		}, []string{"code"}),
		audioBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audiodrop_audio_bytes_total",
			Help: "Audio bytes written to clients.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsSubmitted,
		m.jobsFinished,
		m.queueDepth,
		m.activeTasks,
		m.audioRequests,
		m.audioBytes,
	)
	return m
}

// JobSubmitted implements domain.JobObserver.
func (m *Metrics) JobSubmitted() {
	m.jobsSubmitted.Inc()
}

// JobFinished implements domain.JobObserver.
func (m *Metrics) JobFinished(status domain.JobStatus) {
	m.jobsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) TaskStarted() {
	m.activeTasks.Inc()
}

func (m *Metrics) TaskFinished() {
	m.activeTasks.Dec()
}

// AudioServed records one audio response.
func (m *Metrics) AudioServed(code int, bytes int64) {
	m.audioRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	if bytes > 0 {
		m.audioBytes.Add(float64(bytes))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

package sitedeploy

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushJob is the Pushgateway job name deployments are reported under.
const PushJob = "sitedeploy"

// Metrics records what a deployment did. Each Metrics owns its registry so
// runs never share counters.
type Metrics struct {
	registry *prometheus.Registry

	filesUploaded  prometheus.Counter
	bytesUploaded  prometheus.Counter
	dirsCreated    prometheus.Counter
	entriesRemoved *prometheus.CounterVec
	phaseDuration  *prometheus.GaugeVec
	lastSuccess    prometheus.Gauge
}

// NewMetrics creates a Metrics with a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		filesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitedeploy_files_uploaded_total",
			Help: "Total number of files uploaded",
		}),
		bytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitedeploy_bytes_uploaded_total",
			Help: "Total bytes uploaded",
		}),
		dirsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitedeploy_dirs_created_total",
			Help: "Total number of remote directories created",
		}),
		entriesRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitedeploy_entries_removed_total",
				Help: "Total number of remote entries removed during cleanup",
			},
			[]string{"kind"},
		),
		phaseDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitedeploy_phase_duration_seconds",
				Help: "Duration of the last run of each deployment phase",
			},
			[]string{"phase"},
		),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitedeploy_last_success_timestamp_seconds",
			Help: "Unix time of the last successful deployment",
		}),
	}

	m.registry.MustRegister(
		m.filesUploaded,
		m.bytesUploaded,
		m.dirsCreated,
		m.entriesRemoved,
		m.phaseDuration,
		m.lastSuccess,
	)
	return m
}

// Registry returns the registry holding the deployment metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) fileUploaded(size int64) {
	m.filesUploaded.Inc()
	m.bytesUploaded.Add(float64(size))
}

func (m *Metrics) dirCreated() {
	m.dirsCreated.Inc()
}

func (m *Metrics) entryRemoved(kind EntryKind) {
	m.entriesRemoved.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) observePhase(phase State, d time.Duration) {
	m.phaseDuration.WithLabelValues(string(phase)).Set(d.Seconds())
}

func (m *Metrics) succeeded(at time.Time) {
	m.lastSuccess.Set(float64(at.Unix()))
}

// Push sends the current metrics to a Prometheus Pushgateway, replacing the
// previous push for the same job and host grouping.
func (m *Metrics) Push(ctx context.Context, url, host string) error {
	return push.New(url, PushJob).
		Gatherer(m.registry).
		Grouping("host", host).
		PushContext(ctx)
}

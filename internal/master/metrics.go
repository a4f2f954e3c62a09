package master

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the master runs. A nil *Metrics records nothing.
type Metrics struct {
	tasks    *prometheus.CounterVec
	hostRuns *prometheus.CounterVec
	duration *prometheus.HistogramVec
	running  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipit_tasks_total",
			Help: "Scheduled tasks by result.",
		}, []string{"result"}),
		hostRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipit_host_runs_total",
			Help: "Task runs on a single host by task and status.",
		}, []string{"task", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shipit_host_run_duration_seconds",
			Help:    "Duration of a task on a single host.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"task"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shipit_workers_running",
			Help: "Workers currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.tasks, m.hostRuns, m.duration, m.running)
	}
	return m
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.running.Inc()
}

func (m *Metrics) workerExited(taskName, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.hostRuns.WithLabelValues(taskName, status).Inc()
	m.duration.WithLabelValues(taskName).Observe(elapsed.Seconds())
}

func (m *Metrics) taskFinished(result string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(result).Inc()
}

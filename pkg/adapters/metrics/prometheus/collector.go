package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus.
type Collector struct {
	tasksSubmitted *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	activeTasks    prometheus.Gauge

	stepsExecuted *prometheus.CounterVec
	stepRetries   *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	degradations *prometheus.CounterVec

	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a Prometheus metrics collector.
func NewCollector() *Collector {
	return &Collector{
		tasksSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mago_tasks_submitted_total",
				Help: "Total number of tasks submitted",
			},
			[]string{"workflow"},
		),
		tasksCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mago_tasks_completed_total",
				Help: "Total number of tasks reaching a terminal state",
			},
			[]string{"state", "degraded"},
		),
		taskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mago_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"state"},
		),
		activeTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mago_active_tasks",
				Help: "Number of currently active tasks",
			},
		),
		stepsExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mago_steps_executed_total",
				Help: "Total number of step executions by outcome",
			},
			[]string{"agent", "outcome"},
		),
		stepRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mago_step_retries_total",
				Help: "Total number of step retries",
			},
			[]string{"agent"},
		),
		stepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mago_step_duration_seconds",
				Help:    "Step execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		),
		degradations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mago_degradations_total",
				Help: "Total number of degraded single-call fallbacks",
			},
			[]string{"workflow"},
		),
		workerPoolIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mago_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mago_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mago_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordTaskSubmitted records a task submission.
func (c *Collector) RecordTaskSubmitted(workflow string) {
	c.tasksSubmitted.WithLabelValues(workflow).Inc()
}

// RecordTaskCompleted records a task reaching a terminal state.
func (c *Collector) RecordTaskCompleted(state string, degraded bool, duration time.Duration) {
	degradedLabel := "false"
	if degraded {
		degradedLabel = "true"
	}
	c.tasksCompleted.WithLabelValues(state, degradedLabel).Inc()
	c.taskDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordStepExecuted records one step execution outcome.
func (c *Collector) RecordStepExecuted(agent, outcome string, duration time.Duration) {
	c.stepsExecuted.WithLabelValues(agent, outcome).Inc()
	c.stepDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordStepRetry records a scheduled step retry.
func (c *Collector) RecordStepRetry(agent string) {
	c.stepRetries.WithLabelValues(agent).Inc()
}

// RecordDegradation records a degraded single-call fallback.
func (c *Collector) RecordDegradation(workflow string) {
	c.degradations.WithLabelValues(workflow).Inc()
}

// RecordWorkerPoolStatus records worker pool occupancy.
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// SetActiveTasks records the number of live tasks.
func (c *Collector) SetActiveTasks(count int) {
	c.activeTasks.Set(float64(count))
}

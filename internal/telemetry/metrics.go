package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal — количество завершённых runs по результату (succeeded/failed).
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veil_pipeline_runs_total",
		Help: "Total pipeline runs by result",
	}, []string{"result"})

	// RunsRejected — Execute, отклонённые из-за активного run.
	RunsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veil_pipeline_runs_rejected_total",
		Help: "Execute calls rejected because a run was in flight",
	})

	// StepDuration — длительность шагов по статусу.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veil_pipeline_step_duration_seconds",
		Help:    "Pipeline step duration by step and terminal status",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"step", "status"})

	// DependencyUp — 1, если сервис healthy.
	DependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "veil_dependency_up",
		Help: "Dependency liveness (1 healthy, 0 unhealthy)",
	}, []string{"service"})

	// DependencyLatency — задержка последнего liveness probe.
	DependencyLatency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "veil_dependency_probe_latency_seconds",
		Help: "Latency of the most recent liveness probe",
	}, []string{"service"})

	// HealthRatio — доля healthy сервисов.
	HealthRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "veil_dependency_health_ratio",
		Help: "Healthy dependencies divided by total dependencies",
	})
)

// ObserveStep записывает длительность завершённого шага.
func ObserveStep(step, status string, d time.Duration) {
	StepDuration.WithLabelValues(step, status).Observe(d.Seconds())
}

// ObserveProbe записывает результат liveness probe.
func ObserveProbe(service string, healthy bool, latency time.Duration) {
	up := 0.0
	if healthy {
		up = 1
	}
	DependencyUp.WithLabelValues(service).Set(up)
	DependencyLatency.WithLabelValues(service).Set(latency.Seconds())
}

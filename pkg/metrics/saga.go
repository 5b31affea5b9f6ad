package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSagaMetrics(cfg Config) {
	m.sagaExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_executions_total",
			Help: "Total number of saga executions by terminal status",
		},
		[]string{"status"},
	)

	m.sagaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_duration_seconds",
			Help:    "Saga execution duration in seconds",
			Buckets: cfg.SagaDurationBuckets,
		},
		[]string{"status"},
	)

	m.sagaActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_active_count",
			Help: "Current number of active saga executions",
		},
	)

	m.stepExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_step_executions_total",
			Help: "Total number of step invocations by step and status",
		},
		[]string{"step", "status"},
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: cfg.StepDurationBuckets,
		},
		[]string{"step"},
	)

	m.compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensations_total",
			Help: "Total number of step compensations by step and status",
		},
		[]string{"step", "status"},
	)

	m.compensationAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensation_anomalies_total",
			Help: "Total number of failed compensations needing manual intervention",
		},
		[]string{"step"},
	)

	m.retryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_retry_attempts_total",
			Help: "Total number of caller-initiated retry attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(m.sagaExecutions)
	m.registry.MustRegister(m.sagaDuration)
	m.registry.MustRegister(m.sagaActive)
	m.registry.MustRegister(m.stepExecutions)
	m.registry.MustRegister(m.stepDuration)
	m.registry.MustRegister(m.compensations)
	m.registry.MustRegister(m.compensationAnomalies)
	m.registry.MustRegister(m.retryAttempts)
}

// RecordExecution records one saga execution outcome with its duration.
func (m *Manager) RecordExecution(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.sagaExecutions.WithLabelValues(status).Inc()
	m.sagaDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStep records one step invocation outcome with its duration.
func (m *Manager) RecordStep(stepName, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.stepExecutions.WithLabelValues(stepName, status).Inc()
	m.stepDuration.WithLabelValues(stepName).Observe(duration.Seconds())
}

// RecordCompensation records one step compensation outcome.
func (m *Manager) RecordCompensation(stepName, status string) {
	if !m.enabled {
		return
	}
	m.compensations.WithLabelValues(stepName, status).Inc()
}

// RecordCompensationAnomaly records a failed compensation.
func (m *Manager) RecordCompensationAnomaly(stepName string) {
	if !m.enabled {
		return
	}
	m.compensationAnomalies.WithLabelValues(stepName).Inc()
}

// RecordRetryAttempt records one retry attempt outcome.
func (m *Manager) RecordRetryAttempt(outcome string) {
	if !m.enabled {
		return
	}
	m.retryAttempts.WithLabelValues(outcome).Inc()
}

// IncActiveExecutions increments the active saga gauge.
func (m *Manager) IncActiveExecutions() {
	if !m.enabled {
		return
	}
	m.sagaActive.Inc()
}

// DecActiveExecutions decrements the active saga gauge.
func (m *Manager) DecActiveExecutions() {
	if !m.enabled {
		return
	}
	m.sagaActive.Dec()
}

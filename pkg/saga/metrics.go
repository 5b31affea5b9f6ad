package saga

import "time"

// MetricsRecorder receives engine measurements. The concrete Prometheus
// implementation lives in pkg/metrics; a nop keeps the engine decoupled.
type MetricsRecorder interface {
	RecordExecution(status string, duration time.Duration)
	RecordStep(stepName, status string, duration time.Duration)
	RecordCompensation(stepName, status string)
	RecordCompensationAnomaly(stepName string)
	RecordRetryAttempt(outcome string)
	IncActiveExecutions()
	DecActiveExecutions()
}

type nopMetrics struct{}

func (nopMetrics) RecordExecution(string, time.Duration)    {}
func (nopMetrics) RecordStep(string, string, time.Duration) {}
func (nopMetrics) RecordCompensation(string, string)        {}
func (nopMetrics) RecordCompensationAnomaly(string)         {}
func (nopMetrics) RecordRetryAttempt(string)                {}
func (nopMetrics) IncActiveExecutions()                     {}
func (nopMetrics) DecActiveExecutions()                     {}

// NopMetrics returns a MetricsRecorder that discards everything.
func NopMetrics() MetricsRecorder {
	return nopMetrics{}
}

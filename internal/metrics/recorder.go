// Package metrics defines observability hooks for the collector and task server.
package metrics

import "time"

// StepOutcome enumerates step result categories for counters.
type StepOutcome string

const (
	OutcomeOK      StepOutcome = "ok"
	OutcomeFail    StepOutcome = "fail"
	OutcomeSkipped StepOutcome = "skipped"
)

// Recorder defines observability hooks for trace/step/queue/dedup metrics.
// Implementations may forward to Prometheus, etc. All methods must be safe
// for nil receivers when using the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveStepDuration(step string, d time.Duration)
	ObserveTraceDuration(d time.Duration)
	IncStepResult(step string, outcome StepOutcome)
	IncTaskOutcome(outcome StepOutcome)
	SetQueueDepth(n int)
	SetActiveWorkers(n int)
	IncFixerInvocation(mode string, success bool)
	IncEventsReceived(codeHost string)
	IncEventsDeduped(codeHost string)
	ObserveEventDeliveryDuration(d time.Duration, success bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration)     {}
func (NoopRecorder) ObserveTraceDuration(time.Duration)            {}
func (NoopRecorder) IncStepResult(string, StepOutcome)             {}
func (NoopRecorder) IncTaskOutcome(StepOutcome)                    {}
func (NoopRecorder) SetQueueDepth(int)                             {}
func (NoopRecorder) SetActiveWorkers(int)                          {}
func (NoopRecorder) IncFixerInvocation(string, bool)               {}
func (NoopRecorder) IncEventsReceived(string)                      {}
func (NoopRecorder) IncEventsDeduped(string)                       {}
func (NoopRecorder) ObserveEventDeliveryDuration(time.Duration, bool) {}

package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder by registering metrics under the
// "autorepair" namespace. It is safe to construct multiple times; registration
// with the default registry happens once via sync.Once.
type PrometheusRecorder struct {
	stepDuration   *prom.HistogramVec
	traceDuration  prom.Histogram
	stepResult     *prom.CounterVec
	taskOutcome    *prom.CounterVec
	queueDepth     prom.Gauge
	activeWorkers  prom.Gauge
	fixerInvoked   *prom.CounterVec
	eventsReceived *prom.CounterVec
	eventsDeduped  *prom.CounterVec
	eventDelivery  *prom.HistogramVec
}

var registerOnce sync.Once

// NewPrometheusRecorder builds and registers all metrics against registerer.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewPrometheusRecorder(registerer prom.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "autorepair",
			Name:      "step_duration_seconds",
			Help:      "Duration of an individual task-runner step.",
			Buckets:   prom.DefBuckets,
		}, []string{"step"}),
		traceDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "autorepair",
			Name:      "trace_duration_seconds",
			Help:      "Duration of a full incident-handling trace.",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		}),
		stepResult: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "autorepair",
			Name:      "step_result_total",
			Help:      "Count of step completions by outcome.",
		}, []string{"step", "outcome"}),
		taskOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "autorepair",
			Name:      "task_outcome_total",
			Help:      "Count of task completions by outcome.",
		}, []string{"outcome"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: "autorepair",
			Name:      "queue_depth",
			Help:      "Number of tasks currently queued or running.",
		}),
		activeWorkers: prom.NewGauge(prom.GaugeOpts{
			Namespace: "autorepair",
			Name:      "active_workers",
			Help:      "Number of task-runner workers currently processing a task.",
		}),
		fixerInvoked: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "autorepair",
			Name:      "fixer_invocations_total",
			Help:      "Count of fixer adapter invocations by mode and success.",
		}, []string{"mode", "success"}),
		eventsReceived: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "autorepair",
			Name:      "events_received_total",
			Help:      "Count of incident events received by the collector's event sink.",
		}, []string{"code_host"}),
		eventsDeduped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "autorepair",
			Name:      "events_deduped_total",
			Help:      "Count of incident events suppressed by the dedup window.",
		}, []string{"code_host"}),
		eventDelivery: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "autorepair",
			Name:      "event_delivery_duration_seconds",
			Help:      "Duration of event sink HTTP delivery attempts.",
			Buckets:   prom.DefBuckets,
		}, []string{"success"}),
	}

	registerOnce.Do(func() {
		registerer.MustRegister(
			r.stepDuration, r.traceDuration, r.stepResult, r.taskOutcome,
			r.queueDepth, r.activeWorkers, r.fixerInvoked,
			r.eventsReceived, r.eventsDeduped, r.eventDelivery,
		)
	})
	return r
}

func (r *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	r.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (r *PrometheusRecorder) ObserveTraceDuration(d time.Duration) {
	r.traceDuration.Observe(d.Seconds())
}

func (r *PrometheusRecorder) IncStepResult(step string, outcome StepOutcome) {
	r.stepResult.WithLabelValues(step, string(outcome)).Inc()
}

func (r *PrometheusRecorder) IncTaskOutcome(outcome StepOutcome) {
	r.taskOutcome.WithLabelValues(string(outcome)).Inc()
}

func (r *PrometheusRecorder) SetQueueDepth(n int) { r.queueDepth.Set(float64(n)) }

func (r *PrometheusRecorder) SetActiveWorkers(n int) { r.activeWorkers.Set(float64(n)) }

func (r *PrometheusRecorder) IncFixerInvocation(mode string, success bool) {
	r.fixerInvoked.WithLabelValues(mode, boolLabel(success)).Inc()
}

func (r *PrometheusRecorder) IncEventsReceived(codeHost string) {
	r.eventsReceived.WithLabelValues(codeHost).Inc()
}

func (r *PrometheusRecorder) IncEventsDeduped(codeHost string) {
	r.eventsDeduped.WithLabelValues(codeHost).Inc()
}

func (r *PrometheusRecorder) ObserveEventDeliveryDuration(d time.Duration, success bool) {
	r.eventDelivery.WithLabelValues(boolLabel(success)).Observe(d.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

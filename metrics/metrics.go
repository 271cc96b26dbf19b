package metrics

import (
	"context"
	"net/http"

	"github.com/mohitkumar/grcflow/engine"
	"github.com/mohitkumar/grcflow/escalation"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/sla"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const NAMESPACE = "grcflow"

var _ engine.Observer = new(Metrics)
var _ escalation.Recorder = new(Metrics)
var _ sla.Listener = new(Metrics)

// Metrics holds the workflow collectors. Each Metrics owns its registry so
// several can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	instancesStarted  *prometheus.CounterVec
	instancesFinished *prometheus.CounterVec
	activeInstances   *prometheus.GaugeVec
	stepsFinished     *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	actionFailures    *prometheus.CounterVec
	escalations       *prometheus.CounterVec
	slaEvents         *prometheus.CounterVec
	sweeps            *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry:         registry,
		instancesStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Name:      "instances_started_total",
				Help:      "Workflow instances started",
			},
			[]string{"template"},
		),
		instancesFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Name:      "instances_finished_total",
				Help:      "Workflow instances that reached a terminal status",
			},
			[]string{"template", "status"},
		),
		activeInstances: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: NAMESPACE,
				Name:      "instances_active",
				Help:      "Workflow instances started and not yet finished by this process",
			},
			[]string{"template"},
		),
		stepsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Name:      "steps_finished_total",
				Help:      "Step executions closed, by outcome",
			},
			[]string{"template", "outcome"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: NAMESPACE,
				Name:      "step_duration_seconds",
				Help:      "Time from step start to its outcome",
				Buckets:   []float64{60, 600, 3600, 4 * 3600, 24 * 3600, 3 * 24 * 3600, 7 * 24 * 3600},
			},
			[]string{"template"},
		),
		actionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Name:      "action_failures_total",
				Help:      "Workflow actions that returned an error",
			},
			[]string{"kind"},
		),
		escalations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Name:      "escalations_total",
				Help:      "Escalations recorded, by trigger",
			},
			[]string{"trigger"},
		),
		slaEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Name:      "sla_events_total",
				Help:      "SLA warnings and breaches detected",
			},
			[]string{"event"},
		),
		sweeps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Name:      "sweeps_total",
				Help:      "Background sweeps run, by job and result",
			},
			[]string{"job", "result"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}

func (m *Metrics) InstanceStarted(inst *model.WorkflowInstance) {
	m.instancesStarted.WithLabelValues(inst.TemplateCode).Inc()
	m.activeInstances.WithLabelValues(inst.TemplateCode).Inc()
}

func (m *Metrics) StepFinished(inst *model.WorkflowInstance, step *model.StepExecution) {
	m.stepsFinished.WithLabelValues(inst.TemplateCode, step.Outcome).Inc()
	if step.StartedAt != nil && step.OutcomeAt != nil {
		m.stepDuration.WithLabelValues(inst.TemplateCode).Observe(step.OutcomeAt.Sub(*step.StartedAt).Seconds())
	}
}

func (m *Metrics) InstanceFinished(inst *model.WorkflowInstance) {
	m.instancesFinished.WithLabelValues(inst.TemplateCode, string(inst.Status)).Inc()
	m.activeInstances.WithLabelValues(inst.TemplateCode).Dec()
}

func (m *Metrics) ActionFailed(inst *model.WorkflowInstance, kind model.ActionKind, err error) {
	m.actionFailures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) RecordEscalation(log *model.EscalationLog) {
	m.escalations.WithLabelValues(string(log.Trigger)).Inc()
}

func (m *Metrics) OnWarning(ctx context.Context, tracking *model.SLATracking) {
	m.slaEvents.WithLabelValues("warning").Inc()
}

func (m *Metrics) OnBreach(ctx context.Context, tracking *model.SLATracking) {
	m.slaEvents.WithLabelValues("breach").Inc()
}

// RecordSweep counts one run of a background job.
func (m *Metrics) RecordSweep(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweeps.WithLabelValues(job, result).Inc()
}

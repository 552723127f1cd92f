package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DonationMetrics tracks the payment state machine and its background executors.
type DonationMetrics struct {
	webhookEvents    *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	pipelineFailures *prometheus.CounterVec
	scheduledRuns    *prometheus.CounterVec
	chargeAttempts   *prometheus.CounterVec
	roundUpBatches   *prometheus.CounterVec
}

// NewDonationMetrics registers the donation metrics on the provided registerer.
func NewDonationMetrics(reg prometheus.Registerer) *DonationMetrics {
	if reg == nil {
		return &DonationMetrics{}
	}
	m := &DonationMetrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_webhook_events_total",
			Help: "Processor webhook events by type and outcome.",
		}, []string{"event", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_transitions_total",
			Help: "Applied donation status transitions.",
		}, []string{"status"}),
		pipelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_pipeline_step_failures_total",
			Help: "Post-success pipeline step failures.",
		}, []string{"step"}),
		scheduledRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduled_donation_executions_total",
			Help: "Scheduled donation executions by outcome.",
		}, []string{"outcome"}),
		chargeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processor_charge_attempts_total",
			Help: "Processor charge attempts by outcome.",
		}, []string{"outcome"}),
		roundUpBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "round_up_batches_total",
			Help: "Round-up batches by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.webhookEvents, m.transitions, m.pipelineFailures, m.scheduledRuns, m.chargeAttempts, m.roundUpBatches)
	return m
}

func (m *DonationMetrics) WebhookEvent(event, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

func (m *DonationMetrics) Transition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *DonationMetrics) PipelineStepFailed(step string) {
	if m == nil || m.pipelineFailures == nil {
		return
	}
	m.pipelineFailures.WithLabelValues(normalizeLabel(step)).Inc()
}

func (m *DonationMetrics) ScheduledExecution(outcome string) {
	if m == nil || m.scheduledRuns == nil {
		return
	}
	m.scheduledRuns.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *DonationMetrics) ChargeAttempt(outcome string) {
	if m == nil || m.chargeAttempts == nil {
		return
	}
	m.chargeAttempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *DonationMetrics) RoundUpBatch(outcome string) {
	if m == nil || m.roundUpBatches == nil {
		return
	}
	m.roundUpBatches.WithLabelValues(normalizeLabel(outcome)).Inc()
}

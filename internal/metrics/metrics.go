// Package metrics defines the Prometheus metrics for swarmwarden's
// optional self-monitoring host-metrics subsystem. All metrics are
// registered with the default registry so they are served unmodified
// by promhttp.Handler at /metrics.
//
// Metric naming follows Prometheus conventions: a swarmwarden_ prefix,
// _total suffix for counters, _seconds suffix for duration histograms.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ActionsTotal counts every AdmissionHost.ExecuteTask outcome by
	// agent and terminal status (allowed, denied, blocked, pending,
	// approved, rejected).
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmwarden_actions_total",
			Help: "Total actions admitted, by agent and terminal status.",
		},
		[]string{"agent", "status"},
	)

	// ActionLatencySeconds is a histogram of ExecuteTask wall time by
	// action type.
	ActionLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarmwarden_action_latency_seconds",
			Help:    "AdmissionHost.ExecuteTask duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action_type"},
	)

	// ViolationsTotal counts denied/blocked actions by agent.
	ViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmwarden_violations_total",
			Help: "Total policy/kill-switch/message-guard violations, by agent.",
		},
		[]string{"agent"},
	)

	// ApprovalsPending is the current count of open approval tickets.
	ApprovalsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmwarden_approvals_pending",
			Help: "Number of approval tickets awaiting resolution.",
		},
	)

	// ConnectedAgents is the current count of agents with an active
	// AutonomyLoop.
	ConnectedAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmwarden_connected_agents",
			Help: "Number of agents currently connected with an active loop.",
		},
	)

	// DetectionEventsTotal counts anomaly detections by type and the
	// response action taken (pause, terminate, alert).
	DetectionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmwarden_detection_events_total",
			Help: "Total anomaly detections, by detector type and response action.",
		},
		[]string{"type", "action"},
	)
)

func init() {
	prometheus.MustRegister(
		ActionsTotal,
		ActionLatencySeconds,
		ViolationsTotal,
		ApprovalsPending,
		ConnectedAgents,
		DetectionEventsTotal,
	)
}

// RecordAction records one ExecuteTask outcome.
func RecordAction(agentID, actionType, status string, latency time.Duration) {
	ActionsTotal.WithLabelValues(agentID, status).Inc()
	ActionLatencySeconds.WithLabelValues(actionType).Observe(latency.Seconds())
}

// RecordViolation records one denied/blocked action.
func RecordViolation(agentID string) {
	ViolationsTotal.WithLabelValues(agentID).Inc()
}

// RecordDetection records one anomaly detection and its response.
func RecordDetection(detectionType, action string) {
	DetectionEventsTotal.WithLabelValues(detectionType, action).Inc()
}

// SetApprovalsPending sets the current open-approval-ticket gauge.
func SetApprovalsPending(n int) {
	ApprovalsPending.Set(float64(n))
}

// SetConnectedAgents sets the current connected-agent gauge.
func SetConnectedAgents(n int) {
	ConnectedAgents.Set(float64(n))
}

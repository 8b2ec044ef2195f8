package metrics

import "github.com/prometheus/client_golang/prometheus"

// Post-commit failure stages
const (
	StageEventRecording = "event_recording"
	StageDispatch       = "dispatch"
	StageOpsAlert       = "ops_alert"
)

var (
	StatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_status_transitions_total",
			Help: "Total number of applied broadcast message status transitions",
		},
		[]string{"from", "to"},
	)

	EventsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_events_created_total",
			Help: "Total number of broadcast events written to the event chain",
		},
		[]string{"message_type"},
	)

	// A non-zero event_recording or dispatch rate means a message is
	// broadcasting with nothing sent to the network.
	PostCommitFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_post_commit_failures_total",
			Help: "Failures after a status transition was committed",
		},
		[]string{"stage"},
	)

	TransmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_transmissions_total",
			Help: "Transmission jobs processed by the worker",
		},
		[]string{"result"},
	)

	TransmissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_transmission_duration_seconds",
			Help:    "Time spent handing one event to the CBC proxy",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all broadcast metrics with the default registry.
func Register() {
	prometheus.MustRegister(StatusTransitionsTotal)
	prometheus.MustRegister(EventsCreatedTotal)
	prometheus.MustRegister(PostCommitFailuresTotal)
	prometheus.MustRegister(TransmissionsTotal)
	prometheus.MustRegister(TransmissionDuration)
}

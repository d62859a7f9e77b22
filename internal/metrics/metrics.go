// Package metrics provides Prometheus metrics for the recorder.
// Labels stay low-cardinality: no session or tab ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordingsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetrecorder_recordings_started_total",
		Help: "Recordings whose capture began, by platform and mode.",
	}, []string{"platform", "mode"})

	RecordingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetrecorder_recordings_rejected_total",
		Help: "Start requests refused before a session was created, by reason.",
	}, []string{"reason"})

	RecordingsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetrecorder_recordings_failed_total",
		Help: "Recordings that ended in failure, by reason.",
	}, []string{"reason"})

	RecordingsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meetrecorder_recordings_finalized_total",
		Help: "Recordings delivered to the download sink.",
	})

	StartAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meetrecorder_start_attempts",
		Help:    "beginCapture attempts needed per recording start.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	RecordingBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meetrecorder_recording_bytes",
		Help:    "Size of finalized artifacts.",
		Buckets: prometheus.ExponentialBuckets(64<<10, 4, 10),
	})

	LivenessFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meetrecorder_liveness_failures_total",
		Help: "Capture contexts that missed a liveness probe.",
	})

	MeetingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetrecorder_meeting_transitions_total",
		Help: "Meeting monitor state transitions.",
	}, []string{"platform", "to"})

	Monitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meetrecorder_monitors",
		Help: "Tabs currently monitored.",
	})

	Recording = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meetrecorder_recording",
		Help: "1 while a recording session exists.",
	})

	MicMuted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meetrecorder_mic_muted",
		Help: "1 while the microphone path is gated off.",
	})

	HostMessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetrecorder_host_messages_dropped_total",
		Help: "Host bridge messages dropped, by cause.",
	}, []string{"cause"})
)

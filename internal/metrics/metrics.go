// Package metrics defines the Prometheus metrics exported by rangetest.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProbesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangetest_probes_sent_total",
			Help: "Number of PINGs sent, by interface.",
		},
		[]string{"iface"},
	)
	PongsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangetest_pongs_received_total",
			Help: "Number of PONGs received, by interface.",
		},
		[]string{"iface"},
	)
	PingsAnswered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rangetest_pings_answered_total",
			Help: "Number of PONGs sent in reply to a peer's PING.",
		},
	)
	SendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangetest_send_errors_total",
			Help: "Number of frames the transport failed to send, by kind.",
		},
		[]string{"kind"},
	)
	DroppedFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangetest_dropped_frames_total",
			Help: "Number of received frames that could not be processed, by reason.",
		},
		[]string{"reason"},
	)
	RadioRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangetest_radio_rejections_total",
			Help: "Number of radio parameters rejected, by interface and option.",
		},
		[]string{"iface", "option"},
	)
	RadioBusyRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rangetest_radio_busy_retries_total",
			Help: "Number of radio parameter writes retried because the device was busy.",
		},
	)
	HellosSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rangetest_hellos_sent_total",
			Help: "Number of HELLOs sent during handshakes.",
		},
	)
	RoundTripTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rangetest_round_trip_time_seconds",
			Help:    "Observed PING/PONG round-trip time, by interface.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"iface"},
	)
	ActiveConfiguration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rangetest_active_configuration",
			Help: "Index of the configuration currently under test.",
		},
	)
	SweepsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rangetest_sweeps_completed_total",
			Help: "Number of sweeps that ran through every configuration.",
		},
	)
)

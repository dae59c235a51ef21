// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceivedTotal counts frames read from a device handle
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlink_frames_received_total",
			Help: "Total number of frames received",
		},
		[]string{"device"},
	)

	// FramesSentTotal counts frames written to a device handle
	FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlink_frames_sent_total",
			Help: "Total number of frames sent",
		},
		[]string{"device"},
	)

	// FramesDroppedTotal counts received frames discarded before delivery
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlink_frames_dropped_total",
			Help: "Total number of received frames dropped",
		},
		[]string{"device", "reason"},
	)

	// SendErrorsTotal counts failed transmissions
	SendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlink_send_errors_total",
			Help: "Total number of frames the transport failed to send",
		},
		[]string{"device"},
	)

	// ParseFailuresTotal counts raw frames rejected by Ethernet parsing
	ParseFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlink_parse_failures_total",
			Help: "Total number of frames that failed Ethernet parsing",
		},
		[]string{"reason"},
	)

	// PoolWorkers tracks running pool capture workers
	PoolWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rlink_pool_workers",
			Help: "Number of running device pool workers",
		},
	)

	// PoolForwardedTotal counts frames a pool worker handed to the consumer
	PoolForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rlink_pool_forwarded_total",
			Help: "Total number of frames forwarded by device pool workers",
		},
		[]string{"device"},
	)
)

// DropReasonInspector labels frames discarded by a device inspector.
const DropReasonInspector = "inspector"

// Parse failure reasons used with ParseFailuresTotal.
const (
	ParseReasonTooSmall = "too_small"
	ParseReasonChecksum = "checksum"
)

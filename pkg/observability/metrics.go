// Package observability exposes prometheus metrics for the link.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "znp"

// Call results.
const (
	ResultOK        = "ok"
	ResultTimeout   = "timeout"
	ResultTransport = "transport"
	ResultRPCError  = "rpc_error"
)

var (
	registerOnce sync.Once

	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Valid frames sent or received.",
		},
		[]string{"direction", "type", "subsystem"},
	)
	framingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "framing_errors_total",
			Help:      "Frames dropped by the decoder.",
		},
		[]string{"reason"},
	)
	calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Synchronous requests by result.",
		},
		[]string{"subsystem", "result"},
	)
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Synchronous request round trip in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"subsystem"},
	)
	staleReplies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "stale_replies_total",
			Help:      "Replies discarded because they did not answer the request in flight.",
		},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "events_total",
			Help:      "Asynchronous frames dispatched to the registry.",
		},
		[]string{"subsystem", "routed"},
	)
	mailboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "depth",
			Help:      "Messages waiting in a mailbox.",
		},
		[]string{"mailbox"},
	)
)

// RegisterMetrics registers all collectors with the default registry, once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(frames, framingErrors, calls, callDuration,
			staleReplies, events, mailboxDepth)
	})
}

// RecordFrame counts a valid frame crossing the link.
func RecordFrame(direction, frameType, subsystem string) {
	RegisterMetrics()
	frames.WithLabelValues(direction, frameType, subsystem).Inc()
}

// RecordFramingError counts a frame dropped by the decoder.
func RecordFramingError(reason string) {
	RegisterMetrics()
	framingErrors.WithLabelValues(reason).Inc()
}

// RecordCall counts a synchronous request and observes its round trip.
func RecordCall(subsystem, result string, duration time.Duration) {
	RegisterMetrics()
	calls.WithLabelValues(subsystem, result).Inc()
	callDuration.WithLabelValues(subsystem).Observe(duration.Seconds())
}

// RecordStaleReply counts a discarded reply.
func RecordStaleReply() {
	RegisterMetrics()
	staleReplies.Inc()
}

// RecordEvent counts an asynchronous frame handed to the registry.
func RecordEvent(subsystem string, routed bool) {
	RegisterMetrics()
	label := "false"
	if routed {
		label = "true"
	}
	events.WithLabelValues(subsystem, label).Inc()
}

// SetMailboxDepth reports the number of messages waiting in a mailbox.
func SetMailboxDepth(mailbox string, depth int) {
	RegisterMetrics()
	mailboxDepth.WithLabelValues(mailbox).Set(float64(depth))
}

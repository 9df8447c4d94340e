package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profpipe",
			Subsystem: "pipe",
			Name:      "packets_received_total",
			Help:      "Packets received from devices.",
		},
		[]string{"variant", "family"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profpipe",
			Subsystem: "pipe",
			Name:      "bytes_received_total",
			Help:      "Payload bytes received from devices.",
		},
		[]string{"variant"},
	)
	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profpipe",
			Subsystem: "pipe",
			Name:      "packets_sent_total",
			Help:      "Packets sent or queued for devices.",
		},
		[]string{"variant", "family"},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profpipe",
			Subsystem: "pipe",
			Name:      "handshakes_total",
			Help:      "Stream metadata handshakes by outcome.",
		},
		[]string{"variant", "outcome"},
	)
	activeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "profpipe",
			Subsystem: "pipe",
			Name:      "active_connections",
			Help:      "Open pipe connections.",
		},
		[]string{"variant"},
	)
	dispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profpipe",
			Subsystem: "dispatch",
			Name:      "packets_total",
			Help:      "Packets handed to handlers.",
		},
		[]string{"dispatcher"},
	)
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profpipe",
			Subsystem: "dispatch",
			Name:      "handler_deliveries_total",
			Help:      "Handler invocations.",
		},
		[]string{"dispatcher"},
	)
	dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profpipe",
			Subsystem: "dispatch",
			Name:      "packets_dropped_total",
			Help:      "Packets discarded without delivery.",
		},
		[]string{"dispatcher", "reason"},
	)
	handlerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profpipe",
			Subsystem: "dispatch",
			Name:      "handler_panics_total",
			Help:      "Recovered handler panics.",
		},
		[]string{"dispatcher"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profpipe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "profpipe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			packetsReceived, bytesReceived, packetsSent, handshakes, activeConnections,
			dispatched, deliveries, dropped, handlerPanics,
			httpRequests, httpDuration,
		)
	})
}

func familyLabel(family uint32) string {
	return strconv.FormatUint(uint64(family), 10)
}

func RecordPacketReceived(variant string, family uint32, payloadBytes int) {
	RegisterMetrics()
	packetsReceived.WithLabelValues(variant, familyLabel(family)).Inc()
	bytesReceived.WithLabelValues(variant).Add(float64(payloadBytes))
}

func RecordPacketSent(variant string, family uint32) {
	RegisterMetrics()
	packetsSent.WithLabelValues(variant, familyLabel(family)).Inc()
}

func RecordHandshake(variant string, err error) {
	RegisterMetrics()
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	handshakes.WithLabelValues(variant, outcome).Inc()
}

func ConnectionOpened(variant string) {
	RegisterMetrics()
	activeConnections.WithLabelValues(variant).Inc()
}

func ConnectionClosed(variant string) {
	RegisterMetrics()
	activeConnections.WithLabelValues(variant).Dec()
}

func RecordDispatched(dispatcher string, handlers int) {
	RegisterMetrics()
	dispatched.WithLabelValues(dispatcher).Inc()
	deliveries.WithLabelValues(dispatcher).Add(float64(handlers))
}

func RecordDropped(dispatcher, reason string, n int) {
	RegisterMetrics()
	dropped.WithLabelValues(dispatcher, reason).Add(float64(n))
}

func RecordHandlerPanic(dispatcher string) {
	RegisterMetrics()
	handlerPanics.WithLabelValues(dispatcher).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

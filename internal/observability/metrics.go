package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "frames",
			Name:      "total",
			Help:      "Frames sent and received, by dispatch key.",
		},
		[]string{"direction", "kind", "signal"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "frames",
			Name:      "errors_total",
			Help:      "Failed rounds by reason.",
		},
		[]string{"reason"},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "handshake",
			Name:      "attempts_total",
			Help:      "Handshake attempts by role and result.",
		},
		[]string{"role", "result"},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "transfer",
			Name:      "total",
			Help:      "File transfers by direction and result.",
		},
		[]string{"direction", "result"},
	)
	transferBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Raw file bytes moved on the channel.",
		},
		[]string{"direction"},
	)
	transferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peerchat",
			Subsystem: "transfer",
			Name:      "duration_seconds",
			Help:      "File transfer duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"direction"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "peerchat",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently owning a channel.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peerchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesTotal,
			frameErrors,
			handshakes,
			transfers,
			transferBytes,
			transferDuration,
			sessionsActive,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordFrame(direction, kind, signal string) {
	RegisterMetrics()
	framesTotal.WithLabelValues(direction, kind, signal).Inc()
}

func RecordFrameError(reason string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(reason).Inc()
}

func RecordHandshake(role string, success bool) {
	RegisterMetrics()
	result := "failure"
	if success {
		result = "success"
	}
	handshakes.WithLabelValues(role, result).Inc()
}

func RecordTransfer(direction, result string, bytes uint64, duration time.Duration) {
	RegisterMetrics()
	transfers.WithLabelValues(direction, result).Inc()
	transferBytes.WithLabelValues(direction).Add(float64(bytes))
	transferDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

func SessionOpened() {
	RegisterMetrics()
	sessionsActive.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	sessionsActive.Dec()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

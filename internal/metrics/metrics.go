// Package metrics exposes daemon counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dokzlo13/ambientd/internal/color"
)

const namespace = "ambientd"

var (
	canFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "can",
		Name:      "frames_total",
		Help:      "CAN frames received, by monitored identifier or \"other\"",
	}, []string{"can_id"})

	canReceiveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "can",
		Name:      "receive_errors_total",
		Help:      "CAN receive errors other than timeouts",
	})

	edges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "can",
		Name:      "edges_total",
		Help:      "Detected payload edges",
	}, []string{"edge"})

	commandsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "light",
		Name:      "commands_enqueued_total",
		Help:      "Commands accepted by a channel queue",
	}, []string{"channel", "kind"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "light",
		Name:      "commands_executed_total",
		Help:      "Commands executed by a channel engine",
	}, []string{"channel", "kind"})

	commandsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "light",
		Name:      "commands_dropped_total",
		Help:      "Commands discarded because they could not be enqueued",
	}, []string{"channel"})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "light",
		Name:      "command_duration_seconds",
		Help:      "Time spent executing a command",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"channel", "kind"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "light",
		Name:      "queue_depth",
		Help:      "Pending commands per channel queue",
	}, []string{"channel"})

	channelColor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "light",
		Name:      "color",
		Help:      "Last color shown by a channel, per component",
	}, []string{"channel", "component"})

	ambientColor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ambient",
		Name:      "color",
		Help:      "Shared ambient color register, per component",
	}, []string{"component"})

	firmwareUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ota",
		Name:      "updates_total",
		Help:      "Firmware update attempts by result",
	}, []string{"result"})
)

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// FrameReceived counts a CAN frame. label must come from a fixed set so the
// series stay bounded on a busy bus.
func FrameReceived(label string) {
	canFrames.WithLabelValues(label).Inc()
}

// ReceiveFailed counts a CAN receive error.
func ReceiveFailed() {
	canReceiveErrors.Inc()
}

// EdgeDetected counts an edge.
func EdgeDetected(edge string) {
	edges.WithLabelValues(edge).Inc()
}

// CommandEnqueued counts an accepted command and records the queue depth.
func CommandEnqueued(channel, kind string, depth int) {
	commandsEnqueued.WithLabelValues(channel, kind).Inc()
	queueDepth.WithLabelValues(channel).Set(float64(depth))
}

// CommandExecuted records an executed command and the color it left behind.
func CommandExecuted(channel, kind string, final color.Color, elapsed time.Duration, depth int) {
	commandsExecuted.WithLabelValues(channel, kind).Inc()
	commandDuration.WithLabelValues(channel, kind).Observe(elapsed.Seconds())
	queueDepth.WithLabelValues(channel).Set(float64(depth))
	setColor(channelColor, final, channel)
}

// CommandDropped counts a discarded command.
func CommandDropped(channel string) {
	commandsDropped.WithLabelValues(channel).Inc()
}

// AmbientColor records the register value.
func AmbientColor(c color.Color) {
	setColor(ambientColor, c)
}

// FirmwareUpdate counts an OTA attempt.
func FirmwareUpdate(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	firmwareUpdates.WithLabelValues(result).Inc()
}

func setColor(g *prometheus.GaugeVec, c color.Color, labels ...string) {
	g.WithLabelValues(append(labels, "red")...).Set(float64(c.R))
	g.WithLabelValues(append(labels, "green")...).Set(float64(c.G))
	g.WithLabelValues(append(labels, "blue")...).Set(float64(c.B))
}

// Package metrics exposes controller activity as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sweeney/amp-switch/internal/mirror"
)

var (
	reactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amp_switch_reactions_total",
		Help: "Output writes attempted, by cause",
	}, []string{"cause"})

	readErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amp_switch_read_errors_total",
		Help: "Switch reads that failed and skipped a reaction",
	})

	writeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amp_switch_write_errors_total",
		Help: "Batched output writes that failed",
	})

	outputLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "amp_switch_output_level",
		Help: "Level last written to the outputs (1 = on)",
	})

	mqttDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amp_switch_mqtt_dropped_total",
		Help: "MQTT messages lost while the broker was unreachable, by topic",
	}, []string{"topic"})
)

// Observe records one controller reaction. It is meant to be passed to
// mirror.WithObserver.
func Observe(r mirror.Reaction) {
	switch {
	case r.Written:
		reactions.WithLabelValues(string(r.Cause)).Inc()
		if r.Level {
			outputLevel.Set(1)
		} else {
			outputLevel.Set(0)
		}
	case r.Skipped:
		readErrors.Inc()
	case r.Err != nil:
		reactions.WithLabelValues(string(r.Cause)).Inc()
		writeErrors.Inc()
	}
}

// MQTTDropped counts one MQTT message that will never reach the broker. It
// matches mqtt.Options.OnDrop.
func MQTTDropped(topic string) {
	mqttDropped.WithLabelValues(topic).Inc()
}

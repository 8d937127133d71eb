// Package metrics exposes prometheus collectors for the gateway. The
// dropped-frame counter exists because decompression failures are
// swallowed by the receive loop and would otherwise be invisible.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type GatewayMetrics struct {
	FramesDropped    *prometheus.CounterVec
	EventsDispatched *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	HeartbeatLatency *prometheus.GaugeVec
}

// NewGatewayMetrics registers the gateway collectors on reg. Pass
// prometheus.DefaultRegisterer unless tests need isolation.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	factory := promauto.With(reg)
	return &GatewayMetrics{
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "maren_gateway_frames_dropped_total",
			Help: "Frames discarded because decompression or decoding failed.",
		}, []string{"shard"}),
		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "maren_gateway_events_dispatched_total",
			Help: "DISPATCH messages handed to the event router.",
		}, []string{"shard", "event"}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "maren_gateway_reconnects_total",
			Help: "Reconnect attempts, split by resume versus fresh identify.",
		}, []string{"shard", "kind"}),
		HeartbeatLatency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "maren_gateway_heartbeat_latency_seconds",
			Help: "Round trip between HEARTBEAT and HEARTBEAT_ACK.",
		}, []string{"shard"}),
	}
}

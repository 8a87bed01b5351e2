// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSockets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pong_gateway_active_sockets",
		Help: "Client sockets currently connected to the gateway.",
	}, []string{"kind"})

	ActiveTunnels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pong_gateway_active_tunnels",
		Help: "Open (game, side) tunnels.",
	})

	UpstreamDials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pong_gateway_upstream_dials_total",
		Help: "Connections opened to the physics engine.",
	}, []string{"result"})

	DroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pong_dropped_frames_total",
		Help: "Frames dropped because a socket was slow, closed, or had no upstream.",
	}, []string{"reason"})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pong_engine_active_rooms",
		Help: "Games currently simulated by the engine.",
	})

	FinishedGames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pong_engine_finished_games_total",
		Help: "Games that reached MATCH_OVER, by result report outcome.",
	}, []string{"report"})
)

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OpenRooms tracks active rooms in the hub.
	OpenRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wegrim_open_rooms",
		Help: "Number of rooms with at least one member.",
	})

	// OpenConnections tracks live websocket connections.
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wegrim_open_connections",
		Help: "Number of live websocket connections.",
	})

	// RelayedEvents counts fan-outs by kind (scene, chat, presence).
	RelayedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wegrim_relayed_events_total",
		Help: "Events fanned out to room members.",
	}, []string{"kind"})

	// RejectedEvents counts rejections by reason.
	RejectedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wegrim_rejected_events_total",
		Help: "Client events rejected by the hub.",
	}, []string{"reason"})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

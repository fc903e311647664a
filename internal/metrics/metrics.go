// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mossy-p/peercall/internal/signaling"
)

const namespace = "peercall_relay"

// Envelope outcomes.
const (
	Relayed  = "relayed"
	Rejected = "rejected"
	Failed   = "failed"
)

var (
	roomsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_created_total",
		Help:      "Rooms created.",
	})
	roomsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_deleted_total",
		Help:      "Rooms deleted by their creator.",
	})
	peersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "peers_connected",
		Help:      "Open websocket push channels on this instance.",
	})
	envelopes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "envelopes_total",
		Help:      "Signaling envelopes received from peers, by type and outcome.",
	}, []string{"type", "outcome"})
)

func init() {
	prometheus.MustRegister(roomsCreated, roomsDeleted, peersConnected, envelopes)
}

func RoomCreated() { roomsCreated.Inc() }

func RoomDeleted() { roomsDeleted.Inc() }

func PeerConnected() { peersConnected.Inc() }

func PeerDisconnected() { peersConnected.Dec() }

// Envelope counts one envelope. Unknown types share one label value so
// clients cannot grow the series set.
func Envelope(t signaling.Type, outcome string) {
	label := string(t)
	if !t.Known() {
		label = "invalid"
	}
	envelopes.WithLabelValues(label, outcome).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

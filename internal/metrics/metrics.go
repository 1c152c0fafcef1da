// Package metrics exposes the node's Prometheus instrumentation on a private
// registry, so tests can build isolated instances without collector name
// collisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Requests          *prometheus.CounterVec
	Bounces           prometheus.Counter
	Broadcasts        prometheus.Counter
	BroadcastFailures prometheus.Counter
	Elections         prometheus.Counter
	ReplicaApplied    prometheus.Counter
	AlivePeers        prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flock_requests_total",
			Help: "User commands received, labeled by verb.",
		}, []string{"verb"}),
		Bounces: factory.NewCounter(prometheus.CounterOpts{
			Name: "flock_bounces_total",
			Help: "Write requests redirected to the primary.",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "flock_broadcasts_total",
			Help: "Sequenced writes broadcast to peers.",
		}),
		BroadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "flock_broadcast_failures_total",
			Help: "Per-peer broadcast sends that failed.",
		}),
		Elections: factory.NewCounter(prometheus.CounterOpts{
			Name: "flock_elections_total",
			Help: "Leader elections started by this node.",
		}),
		ReplicaApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "flock_replica_applied_total",
			Help: "Replicated writes applied from the ledger.",
		}),
		AlivePeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flock_alive_peers",
			Help: "Peers currently considered alive by the heartbeat loop.",
		}),
	}
}

// Handler serves the registry in the standard exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

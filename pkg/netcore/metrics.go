package netcore

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors this core exposes. It uses an
// isolated prometheus.Registry so these metrics don't collide with a
// process-wide default registry; each Composite gets its own instance.
type Metrics struct {
	Registry *prometheus.Registry

	// RPC metrics.
	RPCRequestsTotal      *prometheus.CounterVec
	RPCResponseDurationSeconds *prometheus.HistogramVec
	RPCFailuresTotal      *prometheus.CounterVec

	// Gossip metrics.
	GossipMessagesTotal    *prometheus.CounterVec
	GossipSubscribersGauge *prometheus.GaugeVec

	// Peer manager metrics.
	PeerManagerReconnectTotal *prometheus.CounterVec
	ConnectedPeers            prometheus.Gauge

	BuildInfo *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance with all collectors registered on
// an isolated registry.
func NewMetrics(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RPCRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netcore_rpc_requests_total",
				Help: "Total number of RPC requests handled, by protocol and direction.",
			},
			[]string{"protocol", "direction"},
		),
		RPCResponseDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netcore_rpc_response_duration_seconds",
				Help:    "Time between sending an RPC request and receiving its response.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol"},
		),
		RPCFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netcore_rpc_failures_total",
				Help: "Total number of RPC requests that failed, by protocol.",
			},
			[]string{"protocol"},
		),

		GossipMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netcore_gossip_messages_total",
				Help: "Total number of gossip messages delivered, by topic kind.",
			},
			[]string{"topic"},
		),
		GossipSubscribersGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netcore_gossip_subscribed_topics",
				Help: "Number of gossip topics currently subscribed.",
			},
			[]string{"kind"},
		),

		PeerManagerReconnectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netcore_peermanager_reconnect_total",
				Help: "Total number of reconnect attempts, by outcome.",
			},
			[]string{"result"},
		),
		ConnectedPeers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "netcore_connected_peers",
				Help: "Number of currently connected peers.",
			},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netcore_info",
				Help: "Build information for the running netcore instance.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		m.RPCRequestsTotal,
		m.RPCResponseDurationSeconds,
		m.RPCFailuresTotal,
		m.GossipMessagesTotal,
		m.GossipSubscribersGauge,
		m.PeerManagerReconnectTotal,
		m.ConnectedPeers,
		m.BuildInfo,
	)

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)

	return m
}

// Handler returns an http.Handler that serves the Prometheus metrics
// endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

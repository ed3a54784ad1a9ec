// Package metrics holds the prometheus collectors shared by the nimbus components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nimbus"

// Registry is used instead of the global default registry so that tests can build isolated instances.
var Registry = prometheus.NewRegistry()

var (
	OpenstackOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "openstack",
			Name:      "operations_total",
			Help:      "Total number of OpenStack lifecycle operations by result",
		},
		[]string{"operation", "result"},
	)

	SessionCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "openstack",
			Name:      "session_cache_lookups_total",
			Help:      "Total number of session cache lookups by result (hit, miss, expired)",
		},
		[]string{"result"},
	)

	ProvisioningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "openstack",
			Name:      "provisioning_duration_seconds",
			Help:      "Time from server creation request to a usable node",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
		},
	)

	RetentionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "decisions_total",
			Help:      "Total number of retention checks by outcome",
		},
		[]string{"decision"},
	)

	FleetNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "nodes",
			Help:      "Number of nodes tracked by the fleet by status",
		},
		[]string{"status"},
	)

	LeakedNodesDestroyed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "leaked_nodes_destroyed_total",
			Help:      "Total number of untracked servers destroyed by the sweep",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		OpenstackOperations,
		SessionCacheLookups,
		ProvisioningDuration,
		RetentionDecisions,
		FleetNodes,
		LeakedNodesDestroyed,
	)
}

// Handler serves the nimbus registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Result maps an operation error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ringkv"

// Node holds the collectors of one storage node.
type Node struct {
	Requests        *prometheus.CounterVec
	AdminMessages   *prometheus.CounterVec
	MigratedKeys    prometheus.Counter
	ReplicatedDelta prometheus.Counter
	AppliedTransfer *prometheus.CounterVec
	Connections     prometheus.Gauge
	Subscribers     prometheus.Gauge
	PrimaryKeys     prometheus.GaugeFunc
	ReplicaKeys     prometheus.GaugeFunc
}

// NewNode registers node collectors on reg. primary and replica report the
// current store sizes.
func NewNode(reg prometheus.Registerer, nodeName string, primary, replica func() float64) *Node {
	f := promauto.With(reg)
	labels := prometheus.Labels{"node": nodeName}

	return &Node{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "client_requests_total",
			Help:        "Client requests by request status and reply status",
			ConstLabels: labels,
		}, []string{"request", "reply"}),
		AdminMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "admin_messages_total",
			Help:        "Admin messages applied by type",
			ConstLabels: labels,
		}, []string{"type"}),
		MigratedKeys: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "migrated_keys_total",
			Help:        "Keys shipped to another node after a topology change",
			ConstLabels: labels,
		}),
		ReplicatedDelta: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "replicated_deltas_total",
			Help:        "Single key deltas forwarded to ring neighbours",
			ConstLabels: labels,
		}),
		AppliedTransfer: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "transfer_keys_applied_total",
			Help:        "Keys received through TRANSFER_KV by destination store",
			ConstLabels: labels,
		}, []string{"store"}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "client_connections",
			Help:        "Open client connections",
			ConstLabels: labels,
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "subscribers",
			Help:        "Connections with at least one subscription",
			ConstLabels: labels,
		}),
		PrimaryKeys: f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "primary_keys",
			Help:        "Keys in the primary store",
			ConstLabels: labels,
		}, primary),
		ReplicaKeys: f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "replica_keys",
			Help:        "Keys in the replica store",
			ConstLabels: labels,
		}, replica),
	}
}

// Controller holds the cluster controller collectors.
type Controller struct {
	ActiveNodes   prometheus.Gauge
	Broadcasts    *prometheus.CounterVec
	Crashes       prometheus.Counter
	UnackedPushes prometheus.Counter
	Operations    *prometheus.CounterVec
}

func NewController(reg prometheus.Registerer) *Controller {
	f := promauto.With(reg)
	return &Controller{
		ActiveNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "active_nodes",
			Help:      "Nodes currently on the ring",
		}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "admin_messages_sent_total",
			Help:      "Admin messages written to node inboxes by type",
		}, []string{"type"}),
		Crashes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "crashes_detected_total",
			Help:      "Liveness entries that vanished without a graceful remove",
		}),
		UnackedPushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "unapplied_updates_total",
			Help:      "Topology pushes not consumed by a node within the ack timeout",
		}),
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "operations_total",
			Help:      "Controller operations by kind and result",
		}, []string{"op", "result"}),
	}
}

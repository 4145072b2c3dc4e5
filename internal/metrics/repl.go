package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HeartbeatsTotal counts completed heartbeat exchanges by outcome
	// (success, failure, timeout).
	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorumd_heartbeats_total",
			Help: "Total number of completed heartbeat exchanges by outcome",
		},
		[]string{"target", "outcome"},
	)

	// HeartbeatRTT measures heartbeat round-trip time.
	HeartbeatRTT = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "quorumd_heartbeat_rtt_seconds",
			Help: "Heartbeat round-trip time in seconds",
			// Buckets sized for LAN and WAN member links: 1ms to 10s.
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// MemberHealth reports each member's health as seen by this node
	// (-1 unknown, 0 down, 1 up).
	MemberHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quorumd_member_health",
			Help: "Observed member health (-1 unknown, 0 down, 1 up)",
		},
		[]string{"member"},
	)

	// IsPrimary indicates whether this node currently believes it is the
	// primary (1) or not (0).
	IsPrimary = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorumd_is_primary",
			Help: "Whether this node is currently primary (1=primary, 0=not)",
		},
	)

	// StateTransitions counts member state transitions of this node.
	StateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorumd_state_transitions_total",
			Help: "Total number of member state transitions of this node",
		},
		[]string{"from_state", "to_state"},
	)

	// ElectionVotes counts election votes cast by this node by kind
	// (yea, nay, veto).
	ElectionVotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorumd_election_votes_total",
			Help: "Total number of election votes cast by kind",
		},
		[]string{"kind"},
	)

	// ElectionsStarted counts elections this node decided to stand for.
	ElectionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quorumd_elections_started_total",
			Help: "Total number of elections this node stood for",
		},
	)

	// SyncSourceChanges counts sync source reselections.
	SyncSourceChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quorumd_sync_source_changes_total",
			Help: "Total number of sync source changes",
		},
	)
)

// registerReplMetrics registers all replication metrics.
func registerReplMetrics() error {
	metrics := []prometheus.Collector{
		HeartbeatsTotal,
		HeartbeatRTT,
		MemberHealth,
		IsPrimary,
		StateTransitions,
		ElectionVotes,
		ElectionsStarted,
		SyncSourceChanges,
	}
	for _, metric := range metrics {
		if err := Registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

// VoteKind converts a wire vote weight into a metric label.
func VoteKind(vote int) string {
	switch {
	case vote > 0:
		return "yea"
	case vote < 0:
		return "veto"
	default:
		return "nay"
	}
}

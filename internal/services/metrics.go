package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the presence subsystem.
// Built once in main and passed by reference.
type Metrics struct {
	HeartbeatTicks    *prometheus.CounterVec
	Activations       *prometheus.CounterVec
	TabCountRefreshes prometheus.Counter
	SessionRecoveries prometheus.Counter
	SweptRooms        prometheus.Counter
}

// InitMetrics initializes the Prometheus metrics
func InitMetrics(connManager *ConnectionManager) *Metrics {
	metrics := &Metrics{
		HeartbeatTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowroom_heartbeat_ticks_total",
			Help: "Heartbeat ticks by result",
		}, []string{"result"}), // "ok" or "error"

		Activations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowroom_session_activations_total",
			Help: "Active-session arbiter calls by direction and result",
		}, []string{"direction", "result"}), // direction: "activate"/"deactivate"

		TabCountRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowroom_tab_count_refreshes_total",
			Help: "Tab count recomputations",
		}),

		SessionRecoveries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowroom_session_recoveries_total",
			Help: "Forced session recoveries after repeated heartbeat failures",
		}),

		SweptRooms: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowroom_swept_rooms_total",
			Help: "Rooms deleted by the stale-room sweeper",
		}),
	}

	// Live tab connections come straight from the connection manager
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "flowroom_tab_connections_current",
			Help: "Current number of open presence WebSocket connections",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.Count())
			}
			return 0
		},
	))

	return metrics
}

// RecordHeartbeat records a heartbeat tick result
func (m *Metrics) RecordHeartbeat(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.HeartbeatTicks.WithLabelValues("ok").Inc()
	} else {
		m.HeartbeatTicks.WithLabelValues("error").Inc()
	}
}

// RecordActivation records an arbiter call
func (m *Metrics) RecordActivation(activate, ok bool) {
	if m == nil {
		return
	}
	direction := "deactivate"
	if activate {
		direction = "activate"
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Activations.WithLabelValues(direction, result).Inc()
}

// RecordTabCountRefresh records a tab count recomputation
func (m *Metrics) RecordTabCountRefresh() {
	if m == nil {
		return
	}
	m.TabCountRefreshes.Inc()
}

// RecordRecovery records a forced session recovery
func (m *Metrics) RecordRecovery() {
	if m == nil {
		return
	}
	m.SessionRecoveries.Inc()
}

// RecordSweptRoom records a room deleted by the sweeper
func (m *Metrics) RecordSweptRoom() {
	if m == nil {
		return
	}
	m.SweptRooms.Inc()
}

package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zzenonn/zdav/internal/connections"
	"github.com/zzenonn/zdav/internal/domain"
)

// PrometheusSink exposes telemetry as metrics.
type PrometheusSink struct {
	liveConnections prometheus.Gauge
	idleConnections prometheus.Gauge
	maxConnections  prometheus.Gauge
	healthChecks    *prometheus.CounterVec
	checkProgress   prometheus.Gauge
}

// NewPrometheusSink registers the sink's metrics with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		liveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zdav_connections_live",
			Help: "Constructed provider connections across all pools.",
		}),
		idleConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zdav_connections_idle",
			Help: "Idle provider connections across all pools.",
		}),
		maxConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zdav_connections_max",
			Help: "Configured connection capacity across all pools.",
		}),
		healthChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zdav_health_checks_total",
			Help: "Completed health checks by result and repair action.",
		}, []string{"result", "action"}),
		checkProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zdav_health_check_progress_percent",
			Help: "Progress of the health check currently running.",
		}),
	}
}

func (s *PrometheusSink) HealthProgress(itemID string, progress string) {
	if progress == ProgressDone {
		s.checkProgress.Set(0)
		return
	}
	if percent, err := strconv.Atoi(progress); err == nil {
		s.checkProgress.Set(float64(percent))
	}
}

func (s *PrometheusSink) HealthStatus(itemID string, result domain.HealthResult, action domain.RepairAction) {
	s.healthChecks.WithLabelValues(result.String(), action.String()).Inc()
}

func (s *PrometheusSink) Connections(stats connections.PoolStats) {
	s.liveConnections.Set(float64(stats.Live))
	s.idleConnections.Set(float64(stats.Idle))
	s.maxConnections.Set(float64(stats.Max))
}

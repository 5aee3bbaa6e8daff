package telemetry

import (
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zdav/internal/connections"
	"github.com/zzenonn/zdav/internal/domain"
)

// LogSink writes telemetry to the process log.
type LogSink struct{}

func (LogSink) HealthProgress(itemID string, progress string) {
	log.WithField("topic", "health_progress").Trace(ProgressMessage(itemID, progress))
}

func (LogSink) HealthStatus(itemID string, result domain.HealthResult, action domain.RepairAction) {
	log.WithFields(log.Fields{
		"topic":  "health_status",
		"item":   itemID,
		"result": result.String(),
		"action": action.String(),
	}).Debug(StatusMessage(itemID, result, action))
}

func (LogSink) Connections(stats connections.PoolStats) {
	log.WithField("topic", "connections").Trace(ConnectionsMessage(stats))
}

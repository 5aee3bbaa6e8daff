// Package telemetry publishes health-check progress, repair outcomes and
// connection occupancy to whoever is listening.
package telemetry

import (
	"fmt"

	"github.com/zzenonn/zdav/internal/connections"
	"github.com/zzenonn/zdav/internal/domain"
)

// ProgressDone is the final progress value of every health check.
const ProgressDone = "done"

// Sink receives telemetry. Implementations must not block; connection events
// are delivered while a pool lock is held.
type Sink interface {
	HealthProgress(itemID string, progress string)
	HealthStatus(itemID string, result domain.HealthResult, action domain.RepairAction)
	Connections(stats connections.PoolStats)
}

// ProgressMessage formats a progress event as "{itemID}|{progress}".
func ProgressMessage(itemID, progress string) string {
	return fmt.Sprintf("%s|%s", itemID, progress)
}

// StatusMessage formats a status event as "{itemID}|{result}|{action}".
func StatusMessage(itemID string, result domain.HealthResult, action domain.RepairAction) string {
	return fmt.Sprintf("%s|%d|%d", itemID, result, action)
}

// ConnectionsMessage formats occupancy as "{live}|{max}|{idle}".
func ConnectionsMessage(stats connections.PoolStats) string {
	return fmt.Sprintf("%d|%d|%d", stats.Live, stats.Max, stats.Idle)
}

// Multi fans every event out to each sink in order.
type Multi []Sink

func (m Multi) HealthProgress(itemID string, progress string) {
	for _, s := range m {
		s.HealthProgress(itemID, progress)
	}
}

func (m Multi) HealthStatus(itemID string, result domain.HealthResult, action domain.RepairAction) {
	for _, s := range m {
		s.HealthStatus(itemID, result, action)
	}
}

func (m Multi) Connections(stats connections.PoolStats) {
	for _, s := range m {
		s.Connections(stats)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) HealthProgress(string, string)                                 {}
func (Nop) HealthStatus(string, domain.HealthResult, domain.RepairAction) {}
func (Nop) Connections(connections.PoolStats)                             {}

package domain

import "time"

type HealthResult int

const (
	Healthy HealthResult = iota
	Unhealthy
)

func (r HealthResult) String() string {
	if r == Healthy {
		return "healthy"
	}
	return "unhealthy"
}

type RepairAction int

const (
	RepairNone RepairAction = iota
	RepairRepaired
	RepairDeleted
	RepairActionNeeded
)

func (a RepairAction) String() string {
	switch a {
	case RepairRepaired:
		return "repaired"
	case RepairDeleted:
		return "deleted"
	case RepairActionNeeded:
		return "action_needed"
	default:
		return "none"
	}
}

// HealthCheckResult - one entry of the append-only health check audit log
type HealthCheckResult struct {
	ID           string       `json:"id" dynamodbav:"id"`           // Partition Key
	ItemID       string       `json:"item_id" dynamodbav:"item_id"` // GSI hash key
	Path         string       `json:"path" dynamodbav:"path"`
	CreatedAt    time.Time    `json:"created_at" dynamodbav:"created_at"`
	Result       HealthResult `json:"result" dynamodbav:"result"`
	RepairStatus RepairAction `json:"repair_status" dynamodbav:"repair_status"`
	Message      string       `json:"message" dynamodbav:"message"`
}

// Package jobs runs the ledger's scheduled maintenance on asynq.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the queue every maintenance task goes to.
	QueueDefault = "default"

	// TaskBlockExpiredLots blocks AVAILABLE lots past their expiry date.
	TaskBlockExpiredLots = "lots:block_expired"
	// TaskAlertExpiringLots raises J-7/J-3/J-1 alerts.
	TaskAlertExpiringLots = "lots:alert_expiring"
	// TaskExpireDeclarations moves stale pending declarations to EXPIRED.
	TaskExpireDeclarations = "declarations:expire"
)

// maintenanceRetries bounds retries; a missed run is picked up by the next one.
const maintenanceRetries = 3

// ScheduledPayload carries the reference date. A zero AsOf means "now", which
// is what cron registrations use since their payload is fixed at startup.
type ScheduledPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

func newScheduledTask(taskType string, asOf time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(maintenanceRetries),
		asynq.Unique(time.Hour),
	), nil
}

// NewBlockExpiredLotsTask builds a lots:block_expired task.
func NewBlockExpiredLotsTask(asOf time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskBlockExpiredLots, asOf)
}

// NewAlertExpiringLotsTask builds a lots:alert_expiring task.
func NewAlertExpiringLotsTask(asOf time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskAlertExpiringLots, asOf)
}

// NewExpireDeclarationsTask builds a declarations:expire task.
func NewExpireDeclarationsTask(asOf time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskExpireDeclarations, asOf)
}

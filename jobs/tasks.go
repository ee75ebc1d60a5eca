package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAlertScan evaluates stock and expiry alerts.
	TaskAlertScan = "alerts:scan"
	// TaskExpirySweep writes off lots past their expiry date.
	TaskExpirySweep = "lots:expiry_sweep"
)

// AlertScanPayload parameterises an alert evaluation run.
type AlertScanPayload struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// NewAlertScanTask constructs an Asynq task.
func NewAlertScanTask(payload AlertScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAlertScan, data), nil
}

// ExpirySweepPayload parameterises an expiry sweep run. A zero AsOf means
// the handler's clock.
type ExpirySweepPayload struct {
	AsOf    time.Time `json:"as_of,omitempty"`
	ActorID string    `json:"actor_id,omitempty"`
}

// NewExpirySweepTask constructs an Asynq task.
func NewExpirySweepTask(payload ExpirySweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpirySweep, data), nil
}

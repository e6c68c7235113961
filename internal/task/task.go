// Package task models a unit of work assigned to a single vehicle.
package task

import (
	"time"

	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

type Status string

const (
	TASK_STATUS_PENDING      Status = "pending"
	TASK_STATUS_DISPATCHED   Status = "dispatched"
	TASK_STATUS_ACKNOWLEDGED Status = "acknowledged"
	TASK_STATUS_COMPLETED    Status = "completed"
	TASK_STATUS_FAILED       Status = "failed"
)

// Task status only moves forward:
// pending -> dispatched -> acknowledged -> completed,
// with failed reachable from any non-terminal status.
type Task struct {
	ID string

	jobType  types.JobType
	taskType string
	payload  types.Params

	status         Status
	vehicleID      string
	messageID      string
	dispatchedAt   time.Time
	acknowledgedAt time.Time
	finishedAt     time.Time
	result         types.Params
	failure        string
}

func New(id string, jobType types.JobType, taskType string, payload types.Params) *Task {
	return &Task{
		ID:       id,
		jobType:  jobType,
		taskType: taskType,
		payload:  payload.Copy(),
		status:   TASK_STATUS_PENDING,
	}
}

func (t *Task) JobType() types.JobType  { return t.jobType }
func (t *Task) TaskType() string        { return t.taskType }
func (t *Task) Payload() types.Params   { return t.payload.Copy() }
func (t *Task) Status() Status          { return t.status }
func (t *Task) VehicleID() string       { return t.vehicleID }
func (t *Task) MessageID() string       { return t.messageID }
func (t *Task) DispatchedAt() time.Time { return t.dispatchedAt }
func (t *Task) Result() types.Params    { return t.result.Copy() }

// AcknowledgedAt is zero until the vehicle has acknowledged the task.
func (t *Task) AcknowledgedAt() time.Time { return t.acknowledgedAt }

func (t *Task) Terminal() bool {
	return t.status == TASK_STATUS_COMPLETED || t.status == TASK_STATUS_FAILED
}

// Assign binds a pending task to a vehicle.
func (t *Task) Assign(vehicleID string) error {
	if t.status != TASK_STATUS_PENDING {
		return types.StateError("task %s: assign in status %s", t.ID, t.status)
	}
	t.vehicleID = vehicleID
	return nil
}

// Dispatch records that the task was sent to its vehicle in the message
// with id messageID.
func (t *Task) Dispatch(messageID string, at time.Time) error {
	if t.vehicleID == "" {
		return types.StateError("task %s: dispatch without vehicle", t.ID)
	}
	if err := t.transition(TASK_STATUS_PENDING, TASK_STATUS_DISPATCHED); err != nil {
		return err
	}
	t.messageID = messageID
	t.dispatchedAt = at
	return nil
}

func (t *Task) Acknowledge(at time.Time) error {
	if err := t.transition(TASK_STATUS_DISPATCHED, TASK_STATUS_ACKNOWLEDGED); err != nil {
		return err
	}
	t.acknowledgedAt = at
	return nil
}

func (t *Task) Complete(result types.Params, at time.Time) error {
	if err := t.transition(TASK_STATUS_ACKNOWLEDGED, TASK_STATUS_COMPLETED); err != nil {
		return err
	}
	t.result = result.Copy()
	t.finishedAt = at
	return nil
}

func (t *Task) Fail(reason string, at time.Time) error {
	if t.Terminal() {
		return types.StateError("task %s: %s -> %s", t.ID, t.status, TASK_STATUS_FAILED)
	}
	t.status = TASK_STATUS_FAILED
	t.failure = reason
	t.finishedAt = at
	return nil
}

func (t *Task) transition(from, to Status) error {
	if t.status != from {
		return types.StateError("task %s: %s -> %s", t.ID, t.status, to)
	}
	t.status = to
	return nil
}

// Snapshot is a read-only view of a task for status reports.
type Snapshot struct {
	ID        string        `json:"id"`
	JobType   types.JobType `json:"job_type"`
	TaskType  string        `json:"task_type"`
	Payload   types.Params  `json:"payload,omitempty"`
	Status    Status        `json:"status"`
	VehicleID string        `json:"vehicle_id,omitempty"`
	Result    types.Params  `json:"result,omitempty"`
	Failure   string        `json:"failure,omitempty"`
}

func (t *Task) Snapshot() Snapshot {
	return Snapshot{
		ID:        t.ID,
		JobType:   t.jobType,
		TaskType:  t.taskType,
		Payload:   t.Payload(),
		Status:    t.status,
		VehicleID: t.vehicleID,
		Result:    t.Result(),
		Failure:   t.failure,
	}
}

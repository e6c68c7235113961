package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tiiuae/communication_link/missioncontrol/internal/events"
	"github.com/tiiuae/communication_link/missioncontrol/internal/mission"
	"github.com/tiiuae/communication_link/missioncontrol/internal/task"
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

// dispatchAll sends the assignments, concurrently across vehicles, then
// records the outcome on the mission. A task whose vehicle cannot be
// reached fails; whatever the mission assigns in its place is dispatched
// in turn.
func (o *Orchestrator) dispatchAll(ctx context.Context, m *mission.Mission, assignments []mission.Assignment) {
	for len(assignments) > 0 {
		sent := make([]types.Message, len(assignments))
		errs := make([]error, len(assignments))

		var g errgroup.Group
		if o.cfg.DispatchConcurrency > 0 {
			g.SetLimit(o.cfg.DispatchConcurrency)
		}
		for i, a := range assignments {
			i, a := i, a
			g.Go(func() error {
				sent[i], errs[i] = o.dispatchTask(ctx, a.Task, a.VehicleID)
				return nil
			})
		}
		g.Wait()

		var next []mission.Assignment
		for i, a := range assignments {
			if errs[i] != nil {
				o.log.Warn("Dispatch failed", slog.String("task", a.Task.ID), slog.String("vehicle", a.VehicleID), slog.Any("error", errs[i]))
				if c, changed := o.fleet.Disconnect(a.VehicleID); changed {
					o.publishVehicle(c)
				}
				more, err := m.FailTask(a.Task.ID, errs[i].Error())
				if err != nil {
					o.log.Error("Failing task", slog.String("task", a.Task.ID), slog.Any("error", err))
				}
				next = append(next, more...)
				continue
			}
			if err := m.MarkDispatched(a.Task.ID, sent[i].ID); err != nil {
				o.log.Error("Marking task dispatched", slog.String("task", a.Task.ID), slog.Any("error", err))
				continue
			}
			o.outbox.Enqueue(a.VehicleID, sent[i])
		}
		assignments = next
	}
}

// dispatchTask sends a task to its vehicle. It does not touch the task.
func (o *Orchestrator) dispatchTask(ctx context.Context, t *task.Task, vehicleID string) (types.Message, error) {
	if !o.fleet.Available(vehicleID) {
		return types.Message{}, types.VehicleUnavailable(vehicleID, errors.New("not connected"))
	}
	msg := o.createMessage(types.KindAddMission, vehicleID, types.AddMission{
		TaskID:   t.ID,
		JobType:  t.JobType(),
		TaskType: t.TaskType(),
		Payload:  t.Payload(),
	})
	if err := o.link.Send(ctx, vehicleID, msg); err != nil {
		if !errors.Is(err, types.ErrVehicleUnavailable) {
			err = types.VehicleUnavailable(vehicleID, err)
		}
		return types.Message{}, err
	}
	return msg, nil
}

func (o *Orchestrator) createMessage(kind, to string, payload interface{}) types.Message {
	msg := types.CreateMessage(kind, o.cfg.StationID, to, payload)
	msg.Timestamp = o.now()
	return msg
}

func (o *Orchestrator) send(ctx context.Context, vehicleID, kind string, payload interface{}) (types.Message, error) {
	msg := o.createMessage(kind, vehicleID, payload)
	return msg, o.link.Send(ctx, vehicleID, msg)
}

// sendTracked sends a message the vehicle has to acknowledge. It is resent
// until acknowledged or expired.
func (o *Orchestrator) sendTracked(ctx context.Context, vehicleID, kind string, payload interface{}) (types.Message, error) {
	msg, err := o.send(ctx, vehicleID, kind, payload)
	if err != nil {
		return msg, err
	}
	o.outbox.Enqueue(vehicleID, msg)
	return msg, nil
}

// handleAck settles every outstanding message to the vehicle up to and
// including the acknowledged one. Acknowledged tasks move on.
func (o *Orchestrator) handleAck(vehicleID string, ack types.Ack) {
	settled, found := o.outbox.DrainUntil(vehicleID, func(msg types.Message) bool {
		return msg.ID == ack.AckID
	})
	if !found {
		o.log.Debug("Ack for unknown message", slog.String("vehicle", vehicleID), slog.String("ack_id", ack.AckID))
		return
	}

	m := o.active
	for _, msg := range settled {
		am, ok := msg.Message.(types.AddMission)
		if !ok || m == nil || m.Task(am.TaskID) == nil {
			continue
		}
		if err := m.Acknowledge(am.TaskID); err != nil {
			o.log.Warn("Task acknowledgement", slog.String("task", am.TaskID), slog.Any("error", err))
		}
	}
}

// sweep enforces task deadlines and vehicle liveness and resends
// unacknowledged messages.
func (o *Orchestrator) sweep(ctx context.Context, now time.Time) {
	if m := o.active; m != nil {
		expired, assignments := m.ExpireTasks(now, o.cfg.AckTimeout, o.cfg.TaskTimeout)
		for _, t := range expired {
			id := t.MessageID()
			o.outbox.RemoveFunc(t.VehicleID(), func(msg types.Message) bool { return msg.ID == id })
			o.events.Publish(eventTaskExpired(m, t))
		}
		o.dispatchAll(ctx, m, assignments)
	}

	for _, c := range o.fleet.Sweep(now, o.cfg.VehicleTimeout) {
		o.publishVehicle(c)
		o.vehicleLost(ctx, c.VehicleID, "vehicle timed out")
	}

	o.resend(ctx, now)
}

// vehicleLost fails the task the vehicle is working on. The task's job type
// falls to the remaining vehicles, or the mission ends when none is left.
func (o *Orchestrator) vehicleLost(ctx context.Context, vehicleID, reason string) {
	m := o.active
	if m == nil || m.State() != mission.STATE_RUNNING {
		return
	}
	t := m.ActiveTask(vehicleID)
	if t == nil {
		return
	}

	id := t.MessageID()
	o.outbox.RemoveFunc(vehicleID, func(msg types.Message) bool { return msg.ID == id })
	assignments, err := m.FailTask(t.ID, reason)
	if err != nil {
		o.log.Error("Failing task", slog.String("task", t.ID), slog.Any("error", err))
		return
	}
	o.events.Publish(events.Event{
		Type:        events.MISSION_ERROR,
		MissionID:   m.ID,
		MissionType: m.Type(),
		VehicleID:   vehicleID,
		Error:       fmt.Sprintf("task %s failed: %s", t.ID, reason),
	})
	o.dispatchAll(ctx, m, assignments)
}

func (o *Orchestrator) resend(ctx context.Context, now time.Time) {
	if o.cfg.ResendInterval <= 0 || now.Sub(o.lastResend) < o.cfg.ResendInterval {
		return
	}
	o.lastResend = now

	for _, vehicleID := range o.outbox.Keys() {
		if o.cfg.AckTimeout > 0 {
			o.outbox.RemoveFunc(vehicleID, func(msg types.Message) bool {
				return now.Sub(msg.Timestamp) > o.cfg.AckTimeout
			})
		}
		if !o.fleet.Available(vehicleID) {
			continue
		}
		for _, msg := range o.outbox.Snapshot(vehicleID) {
			if now.Sub(msg.Timestamp) < o.cfg.ResendInterval {
				continue
			}
			if err := o.link.Send(ctx, vehicleID, msg); err != nil {
				o.log.Debug("Resend failed", slog.String("vehicle", vehicleID), slog.Any("error", err))
				break
			}
		}
	}
}

func eventTaskExpired(m *mission.Mission, t *task.Task) events.Event {
	return events.Event{
		Type:        events.MISSION_ERROR,
		MissionID:   m.ID,
		MissionType: m.Type(),
		VehicleID:   t.VehicleID(),
		Error:       fmt.Sprintf("task %s timed out", t.ID),
	}
}

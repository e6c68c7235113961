package mission

import (
	"log/slog"

	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

// handleComplete is shared by every mission type. It finishes the task the
// vehicle reports on and hands the vehicle its next task.
func handleComplete(m *Mission, msg types.Message) (bool, error) {
	if msg.MessageType != types.KindComplete {
		return false, nil
	}

	var c types.Complete
	switch p := msg.Message.(type) {
	case types.Complete:
		c = p
	case *types.Complete:
		c = *p
	}

	t := m.active[msg.From]
	if c.TaskID != "" {
		t = m.Task(c.TaskID)
	}
	if t == nil {
		return true, types.ValidationError("vehicle %s completed unknown task %q", msg.From, c.TaskID)
	}
	if t.VehicleID() != msg.From {
		return true, types.ValidationError("vehicle %s completed task %s assigned to %s", msg.From, t.ID, t.VehicleID())
	}
	if err := t.Complete(c.Result, m.now()); err != nil {
		return true, err
	}

	m.log.Info("Task completed", slog.String("task", t.ID), slog.String("vehicle", msg.From))
	m.release(t, false)
	m.assign()
	m.evaluate()
	return true, nil
}

// recordPOI appends reported points of interest to the named result.
func recordPOI(result string) HandlerFunc {
	return func(m *Mission, msg types.Message) (bool, error) {
		if msg.MessageType != types.KindPOI {
			return false, nil
		}
		loc, err := poiLocation(msg)
		if err != nil {
			return true, err
		}
		m.AddResult(result, loc)
		m.log.Info("Point of interest", slog.String("vehicle", msg.From), slog.String("result", result),
			slog.Float64("lat", loc.Lat), slog.Float64("lng", loc.Lng))
		return true, nil
	}
}

func poiLocation(msg types.Message) (types.Location, error) {
	switch p := msg.Message.(type) {
	case types.POI:
		return p.Location(), p.Location().Validate()
	case *types.POI:
		return p.Location(), p.Location().Validate()
	case types.Raw:
		return types.Params(p).Location("lat", "lng")
	case map[string]interface{}:
		return types.Params(p).Location("lat", "lng")
	}
	return types.Location{}, types.ValidationError("malformed %s payload from %s", msg.MessageType, msg.From)
}

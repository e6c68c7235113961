package events

import (
	"log/slog"

	"github.com/tiiuae/communication_link/missioncontrol/internal/logging"
)

// LogEvent writes an event to the log.
func LogEvent(log *logging.Logger, e Event) {
	attrs := []any{slog.String("type", string(e.Type))}
	if e.MissionID != "" {
		attrs = append(attrs, slog.String("mission", e.MissionID), slog.String("mission_type", e.MissionType))
	}
	if e.VehicleID != "" {
		attrs = append(attrs, slog.String("vehicle", e.VehicleID), slog.String("status", e.Status))
	}
	if len(e.Results) > 0 {
		attrs = append(attrs, slog.Any("results", e.Results))
	}

	if e.Type == MISSION_ERROR {
		log.Warn("Event", append(attrs, slog.String("error", e.Error))...)
		return
	}
	log.Info("Event", attrs...)
}

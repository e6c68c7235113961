package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/tiiuae/communication_link/missioncontrol/internal/events"
)

// console prints mission events for an operator watching the terminal.
type console struct {
	out io.Writer

	started   *color.Color
	completed *color.Color
	stopped   *color.Color
	failed    *color.Color
	vehicle   *color.Color
}

func newConsole(out io.Writer) *console {
	return &console{
		out:       out,
		started:   color.New(color.FgCyan, color.Bold),
		completed: color.New(color.FgGreen, color.Bold),
		stopped:   color.New(color.FgYellow, color.Bold),
		failed:    color.New(color.FgRed),
		vehicle:   color.New(color.FgBlue),
	}
}

func (c *console) Print(e events.Event) {
	ts := e.Timestamp.Local().Format("15:04:05")
	switch e.Type {
	case events.MISSION_STARTED:
		fmt.Fprintf(c.out, "%s %s %s (%s) %s\n", ts, c.started.Sprint("STARTED  "), e.MissionID, e.MissionType, e.Status)
	case events.MISSION_COMPLETED:
		fmt.Fprintf(c.out, "%s %s %s (%s)%s\n", ts, c.completed.Sprint("COMPLETED"), e.MissionID, e.MissionType, formatResults(e))
	case events.MISSION_STOPPED:
		fmt.Fprintf(c.out, "%s %s %s (%s)%s\n", ts, c.stopped.Sprint("STOPPED  "), e.MissionID, e.MissionType, formatResults(e))
	case events.VEHICLE_STATUS_CHANGED:
		fmt.Fprintf(c.out, "%s %s %s %s\n", ts, c.vehicle.Sprint("VEHICLE  "), e.VehicleID, e.Status)
	case events.MISSION_ERROR:
		source := e.VehicleID
		if source == "" {
			source = e.MissionID
		}
		fmt.Fprintf(c.out, "%s %s %s %s\n", ts, c.failed.Sprint("ERROR    "), source, e.Error)
	default:
		fmt.Fprintf(c.out, "%s %s\n", ts, e.Type)
	}
}

func formatResults(e events.Event) string {
	if len(e.Results) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, name := range e.Results.Names() {
		fmt.Fprintf(&sb, "\n    %s:", name)
		for _, loc := range e.Results[name] {
			fmt.Fprintf(&sb, " (%.5f, %.5f)", loc.Lat, loc.Lng)
		}
	}
	return sb.String()
}

package vehiclelink

import (
	"strings"
)

// Topics builds the MQTT topic names under a common prefix.
type Topics struct {
	Prefix string
}

func (t Topics) Inbox(vehicleID string) string  { return t.join("vehicles", vehicleID, "inbox") }
func (t Topics) Outbox(vehicleID string) string { return t.join("vehicles", vehicleID, "outbox") }
func (t Topics) Command(name string) string     { return t.join("commands", name) }
func (t Topics) Event(kind string) string       { return t.join("events", kind) }

// Outboxes matches every vehicle's outbox.
func (t Topics) Outboxes() string { return t.Outbox("+") }

// Commands matches every command topic.
func (t Topics) Commands() string { return t.Command("+") }

// VehicleID extracts the vehicle id from an outbox topic.
func (t Topics) VehicleID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.join("vehicles")+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/outbox")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// CommandName extracts the command name from a command topic.
func (t Topics) CommandName(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.join("commands")+"/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

func (t Topics) join(parts ...string) string {
	if t.Prefix == "" {
		return strings.Join(parts, "/")
	}
	return t.Prefix + "/" + strings.Join(parts, "/")
}

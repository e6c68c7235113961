// Package commands accepts mission control commands from user interfaces.
package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tiiuae/communication_link/missioncontrol/internal/logging"
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
	"github.com/tiiuae/communication_link/missioncontrol/internal/vehiclelink"
)

const (
	COMMAND_START_MISSION    = "start-mission"
	COMMAND_STOP_MISSION     = "stop-mission"
	COMMAND_COMPLETE_MISSION = "complete-mission"
	COMMAND_SETUP_MISSION    = "setup-mission"

	// Replies are published as this event type.
	EVENT_COMMAND_RESULT = "command-result"

	publishTimeout = 5 * time.Second
)

// Controller runs the missions commands act on.
type Controller interface {
	StartMission(ctx context.Context, missionType string, params types.Params) (string, error)
	SetupMission(ctx context.Context, data types.Params) error
	StopMission(ctx context.Context) error
	CompleteMission(ctx context.Context) error
}

type Command struct {
	ID          string       `json:"id,omitempty"`
	Command     string       `json:"command"`
	MissionType string       `json:"mission_type,omitempty"`
	Params      types.Params `json:"params,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

type Reply struct {
	ID        string    `json:"id,omitempty"`
	Command   string    `json:"command"`
	MissionID string    `json:"mission_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Decode reads a command published on the topic for name. An empty
// command field takes the name from the topic.
func Decode(name string, payload []byte) (Command, error) {
	var cmd Command
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return Command{}, types.ValidationError("could not unmarshal command: %v", err)
		}
	}
	if cmd.Command == "" {
		cmd.Command = name
	}
	if name != "" && cmd.Command != name {
		return Command{}, types.ValidationError("command %q published on topic for %q", cmd.Command, name)
	}
	return cmd, cmd.Validate()
}

func (cmd Command) Validate() error {
	switch cmd.Command {
	case COMMAND_START_MISSION:
		if cmd.MissionType == "" {
			return types.ValidationError("%s without mission_type", cmd.Command)
		}
	case COMMAND_SETUP_MISSION:
		if len(cmd.Params) == 0 {
			return types.ValidationError("%s without params", cmd.Command)
		}
	case COMMAND_STOP_MISSION, COMMAND_COMPLETE_MISSION:
	default:
		return types.ValidationError("unknown command: %q", cmd.Command)
	}
	return nil
}

// Handle runs cmd against the controller.
func Handle(ctx context.Context, ctrl Controller, cmd Command) Reply {
	reply := Reply{ID: cmd.ID, Command: cmd.Command, Timestamp: time.Now().UTC()}

	err := cmd.Validate()
	if err == nil {
		switch cmd.Command {
		case COMMAND_START_MISSION:
			reply.MissionID, err = ctrl.StartMission(ctx, cmd.MissionType, cmd.Params)
		case COMMAND_SETUP_MISSION:
			err = ctrl.SetupMission(ctx, cmd.Params)
		case COMMAND_STOP_MISSION:
			err = ctrl.StopMission(ctx)
		case COMMAND_COMPLETE_MISSION:
			err = ctrl.CompleteMission(ctx)
		}
	}
	if err != nil {
		reply.Error = err.Error()
	}
	return reply
}

type incoming struct {
	name    string
	payload []byte
}

// Subscribe receives commands on the command topics and handles them one at
// a time until ctx is done. Each command is answered on the
// command-result event topic.
func Subscribe(ctx context.Context, client mqtt.Client, topics vehiclelink.Topics, qos byte, ctrl Controller, log *logging.Logger) error {
	commands := make(chan incoming)

	filter := topics.Commands()
	log.Info("Subscribing to MQTT commands", slog.String("topic", filter))
	token := client.Subscribe(filter, qos, func(client mqtt.Client, msg mqtt.Message) {
		name, ok := topics.CommandName(msg.Topic())
		if !ok {
			log.Warn("Unknown command topic", slog.String("topic", msg.Topic()))
			return
		}
		select {
		case commands <- incoming{name, msg.Payload()}:
		case <-ctx.Done():
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.WithMessage(err, "error on subscribe")
	}
	defer func() {
		client.Unsubscribe(filter).WaitTimeout(time.Second)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("Command handler shutting down")
			return nil
		case in := <-commands:
			reply := handleIncoming(ctx, ctrl, in, log)
			b, err := json.Marshal(reply)
			if err != nil {
				log.Error("Failed to marshal command result", slog.String("command", in.name), slog.Any("error", err))
				continue
			}
			token := client.Publish(topics.Event(EVENT_COMMAND_RESULT), qos, false, b)
			if token.WaitTimeout(publishTimeout) && token.Error() != nil {
				log.Warn("Failed to publish command result", slog.String("command", in.name), slog.Any("error", token.Error()))
			}
		}
	}
}

func handleIncoming(ctx context.Context, ctrl Controller, in incoming, log *logging.Logger) Reply {
	cmd, err := Decode(in.name, in.payload)
	if err != nil {
		log.Warn("Rejected command", slog.String("command", in.name), slog.Any("error", err))
		return Reply{ID: cmd.ID, Command: in.name, Error: err.Error(), Timestamp: time.Now().UTC()}
	}
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}

	log.Info("Got command", slog.String("command", cmd.Command), slog.String("id", cmd.ID))
	reply := Handle(ctx, ctrl, cmd)
	if reply.Error != "" {
		log.Warn("Command failed", slog.String("command", cmd.Command), slog.String("error", reply.Error))
	}
	return reply
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tiiuae/communication_link/missioncontrol/internal/commands"
	"github.com/tiiuae/communication_link/missioncontrol/internal/config"
	"github.com/tiiuae/communication_link/missioncontrol/internal/logging"
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
	"github.com/tiiuae/communication_link/missioncontrol/internal/vehiclelink"
)

func commandCmd(configPath *string) *cobra.Command {
	var (
		missionType string
		params      []string
		wait        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "command",
		Short: "Send a command to a running mission coordinator",
	}
	cmd.PersistentFlags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the result")

	run := func(name string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			c := commands.Command{
				ID:          uuid.New().String(),
				Command:     name,
				MissionType: missionType,
				Params:      p,
				Timestamp:   time.Now().UTC(),
			}
			if err := c.Validate(); err != nil {
				return err
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			reply, err := sendCommand(cmd.Context(), cfg, c, wait)
			if err != nil {
				return err
			}
			if reply.Error != "" {
				return errors.New(reply.Error)
			}
			if reply.MissionID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: mission %s\n", name, reply.MissionID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", name)
			}
			return nil
		}
	}

	start := &cobra.Command{
		Use:     "start",
		Short:   "Start a mission",
		Example: "  missioncontrol command start --type isrSearch --param lat=34.05 --param lng=-117.82",
		RunE:    run(commands.COMMAND_START_MISSION),
	}
	start.Flags().StringVarP(&missionType, "type", "t", "", "mission type")
	start.Flags().StringArrayVarP(&params, "param", "p", nil, "mission parameter as key=value")

	setup := &cobra.Command{
		Use:   "setup",
		Short: "Provide setup data for the mission awaiting setup",
		RunE:  run(commands.COMMAND_SETUP_MISSION),
	}
	setup.Flags().StringArrayVarP(&params, "param", "p", nil, "setup value as key=value")

	cmd.AddCommand(start, setup,
		&cobra.Command{Use: "stop", Short: "Stop the active mission", RunE: run(commands.COMMAND_STOP_MISSION)},
		&cobra.Command{Use: "complete", Short: "Complete the active mission", RunE: run(commands.COMMAND_COMPLETE_MISSION)},
	)
	return cmd
}

// parseParams reads key=value pairs. Values are numbers, booleans or
// strings, in that order of preference.
func parseParams(pairs []string) (types.Params, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	res := make(types.Params, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, types.ValidationError("parameter %q is not key=value", pair)
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			res[key] = f
		} else if b, err := strconv.ParseBool(value); err == nil {
			res[key] = b
		} else {
			res[key] = value
		}
	}
	return res, nil
}

// sendCommand publishes c and waits for the coordinator's reply.
func sendCommand(ctx context.Context, cfg *config.Config, c commands.Command, wait time.Duration) (commands.Reply, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	log := logging.NewWriter(io.Discard, cfg.Log.Level)
	client, err := vehiclelink.Dial(ctx, cfg.MQTT, fmt.Sprintf("%s-cli-%s", clientID(cfg), c.ID[:8]), log)
	if err != nil {
		return commands.Reply{}, err
	}
	defer client.Disconnect(250)

	topics := vehiclelink.Topics{Prefix: cfg.MQTT.TopicPrefix}
	replies := make(chan commands.Reply, 1)
	resultTopic := topics.Event(commands.EVENT_COMMAND_RESULT)
	tok := client.Subscribe(resultTopic, cfg.MQTT.QoS, func(_ mqtt.Client, m mqtt.Message) {
		var r commands.Reply
		if json.Unmarshal(m.Payload(), &r) == nil && r.ID == c.ID {
			select {
			case replies <- r:
			default:
			}
		}
	})
	if tok.Wait(); tok.Error() != nil {
		return commands.Reply{}, errors.WithMessage(tok.Error(), "subscribe")
	}

	b, _ := json.Marshal(c)
	tok = client.Publish(topics.Command(c.Command), cfg.MQTT.QoS, false, b)
	if tok.Wait(); tok.Error() != nil {
		return commands.Reply{}, errors.WithMessage(tok.Error(), "publish")
	}

	select {
	case r := <-replies:
		return r, nil
	case <-ctx.Done():
		return commands.Reply{}, errors.Errorf("no reply to %s within %v", c.Command, wait)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tiiuae/communication_link/missioncontrol/internal/commands"
	"github.com/tiiuae/communication_link/missioncontrol/internal/config"
	"github.com/tiiuae/communication_link/missioncontrol/internal/events"
	"github.com/tiiuae/communication_link/missioncontrol/internal/fleet"
	"github.com/tiiuae/communication_link/missioncontrol/internal/logging"
	"github.com/tiiuae/communication_link/missioncontrol/internal/mission"
	"github.com/tiiuae/communication_link/missioncontrol/internal/orchestrator"
	"github.com/tiiuae/communication_link/missioncontrol/internal/telemetry"
	"github.com/tiiuae/communication_link/missioncontrol/internal/vehiclelink"
)

func serveCmd(configPath *string) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mission coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if quiet {
				out = io.Discard
			}
			return serve(cfg, out)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print mission events")
	return cmd
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		StationID:           cfg.StationID,
		AckTimeout:          cfg.Mission.AckTimeout,
		TaskTimeout:         cfg.Mission.TaskTimeout,
		ResendInterval:      cfg.Mission.ResendInterval,
		SweepInterval:       cfg.Mission.SweepInterval,
		VehicleTimeout:      cfg.Fleet.VehicleTimeout,
		DispatchConcurrency: cfg.Mission.DispatchConcurrency,
		AcknowledgeMessages: cfg.Mission.AcknowledgeMessages,
	}
}

func clientID(cfg *config.Config) string {
	if cfg.MQTT.ClientID != "" {
		return cfg.MQTT.ClientID
	}
	return cfg.StationID
}

func serve(cfg *config.Config, out io.Writer) error {
	log := logging.New(cfg.Log.Level, cfg.Log.Dir, cfg.Log.Console)

	// attach sigint & sigterm listeners
	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(terminationSignals)

	// quitFunc will be called when process is terminated
	ctx, quitFunc := context.WithCancel(context.Background())
	defer quitFunc()

	codec, err := vehiclelink.NewCodec(cfg.MQTT.Codec)
	if err != nil {
		return err
	}
	client, err := vehiclelink.Dial(ctx, cfg.MQTT, clientID(cfg), log)
	if err != nil {
		return err
	}
	defer client.Disconnect(1000)

	topics := vehiclelink.Topics{Prefix: cfg.MQTT.TopicPrefix}
	link := vehiclelink.NewLink(client, cfg, codec, vehiclelink.NewDedup(cfg.Dedup.Size, cfg.Dedup.TTL),
		log.With(slog.String("component", "link")))

	vehicles := fleet.New(log.With(slog.String("component", "fleet")))
	for _, v := range cfg.Fleet.Vehicles {
		vehicles.Provision(v.ID, v.Jobs)
	}

	bus := events.NewBus(log)
	defer bus.Close()
	telemetryEvents, _ := bus.Subscribe(256)
	logEvents, _ := bus.Subscribe(256)
	consoleEvents, _ := bus.Subscribe(64)

	orch := orchestrator.New(orchestratorConfig(cfg), mission.DefaultRegistry(), vehicles, link, bus,
		log.With(slog.String("component", "orchestrator")))
	publisher := telemetry.New(client, topics, cfg.MQTT.QoS, cfg.Telemetry.Interval, orch, log)
	printer := newConsole(out)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	g.Go(func() error {
		return link.Run(gctx, orch.Submit)
	})
	g.Go(func() error {
		return commands.Subscribe(gctx, client, topics, cfg.MQTT.QoS, orch, log)
	})
	g.Go(func() error {
		publisher.Run(gctx, telemetryEvents)
		return nil
	})
	g.Go(func() error {
		events.Run(gctx, logEvents, func(e events.Event) { events.LogEvent(log, e) })
		return nil
	})
	g.Go(func() error {
		events.Run(gctx, consoleEvents, printer.Print)
		return nil
	})

	log.Info("Mission control running", slog.String("station", cfg.StationID), slog.String("codec", codec.Name()))
	fmt.Fprintf(out, "Mission control %s on %s\n", cfg.StationID, cfg.MQTT.Broker)

	// wait for termination or a failed component
	select {
	case <-terminationSignals:
		log.Info("Shutting down..")
	case <-gctx.Done():
	}
	// cancel the main context
	quitFunc()
	// wait until goroutines have done their cleanup
	log.Info("Waiting for routines to finish..")
	err = g.Wait()
	log.Info("Signing off - BYE")
	return err
}

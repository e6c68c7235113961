// Package telemetry forwards mission events and fleet state to remote user
// interfaces over MQTT.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tiiuae/communication_link/missioncontrol/internal/events"
	"github.com/tiiuae/communication_link/missioncontrol/internal/fleet"
	"github.com/tiiuae/communication_link/missioncontrol/internal/logging"
	"github.com/tiiuae/communication_link/missioncontrol/internal/vehiclelink"
)

const (
	retain = false

	TopicTelemetry = "telemetry"
)

// Fleet lists the vehicles to report.
type Fleet interface {
	Vehicles() []fleet.Vehicle
}

type telemetry struct {
	Timestamp int64           `json:"timestamp"`
	MessageID string          `json:"message_id"`
	Vehicles  []fleet.Vehicle `json:"vehicles"`
}

type Publisher struct {
	client   mqtt.Client
	topics   vehiclelink.Topics
	qos      byte
	interval time.Duration
	fleet    Fleet
	log      *logging.Logger

	lastSent []byte
}

func New(client mqtt.Client, topics vehiclelink.Topics, qos byte, interval time.Duration, f Fleet, log *logging.Logger) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Publisher{client: client, topics: topics, qos: qos, interval: interval, fleet: f, log: log}
}

// Run publishes every event from ch and, once per interval, the fleet
// state when it changed. It returns when ctx is done or ch is closed.
func (p *Publisher) Run(ctx context.Context, ch <-chan events.Event) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Telemetry shutting down")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.PublishEvent(e)
		case <-ticker.C:
			p.PublishFleet()
		}
	}
}

func (p *Publisher) PublishEvent(e events.Event) {
	b, err := json.Marshal(e)
	if err != nil {
		p.log.Error("Could not marshal event", slog.String("type", string(e.Type)), slog.Any("error", err))
		return
	}
	p.client.Publish(p.topics.Event(string(e.Type)), p.qos, retain, b)
}

// PublishFleet sends the fleet state unless it is unchanged since the last
// send. It reports whether anything was sent.
func (p *Publisher) PublishFleet() bool {
	vehicles := p.fleet.Vehicles()
	state, err := json.Marshal(vehicles)
	if err != nil {
		p.log.Error("Could not marshal fleet", slog.Any("error", err))
		return false
	}
	if bytes.Equal(state, p.lastSent) {
		// there's no new data to send
		return false
	}

	b, _ := json.Marshal(telemetry{
		Timestamp: time.Now().UnixNano() / 1000,
		MessageID: uuid.New().String(),
		Vehicles:  vehicles,
	})
	tok := p.client.Publish(p.topics.Event(TopicTelemetry), p.qos, retain, b)
	if !tok.WaitTimeout(p.interval) || tok.Error() != nil {
		p.log.Debug("Telemetry not sent", slog.Any("error", tok.Error()))
		return false
	}
	p.lastSent = state
	return true
}

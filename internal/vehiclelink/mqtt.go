// Package vehiclelink carries messages between the station and its
// vehicles over MQTT.
package vehiclelink

import (
	"context"
	"crypto/tls"
	"log/slog"
	"os"
	"strings"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/tiiuae/communication_link/missioncontrol/internal/config"
	"github.com/tiiuae/communication_link/missioncontrol/internal/logging"
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

const (
	retain = false
)

// ClientOptions builds the MQTT options for the broker in cfg. When a
// private key is configured the password is a JWT signed with it.
func ClientOptions(cfg config.MQTTConfig, clientID string) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetAutoReconnect(true).
		SetProtocolVersion(4) // Use MQTT 3.1.1

	if strings.HasPrefix(cfg.Broker, "ssl://") || strings.HasPrefix(cfg.Broker, "tls://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	if cfg.PrivateKey != "" {
		pass, err := signPassword(cfg, time.Now())
		if err != nil {
			return nil, err
		}
		opts.SetPassword(pass)
	}
	return opts, nil
}

func signPassword(cfg config.MQTTConfig, t time.Time) (string, error) {
	keyData, err := os.ReadFile(cfg.PrivateKey)
	if err != nil {
		return "", errors.WithMessage(err, "read private key")
	}

	var key interface{}
	switch cfg.Algorithm {
	case "RS256":
		key, err = jwt.ParseRSAPrivateKeyFromPEM(keyData)
	case "ES256":
		key, err = jwt.ParseECPrivateKeyFromPEM(keyData)
	default:
		return "", types.ValidationError("unknown algorithm: %s", cfg.Algorithm)
	}
	if err != nil {
		return "", errors.WithMessage(err, "parse private key")
	}

	token := jwt.NewWithClaims(jwt.GetSigningMethod(cfg.Algorithm), &jwt.StandardClaims{
		IssuedAt:  t.Unix(),
		ExpiresAt: t.Add(24 * time.Hour).Unix(),
		Audience:  cfg.Audience,
	})
	return token.SignedString(key)
}

// Dial connects to the broker, retrying on timeout until ctx is done.
func Dial(ctx context.Context, cfg config.MQTTConfig, clientID string, log *logging.Logger) (mqtt.Client, error) {
	opts, err := ClientOptions(cfg, clientID)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(opts)
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	log.Info("Connecting MQTT", slog.String("broker", cfg.Broker), slog.String("client_id", clientID))
	for {
		tok := client.Connect()
		if !tok.WaitTimeout(timeout) {
			log.Warn("Connection Timeout")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				continue
			}
		}
		if err := tok.Error(); err != nil {
			return nil, errors.WithMessage(err, "mqtt connect")
		}
		log.Info("..Connected")
		return client, nil
	}
}

// Link implements the orchestrator transport on an MQTT client.
type Link struct {
	client  mqtt.Client
	topics  Topics
	qos     byte
	codec   Codec
	dedup   *Dedup
	station string
	timeout time.Duration
	log     *logging.Logger
}

func NewLink(client mqtt.Client, cfg *config.Config, codec Codec, dedup *Dedup, log *logging.Logger) *Link {
	timeout := cfg.MQTT.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Link{
		client:  client,
		topics:  Topics{Prefix: cfg.MQTT.TopicPrefix},
		qos:     cfg.MQTT.QoS,
		codec:   codec,
		dedup:   dedup,
		station: cfg.StationID,
		timeout: timeout,
		log:     log,
	}
}

// Send publishes msg to the vehicle's inbox.
func (l *Link) Send(ctx context.Context, vehicleID string, msg types.Message) error {
	if !l.client.IsConnected() {
		return types.VehicleUnavailable(vehicleID, errors.New("broker not connected"))
	}
	b, err := l.codec.Marshal(msg)
	if err != nil {
		return errors.WithMessagef(err, "encode %s", msg.MessageType)
	}

	tok := l.client.Publish(l.topics.Inbox(vehicleID), l.qos, retain, b)
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
	case <-timer.C:
		return types.VehicleUnavailable(vehicleID, errors.New("publish timed out"))
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return types.VehicleUnavailable(vehicleID, err)
	}
	return nil
}

// Run subscribes to the vehicle outboxes and posts every accepted message
// until ctx is done.
func (l *Link) Run(ctx context.Context, post types.PostFn) error {
	topic := l.topics.Outboxes()
	l.log.Info("Subscribing to vehicle messages", slog.String("topic", topic))
	tok := l.client.Subscribe(topic, l.qos, func(client mqtt.Client, m mqtt.Message) {
		l.receive(m.Topic(), m.Payload(), post)
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return errors.WithMessage(err, "subscribe")
	}

	<-ctx.Done()
	l.log.Info("Vehicle link shutting down")
	l.client.Unsubscribe(topic).WaitTimeout(time.Second)
	return nil
}

func (l *Link) receive(topic string, payload []byte, post types.PostFn) {
	vehicleID, ok := l.topics.VehicleID(topic)
	if !ok {
		l.log.Warn("Message on unexpected topic", slog.String("topic", topic))
		return
	}

	msg, err := l.codec.Unmarshal(payload)
	if err != nil {
		l.log.Warn("Could not decode message", slog.String("vehicle", vehicleID), slog.Any("error", err))
		go l.reject(vehicleID, err)
		return
	}
	if msg.From != vehicleID {
		err := types.ValidationError("message from %q on the outbox of %s", msg.From, vehicleID)
		l.log.Warn("Sender mismatch", slog.String("vehicle", vehicleID), slog.Any("error", err))
		go l.reject(vehicleID, err)
		return
	}
	if l.dedup.Seen(msg.From, msg.ID) {
		l.log.Debug("Duplicate message dropped", slog.String("vehicle", vehicleID), slog.String("id", msg.ID))
		return
	}
	// The client routes every message through this goroutine; post must
	// not block.
	post(msg)
}

// reject answers an undecodable message with badMessage. It must not run
// on the client's callback goroutine.
func (l *Link) reject(vehicleID string, cause error) {
	msg := types.CreateMessage(types.KindBadMessage, l.station, vehicleID, types.BadMessage{Error: cause.Error()})
	if err := l.Send(context.Background(), vehicleID, msg); err != nil {
		l.log.Debug("badMessage not sent", slog.String("vehicle", vehicleID), slog.Any("error", err))
	}
}

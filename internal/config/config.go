// Package config loads the station configuration.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

type Config struct {
	StationID string          `yaml:"station_id"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Mission   MissionConfig   `yaml:"mission"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	Username       string        `yaml:"username"`
	PrivateKey     string        `yaml:"private_key"`
	Algorithm      string        `yaml:"algorithm"`
	Audience       string        `yaml:"audience"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Codec          string        `yaml:"codec"`
}

type MissionConfig struct {
	AckTimeout          time.Duration `yaml:"ack_timeout"`
	TaskTimeout         time.Duration `yaml:"task_timeout"`
	ResendInterval      time.Duration `yaml:"resend_interval"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	DispatchConcurrency int           `yaml:"dispatch_concurrency"`
	AcknowledgeMessages bool          `yaml:"acknowledge_messages"`
}

type FleetConfig struct {
	VehicleTimeout time.Duration   `yaml:"vehicle_timeout"`
	Vehicles       []VehicleConfig `yaml:"vehicles"`
}

type VehicleConfig struct {
	ID   string          `yaml:"id"`
	Jobs []types.JobType `yaml:"jobs"`
}

type DedupConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Dir     string `yaml:"dir"`
	Console bool   `yaml:"console"`
}

type TelemetryConfig struct {
	Interval time.Duration `yaml:"interval"`
}

func Default() *Config {
	return &Config{
		StationID: "gcs",
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			TopicPrefix:    "missioncontrol",
			QoS:            1,
			Username:       "unused",
			Algorithm:      "RS256",
			ConnectTimeout: 5 * time.Second,
			Codec:          "json",
		},
		Mission: MissionConfig{
			AckTimeout:          30 * time.Second,
			TaskTimeout:         0,
			ResendInterval:      5 * time.Second,
			SweepInterval:       time.Second,
			DispatchConcurrency: 8,
			AcknowledgeMessages: true,
		},
		Fleet: FleetConfig{
			VehicleTimeout: 15 * time.Second,
		},
		Dedup: DedupConfig{
			Size: 4096,
			TTL:  5 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Interval: time.Second,
		},
	}
}

// Load reads the defaults, then the YAML file at path (if any), then
// MISSIONCONTROL_* environment variables. A .env file in the working
// directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.WithMessage(err, "failed to load .env")
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read config %s", path)
		}
		if err := Parse(b, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML over the values already in cfg.
func Parse(b []byte, cfg *Config) error {
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return errors.WithMessage(err, "failed to unmarshal config yaml")
	}
	return nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("MISSIONCONTROL_STATION_ID", &c.StationID)
	str("MISSIONCONTROL_MQTT_BROKER", &c.MQTT.Broker)
	str("MISSIONCONTROL_MQTT_CLIENT_ID", &c.MQTT.ClientID)
	str("MISSIONCONTROL_MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)
	str("MISSIONCONTROL_MQTT_PRIVATE_KEY", &c.MQTT.PrivateKey)
	str("MISSIONCONTROL_MQTT_CODEC", &c.MQTT.Codec)
	str("MISSIONCONTROL_LOG_LEVEL", &c.Log.Level)
	str("MISSIONCONTROL_LOG_DIR", &c.Log.Dir)

	durations := map[string]*time.Duration{
		"MISSIONCONTROL_ACK_TIMEOUT":     &c.Mission.AckTimeout,
		"MISSIONCONTROL_TASK_TIMEOUT":    &c.Mission.TaskTimeout,
		"MISSIONCONTROL_VEHICLE_TIMEOUT": &c.Fleet.VehicleTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.WithMessagef(err, "invalid %s", key)
		}
		*dst = d
	}

	if v, ok := lookup("MISSIONCONTROL_LOG_CONSOLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.WithMessage(err, "invalid MISSIONCONTROL_LOG_CONSOLE")
		}
		c.Log.Console = b
	}
	return nil
}

func (c *Config) Validate() error {
	if c.StationID == "" {
		return types.ValidationError("station_id is required")
	}
	if c.MQTT.Broker == "" {
		return types.ValidationError("mqtt.broker is required")
	}
	switch c.MQTT.Codec {
	case "json", "msgpack":
	default:
		return types.ValidationError("unknown mqtt.codec %q", c.MQTT.Codec)
	}
	switch c.MQTT.Algorithm {
	case "RS256", "ES256":
	default:
		return types.ValidationError("unknown mqtt.algorithm %q", c.MQTT.Algorithm)
	}
	if c.MQTT.QoS > 2 {
		return types.ValidationError("mqtt.qos must be 0, 1 or 2")
	}
	if c.Mission.AckTimeout < 0 || c.Mission.TaskTimeout < 0 || c.Fleet.VehicleTimeout < 0 {
		return types.ValidationError("timeouts must not be negative")
	}
	if c.Mission.SweepInterval <= 0 {
		return types.ValidationError("mission.sweep_interval must be positive")
	}
	for _, v := range c.Fleet.Vehicles {
		if v.ID == "" || len(v.Jobs) == 0 {
			return types.ValidationError("fleet.vehicles entries need an id and jobs")
		}
	}
	return nil
}

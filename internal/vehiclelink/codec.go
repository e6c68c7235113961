package vehiclelink

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

// Codec converts message envelopes to and from their wire form.
type Codec interface {
	Name() string
	Marshal(msg types.Message) ([]byte, error)
	Unmarshal(b []byte) (types.Message, error)
}

func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, types.ValidationError("unknown codec %q", name)
}

type JSONCodec struct{}

type jsonEnvelope struct {
	Timestamp   time.Time       `json:"timestamp"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	ID          string          `json:"id"`
	MessageType string          `json:"message_type"`
	Message     json.RawMessage `json:"message"`
}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg types.Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Unmarshal also accepts payloads sent as a JSON encoded string.
func (JSONCodec) Unmarshal(b []byte) (types.Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return types.Message{}, types.ValidationError("malformed message: %v", err)
	}

	raw := []byte(env.Message)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return types.Message{}, types.ValidationError("malformed %s payload: %v", env.MessageType, err)
		}
		raw = []byte(s)
	}

	payload, err := types.DecodePayload(env.MessageType, func(v interface{}) error {
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		return json.Unmarshal(raw, v)
	})
	if err != nil {
		return types.Message{}, types.ValidationError("malformed %s payload: %v", env.MessageType, err)
	}
	return types.Message{
		Timestamp:   env.Timestamp,
		From:        env.From,
		To:          env.To,
		ID:          env.ID,
		MessageType: env.MessageType,
		Message:     payload,
	}, nil
}

// MsgpackCodec encodes envelopes with msgpack, using the json field names.
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	Timestamp   time.Time          `json:"timestamp"`
	From        string             `json:"from"`
	To          string             `json:"to"`
	ID          string             `json:"id"`
	MessageType string             `json:"message_type"`
	Message     msgpack.RawMessage `json:"message"`
}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(msg types.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(&msg); err != nil {
		return nil, errors.WithMessage(err, "msgpack encode")
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Unmarshal(b []byte) (types.Message, error) {
	var env msgpackEnvelope
	if err := decodeMsgpack(b, &env); err != nil {
		return types.Message{}, types.ValidationError("malformed message: %v", err)
	}

	payload, err := types.DecodePayload(env.MessageType, func(v interface{}) error {
		if len(env.Message) == 0 {
			return nil
		}
		return decodeMsgpack(env.Message, v)
	})
	if err != nil {
		return types.Message{}, types.ValidationError("malformed %s payload: %v", env.MessageType, err)
	}
	return types.Message{
		Timestamp:   env.Timestamp,
		From:        env.From,
		To:          env.To,
		ID:          env.ID,
		MessageType: env.MessageType,
		Message:     payload,
	}, nil
}

func decodeMsgpack(b []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

package vehiclelink

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

func TestJSONDecodesVehicleMessages(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want interface{}
	}{
		{
			"poi",
			`{"timestamp":"2024-05-01T10:00:00Z","from":"plane-1","to":"gcs","id":"m1","message_type":"POI","message":{"lat":34.06,"lng":-117.83}}`,
			types.POI{Lat: 34.06, Lng: -117.83},
		},
		{
			"string payload",
			`{"from":"plane-1","id":"m2","message_type":"ack","message":"{\"ack_id\":\"x\"}"}`,
			types.Ack{AckID: "x"},
		},
		{
			"connect",
			`{"from":"plane-1","id":"m3","message_type":"connect","message":{"jobs_available":["ISR_Plane"]}}`,
			types.Connect{JobsAvailable: []types.JobType{"ISR_Plane"}},
		},
		{
			"unknown kind",
			`{"from":"plane-1","id":"m4","message_type":"BOGUS","message":{"x":1}}`,
			types.Raw{"x": float64(1)},
		},
		{
			"no payload",
			`{"from":"plane-1","id":"m5","message_type":"complete"}`,
			types.Complete{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := JSONCodec{}.Unmarshal([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, "plane-1", msg.From)
			assert.Equal(t, tt.want, msg.Message)
		})
	}
}

func TestJSONRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"from":"plane-1","id":"m1","message_type":"POI","message":{"lat":"north"}}`,
		`{"from":"plane-1","id":"m1","message_type":"POI","message":"{broken"}`,
	} {
		_, err := JSONCodec{}.Unmarshal([]byte(raw))
		assert.True(t, errors.Is(err, types.ErrValidation), raw)
	}
}

func TestCodecsCarryTasks(t *testing.T) {
	msg := types.Message{
		Timestamp:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		From:        "gcs",
		To:          "plane-1",
		ID:          "m1",
		MessageType: types.KindAddMission,
		Message: types.AddMission{
			TaskID:   "t1",
			JobType:  "ISR_Plane",
			TaskType: "isrSearch",
			Payload:  types.Params{"lat": 34.05, "lng": -117.82},
		},
	}

	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			codec, err := NewCodec(name)
			require.NoError(t, err)
			assert.Equal(t, name, codec.Name())

			b, err := codec.Marshal(msg)
			require.NoError(t, err)
			got, err := codec.Unmarshal(b)
			require.NoError(t, err)

			assert.True(t, msg.Timestamp.Equal(got.Timestamp))
			assert.Equal(t, msg.ID, got.ID)
			am, ok := got.Message.(types.AddMission)
			require.True(t, ok, "got %T", got.Message)
			assert.Equal(t, "t1", am.TaskID)
			assert.Equal(t, types.JobType("ISR_Plane"), am.JobType)

			loc, err := am.Payload.Location("lat", "lng")
			require.NoError(t, err)
			assert.Equal(t, types.Location{Lat: 34.05, Lng: -117.82}, loc)
		})
	}
}

func TestMsgpackUsesJSONFieldNames(t *testing.T) {
	b, err := MsgpackCodec{}.Marshal(types.Message{ID: "m1", From: "plane-1", MessageType: types.KindAck, Message: types.Ack{AckID: "a1"}})
	require.NoError(t, err)
	assert.Contains(t, string(b), "ack_id")
	assert.Contains(t, string(b), "message_type")
}

func TestUnknownCodec(t *testing.T) {
	_, err := NewCodec("xml")
	assert.True(t, errors.Is(err, types.ErrValidation))
}

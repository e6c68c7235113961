package task

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

func newTask() *Task {
	return New("t1", "ISR_Plane", "isrSearch", types.Params{"lat": 34.05, "lng": -117.82})
}

func TestHappyPath(t *testing.T) {
	now := time.Now()
	tk := newTask()
	require.Equal(t, TASK_STATUS_PENDING, tk.Status())

	require.NoError(t, tk.Assign("plane-1"))
	require.NoError(t, tk.Dispatch("msg-1", now))
	assert.Equal(t, TASK_STATUS_DISPATCHED, tk.Status())
	assert.Equal(t, "msg-1", tk.MessageID())
	assert.Equal(t, now, tk.DispatchedAt())

	require.NoError(t, tk.Acknowledge(now))
	require.NoError(t, tk.Complete(types.Params{"found": true}, now))
	assert.Equal(t, TASK_STATUS_COMPLETED, tk.Status())
	assert.True(t, tk.Terminal())
	assert.Equal(t, true, tk.Result()["found"])
}

func TestIllegalTransitions(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		prep func(tk *Task)
		step func(tk *Task) error
	}{
		{"pending to completed", func(tk *Task) {}, func(tk *Task) error { return tk.Complete(nil, now) }},
		{"pending to acknowledged", func(tk *Task) {}, func(tk *Task) error { return tk.Acknowledge(now) }},
		{"dispatch without vehicle", func(tk *Task) {}, func(tk *Task) error { return tk.Dispatch("m", now) }},
		{"dispatched to completed", func(tk *Task) {
			tk.Assign("v")
			tk.Dispatch("m", now)
		}, func(tk *Task) error { return tk.Complete(nil, now) }},
		{"dispatch twice", func(tk *Task) {
			tk.Assign("v")
			tk.Dispatch("m", now)
		}, func(tk *Task) error { return tk.Dispatch("m2", now) }},
		{"completed to failed", func(tk *Task) {
			tk.Assign("v")
			tk.Dispatch("m", now)
			tk.Acknowledge(now)
			tk.Complete(nil, now)
		}, func(tk *Task) error { return tk.Fail("late", now) }},
		{"failed to acknowledged", func(tk *Task) {
			tk.Fail("gone", now)
		}, func(tk *Task) error { return tk.Acknowledge(now) }},
		{"reassign dispatched", func(tk *Task) {
			tk.Assign("v")
			tk.Dispatch("m", now)
		}, func(tk *Task) error { return tk.Assign("w") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := newTask()
			tt.prep(tk)
			before := tk.Status()

			err := tt.step(tk)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrState))
			assert.Equal(t, before, tk.Status())
		})
	}
}

func TestFailFromAnyLiveStatus(t *testing.T) {
	now := time.Now()
	steps := map[Status]func(tk *Task){
		TASK_STATUS_PENDING: func(tk *Task) {},
		TASK_STATUS_DISPATCHED: func(tk *Task) {
			tk.Assign("v")
			tk.Dispatch("m", now)
		},
		TASK_STATUS_ACKNOWLEDGED: func(tk *Task) {
			tk.Assign("v")
			tk.Dispatch("m", now)
			tk.Acknowledge(now)
		},
	}

	for from, prep := range steps {
		t.Run(string(from), func(t *testing.T) {
			tk := newTask()
			prep(tk)
			require.Equal(t, from, tk.Status())
			require.NoError(t, tk.Fail("timeout", now))
			assert.Equal(t, TASK_STATUS_FAILED, tk.Status())
			assert.Equal(t, "timeout", tk.Snapshot().Failure)
		})
	}
}

func TestPayloadIsImmutable(t *testing.T) {
	payload := types.Params{"lat": 1.0}
	tk := New("t", "job", "type", payload)

	payload["lat"] = 2.0
	got := tk.Payload()
	assert.Equal(t, 1.0, got["lat"])

	got["lat"] = 3.0
	assert.Equal(t, 1.0, tk.Payload()["lat"])
}

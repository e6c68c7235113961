package mission

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiiuae/communication_link/missioncontrol/internal/task"
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

type completions struct {
	calls   int
	reasons []Reason
}

func (c *completions) fn(m *Mission, reason Reason) {
	c.calls++
	c.reasons = append(c.reasons, reason)
}

func vehicleMessage(from, kind string, payload interface{}) types.Message {
	return types.Message{
		Timestamp:   time.Now(),
		From:        from,
		To:          "gcs",
		ID:          from + "-" + kind,
		MessageType: kind,
		Message:     payload,
	}
}

func startRunning(t *testing.T, v *Variant, params types.Params, vehicles map[string]types.JobType) (*Mission, []Assignment, *completions) {
	t.Helper()
	c := &completions{}
	m := New("mission-1", v, c.fn, nil)
	require.NoError(t, m.Configure(params))
	assignments, err := m.Arm(vehicles)
	require.NoError(t, err)
	require.Equal(t, STATE_RUNNING, m.State())
	return m, assignments, c
}

func dispatchAndAck(t *testing.T, m *Mission, a Assignment) {
	t.Helper()
	require.NoError(t, m.MarkDispatched(a.Task.ID, "msg-"+a.Task.ID))
	require.NoError(t, m.Acknowledge(a.Task.ID))
}

func TestISRScenario(t *testing.T) {
	m, assignments, c := startRunning(t, ISRSearch(),
		types.Params{"lat": 34.05, "lng": -117.82},
		map[string]types.JobType{"plane-1": JOB_ISR_PLANE})

	require.Len(t, assignments, 1)
	a := assignments[0]
	assert.Equal(t, "plane-1", a.VehicleID)
	assert.Equal(t, JOB_ISR_PLANE, a.Task.JobType())
	assert.Equal(t, types.Params{"lat": 34.05, "lng": -117.82}, a.Task.Payload())
	assert.Equal(t, "takeoff", m.Setup()["plane_start_action"])

	_, err := m.Update(vehicleMessage("plane-1", types.KindPOI, types.POI{Lat: 34.06, Lng: -117.83}))
	require.NoError(t, err)
	assert.Equal(t, []types.Location{{Lat: 34.06, Lng: -117.83}}, m.Results()[RESULT_POI])

	before := m.Results()
	_, err = m.Update(vehicleMessage("plane-1", "BOGUS", types.Raw{"x": 1}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnknownMessageKind))
	assert.Equal(t, before, m.Results())
	assert.Equal(t, STATE_RUNNING, m.State())

	dispatchAndAck(t, m, a)
	_, err = m.Update(vehicleMessage("plane-1", types.KindComplete, types.Complete{}))
	require.NoError(t, err)

	assert.Equal(t, STATE_TERMINATED, m.State())
	assert.Equal(t, 1, c.calls)
	results, err := m.TerminatedData()
	require.NoError(t, err)
	assert.Len(t, results[RESULT_POI], 1)
}

func TestConfigureRejectsMissingInformation(t *testing.T) {
	tests := []struct {
		name    string
		variant *Variant
		params  types.Params
	}{
		{"isr without lng", ISRSearch(), types.Params{"lat": 34.05}},
		{"isr with nil lat", ISRSearch(), types.Params{"lat": nil, "lng": 1.0}},
		{"isr out of range", ISRSearch(), types.Params{"lat": 134.05, "lng": 1.0}},
		{"isr non numeric", ISRSearch(), types.Params{"lat": "north", "lng": 1.0}},
		{"drop without target", PayloadDrop(), types.Params{}},
		{"ugv without delivery", UGVRescue(), types.Params{"retrieve_lat": 1.0, "retrieve_lng": 1.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New("m", tt.variant, nil, nil)
			err := m.Configure(tt.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrValidation))
			assert.Equal(t, STATE_CREATED, m.State())
		})
	}
}

func TestGenerateTasksIsDeterministic(t *testing.T) {
	tests := []struct {
		variant *Variant
		params  types.Params
	}{
		{ISRSearch(), types.Params{"lat": 34.05, "lng": -117.82}},
		{PayloadDrop(), types.Params{"lat": 1.0, "lng": 2.0, "alt": 30.0}},
		{UGVRescue(), types.Params{"retrieve_lat": 1.0, "retrieve_lng": 2.0, "deliver_lat": 3.0, "deliver_lng": 4.0}},
		{UUVRescue(), types.Params{}},
	}

	for _, tt := range tests {
		t.Run(tt.variant.Name, func(t *testing.T) {
			first, err := tt.variant.GenerateTasks(tt.params)
			require.NoError(t, err)
			second, err := tt.variant.GenerateTasks(tt.params)
			require.NoError(t, err)

			assert.Equal(t, first, second)
			for _, job := range tt.variant.JobTypes {
				assert.NotEmpty(t, first[job], "job type %s not covered", job)
			}
		})
	}
}

func TestTaskIDsAreStablePerMission(t *testing.T) {
	params := types.Params{"lat": 1.0, "lng": 2.0}
	vehicles := map[string]types.JobType{"plane-1": JOB_ISR_PLANE}

	a, _, _ := startRunning(t, ISRSearch(), params, vehicles)
	b, _, _ := startRunning(t, ISRSearch(), params, vehicles)
	assert.Equal(t, a.Tasks()[0].ID, b.Tasks()[0].ID)
}

func TestArmRequiresVehicleForEveryJob(t *testing.T) {
	m := New("m", ISRSearch(), nil, nil)
	require.NoError(t, m.Configure(types.Params{"lat": 1.0, "lng": 2.0}))

	_, err := m.Arm(map[string]types.JobType{"rover-1": JOB_UGV_RESCUE})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
	assert.Equal(t, STATE_AWAITING_SETUP, m.State())
	assert.Empty(t, m.Tasks())
}

func TestArmRejectsIncompletePlan(t *testing.T) {
	v := &Variant{
		Name:     "twoJobs",
		JobTypes: []types.JobType{"a", "b"},
		GenerateTasks: func(params types.Params) (Plan, error) {
			return Plan{"a": {{TaskType: "only-a"}}}, nil
		},
	}
	m := New("m", v, nil, nil)
	require.NoError(t, m.Configure(types.Params{}))

	_, err := m.Arm(map[string]types.JobType{"v1": "a", "v2": "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
	assert.Equal(t, STATE_AWAITING_SETUP, m.State())
}

func TestSetupGatesArming(t *testing.T) {
	c := &completions{}
	m := New("m", PayloadDrop(), c.fn, nil)
	require.NoError(t, m.Configure(types.Params{"lat": 1.0, "lng": 2.0}))

	done, missing := m.SetupComplete()
	assert.False(t, done)
	assert.Equal(t, []string{"payload_loaded"}, missing)

	vehicles := map[string]types.JobType{"drone-1": JOB_PAYLOAD_DROP}
	_, err := m.Arm(vehicles)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))

	_, err = m.Update(vehicleMessage("drone-1", types.KindPOI, types.POI{}))
	assert.True(t, errors.Is(err, types.ErrLifecycle))

	require.NoError(t, m.ApplySetup(types.Params{"payload_loaded": true, "unrelated": 1}))
	assignments, err := m.Arm(vehicles)
	require.NoError(t, err)

	require.Len(t, assignments, 1)
	assert.Equal(t, "takeoff", assignments[0].Task.TaskType())
	assert.Len(t, m.Tasks(), 3)

	assert.True(t, errors.Is(m.ApplySetup(types.Params{}), types.ErrLifecycle))
}

func TestTasksOfAJobRunInOrder(t *testing.T) {
	m, assignments, c := startRunning(t, PayloadDrop(),
		types.Params{"lat": 1.0, "lng": 2.0, "payload_loaded": true},
		map[string]types.JobType{"drone-1": JOB_PAYLOAD_DROP})

	var order []string
	for len(assignments) > 0 {
		require.Len(t, assignments, 1)
		a := assignments[0]
		order = append(order, a.Task.TaskType())
		assert.True(t, m.Busy("drone-1"))

		dispatchAndAck(t, m, a)
		var err error
		assignments, err = m.Update(vehicleMessage("drone-1", types.KindComplete, types.Complete{TaskID: a.Task.ID}))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"takeoff", "payloadDrop", "land"}, order)
	assert.Equal(t, STATE_TERMINATED, m.State())
	assert.Equal(t, []Reason{REASON_COMPLETED}, c.reasons)
	assert.False(t, m.Busy("drone-1"))
}

func TestCompleteRequiresAcknowledgement(t *testing.T) {
	m, assignments, _ := startRunning(t, ISRSearch(),
		types.Params{"lat": 1.0, "lng": 2.0},
		map[string]types.JobType{"plane-1": JOB_ISR_PLANE})
	require.NoError(t, m.MarkDispatched(assignments[0].Task.ID, "msg-1"))

	_, err := m.Update(vehicleMessage("plane-1", types.KindComplete, types.Complete{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrState))
	assert.Equal(t, task.TASK_STATUS_DISPATCHED, assignments[0].Task.Status())
	assert.Equal(t, STATE_RUNNING, m.State())
}

func TestUpdateRejectsForeignVehicle(t *testing.T) {
	m, _, _ := startRunning(t, ISRSearch(),
		types.Params{"lat": 1.0, "lng": 2.0},
		map[string]types.JobType{"plane-1": JOB_ISR_PLANE})

	_, err := m.Update(vehicleMessage("rover-9", types.KindPOI, types.POI{Lat: 1, Lng: 1}))
	assert.True(t, errors.Is(err, types.ErrValidation))
	assert.Empty(t, m.Results())
}

func TestExpiredTaskEndsMissionWithPartialResults(t *testing.T) {
	m, assignments, c := startRunning(t, ISRSearch(),
		types.Params{"lat": 1.0, "lng": 2.0},
		map[string]types.JobType{"plane-1": JOB_ISR_PLANE})
	a := assignments[0]
	require.NoError(t, m.MarkDispatched(a.Task.ID, "msg-1"))
	_, err := m.Update(vehicleMessage("plane-1", types.KindPOI, types.POI{Lat: 1.5, Lng: 2.5}))
	require.NoError(t, err)

	expired, next := m.ExpireTasks(time.Now().Add(time.Second), time.Minute, 0)
	assert.Empty(t, expired)
	assert.Empty(t, next)

	expired, next = m.ExpireTasks(time.Now().Add(2*time.Minute), time.Minute, 0)
	require.Len(t, expired, 1)
	assert.Empty(t, next)
	assert.Equal(t, task.TASK_STATUS_FAILED, a.Task.Status())

	assert.Equal(t, STATE_TERMINATED, m.State())
	assert.Equal(t, 1, c.calls)
	results, err := m.TerminatedData()
	require.NoError(t, err)
	assert.Equal(t, []types.Location{{Lat: 1.5, Lng: 2.5}}, results[RESULT_POI])
}

func TestAcknowledgedTaskDeadline(t *testing.T) {
	m, assignments, _ := startRunning(t, ISRSearch(),
		types.Params{"lat": 1.0, "lng": 2.0},
		map[string]types.JobType{"plane-1": JOB_ISR_PLANE})
	dispatchAndAck(t, m, assignments[0])

	expired, _ := m.ExpireTasks(time.Now().Add(time.Hour), time.Second, 0)
	assert.Empty(t, expired, "acknowledged task without task timeout")

	expired, _ = m.ExpireTasks(time.Now().Add(time.Hour), time.Second, 10*time.Minute)
	assert.Len(t, expired, 1)
	assert.Equal(t, STATE_TERMINATED, m.State())
}

func TestFailedVehicleLeavesRemainingTasksUnserved(t *testing.T) {
	m, assignments, c := startRunning(t, UGVRescue(),
		types.Params{"retrieve_lat": 1.0, "retrieve_lng": 2.0, "deliver_lat": 3.0, "deliver_lng": 4.0},
		map[string]types.JobType{"rover-1": JOB_UGV_RESCUE})
	require.Len(t, assignments, 1)

	next, err := m.FailTask(assignments[0].Task.ID, "vehicle unavailable")
	require.NoError(t, err)
	assert.Empty(t, next)

	for _, s := range m.Tasks() {
		assert.Equal(t, task.TASK_STATUS_FAILED, s.Status)
	}
	assert.Equal(t, STATE_TERMINATED, m.State())
	assert.Equal(t, []Reason{REASON_COMPLETED}, c.reasons)
}

func TestFailedVehicleWorkMovesToPeer(t *testing.T) {
	m, assignments, _ := startRunning(t, PayloadDrop(),
		types.Params{"lat": 1.0, "lng": 2.0, "payload_loaded": true},
		map[string]types.JobType{"drone-1": JOB_PAYLOAD_DROP, "drone-2": JOB_PAYLOAD_DROP})
	require.Len(t, assignments, 2)
	assert.Equal(t, "drone-1", assignments[0].VehicleID)
	assert.Equal(t, "takeoff", assignments[0].Task.TaskType())
	assert.Equal(t, "drone-2", assignments[1].VehicleID)
	assert.Equal(t, "payloadDrop", assignments[1].Task.TaskType())

	dispatchAndAck(t, m, assignments[1])
	next, err := m.FailTask(assignments[0].Task.ID, "lost link")
	require.NoError(t, err)
	assert.Empty(t, next, "land waits for a free vehicle")
	assert.Equal(t, STATE_RUNNING, m.State())

	next, err = m.Update(vehicleMessage("drone-2", types.KindComplete, types.Complete{}))
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "drone-2", next[0].VehicleID)
	assert.Equal(t, "land", next[0].Task.TaskType())

	dispatchAndAck(t, m, next[0])
	_, err = m.Update(vehicleMessage("drone-2", types.KindComplete, types.Complete{}))
	require.NoError(t, err)
	assert.Equal(t, STATE_TERMINATED, m.State())
}

func TestStopAndCompleteFireCallbackOnce(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, m *Mission, a []Assignment)
		want Reason
	}{
		{"stop", func(t *testing.T, m *Mission, a []Assignment) {
			require.NoError(t, m.Stop())
		}, REASON_STOPPED},
		{"stop after completion", func(t *testing.T, m *Mission, a []Assignment) {
			dispatchAndAck(t, m, a[0])
			_, err := m.Update(vehicleMessage("plane-1", types.KindComplete, types.Complete{}))
			require.NoError(t, err)
			assert.True(t, errors.Is(m.Stop(), types.ErrLifecycle))
		}, REASON_COMPLETED},
		{"complete then stop", func(t *testing.T, m *Mission, a []Assignment) {
			require.NoError(t, m.Complete())
			assert.True(t, errors.Is(m.Stop(), types.ErrLifecycle))
			assert.True(t, errors.Is(m.Complete(), types.ErrLifecycle))
		}, REASON_COMPLETED},
		{"expire then stop", func(t *testing.T, m *Mission, a []Assignment) {
			require.NoError(t, m.MarkDispatched(a[0].Task.ID, "msg"))
			m.ExpireTasks(time.Now().Add(time.Hour), time.Second, 0)
			assert.True(t, errors.Is(m.Stop(), types.ErrLifecycle))
			_, err := m.FailTask(a[0].Task.ID, "again")
			assert.True(t, errors.Is(err, types.ErrLifecycle))
		}, REASON_COMPLETED},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, a, c := startRunning(t, ISRSearch(),
				types.Params{"lat": 1.0, "lng": 2.0},
				map[string]types.JobType{"plane-1": JOB_ISR_PLANE})
			tt.run(t, m, a)

			assert.Equal(t, STATE_TERMINATED, m.State())
			assert.Equal(t, []Reason{tt.want}, c.reasons)
			for _, s := range m.Tasks() {
				assert.Contains(t, []task.Status{task.TASK_STATUS_COMPLETED, task.TASK_STATUS_FAILED}, s.Status)
			}
		})
	}
}

func TestStopWhileAwaitingSetup(t *testing.T) {
	c := &completions{}
	m := New("m", PayloadDrop(), c.fn, nil)
	require.NoError(t, m.Configure(types.Params{"lat": 1.0, "lng": 2.0}))

	require.NoError(t, m.Stop())
	assert.Equal(t, STATE_TERMINATED, m.State())
	assert.Equal(t, REASON_STOPPED, m.Reason())
	results, err := m.TerminatedData()
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, c.calls)
}

func TestTerminatedDataBeforeTermination(t *testing.T) {
	m := New("m", ISRSearch(), nil, nil)
	_, err := m.TerminatedData()
	assert.True(t, errors.Is(err, types.ErrLifecycle))
	assert.True(t, errors.Is(m.Stop(), types.ErrLifecycle), "stop while created")
}

func TestCompletionCheck(t *testing.T) {
	m, _, c := startRunning(t, UGVRescue(),
		types.Params{"retrieve_lat": 1.0, "retrieve_lng": 2.0, "deliver_lat": 3.0, "deliver_lng": 4.0},
		map[string]types.JobType{"rover-1": JOB_UGV_RESCUE})

	err := m.Complete()
	assert.True(t, errors.Is(err, types.ErrValidation))
	assert.Equal(t, STATE_RUNNING, m.State())

	_, err = m.Update(vehicleMessage("rover-1", types.KindPOI, types.Raw{"lat": 1.0, "lng": 2.0}))
	require.NoError(t, err)
	require.NoError(t, m.Complete())
	assert.Equal(t, STATE_TERMINATED, m.State())
	assert.Equal(t, 1, c.calls)
}

func TestUUVRescueScenario(t *testing.T) {
	m, assignments, c := startRunning(t, UUVRescue(), types.Params{},
		map[string]types.JobType{"sub-1": JOB_UUV_RESCUE})

	require.Len(t, assignments, 1)
	assert.Equal(t, "retrieveTarget", assignments[0].Task.TaskType())
	dispatchAndAck(t, m, assignments[0])

	_, err := m.Update(vehicleMessage("sub-1", types.KindPOI, types.Raw{"lat": 60.1, "lng": 24.9}))
	require.NoError(t, err)
	_, err = m.Update(vehicleMessage("sub-1", types.KindComplete, types.Complete{}))
	require.NoError(t, err)

	assert.Equal(t, STATE_TERMINATED, m.State())
	results, err := m.TerminatedData()
	require.NoError(t, err)
	assert.Equal(t, []types.Location{{Lat: 60.1, Lng: 24.9}}, results[RESULT_TARGET])
	assert.Equal(t, 1, c.calls)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"isrSearch", "payloadDrop", "ugvRescue", "uuvRescue"}, r.Names())

	v, err := r.Lookup("isrSearch")
	require.NoError(t, err)
	assert.Equal(t, []types.JobType{JOB_ISR_PLANE}, v.JobTypes)

	_, err = r.Lookup("tripToMars")
	assert.True(t, errors.Is(err, types.ErrUnknownMissionType))

	assert.True(t, errors.Is(r.Register(ISRSearch()), types.ErrConflict))
	assert.True(t, errors.Is(r.Register(&Variant{Name: "empty"}), types.ErrValidation))
}

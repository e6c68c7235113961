// Package mission implements the mission lifecycle: parameter validation,
// setup gating, task generation and assignment, message handling and
// completion.
package mission

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiiuae/communication_link/missioncontrol/internal/keyedqueue"
	"github.com/tiiuae/communication_link/missioncontrol/internal/logging"
	"github.com/tiiuae/communication_link/missioncontrol/internal/task"
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

type State int

const (
	STATE_CREATED State = iota
	STATE_AWAITING_SETUP
	STATE_RUNNING
	STATE_COMPLETING
	STATE_TERMINATED
)

func (s State) String() string {
	switch s {
	case STATE_CREATED:
		return "created"
	case STATE_AWAITING_SETUP:
		return "awaiting-setup"
	case STATE_RUNNING:
		return "running"
	case STATE_COMPLETING:
		return "completing"
	case STATE_TERMINATED:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Reason string

const (
	REASON_COMPLETED Reason = "completed"
	REASON_STOPPED   Reason = "stopped"
)

// CompletionFunc is called once when the mission enters COMPLETING.
type CompletionFunc func(m *Mission, reason Reason)

// Assignment asks the caller to dispatch Task to VehicleID.
type Assignment struct {
	Task      *task.Task
	VehicleID string
}

// Mission is not safe for concurrent use. Its owner serializes every call.
type Mission struct {
	ID string

	variant *Variant
	state   State
	reason  Reason
	params  types.Params
	setup   types.Params
	tracker map[string]bool

	vehicles        map[string]types.JobType
	tasks           []*task.Task
	waitingTasks    *keyedqueue.Queue[types.JobType, *task.Task]
	waitingVehicles *keyedqueue.Queue[types.JobType, string]
	active          map[string]*task.Task
	retired         map[string]bool
	pending         []Assignment

	results    types.Results
	onComplete CompletionFunc
	completion sync.Once
	log        *logging.Logger
	now        func() time.Time
}

func New(id string, variant *Variant, onComplete CompletionFunc, log *logging.Logger) *Mission {
	return &Mission{
		ID:              id,
		variant:         variant,
		state:           STATE_CREATED,
		setup:           make(types.Params),
		tracker:         make(map[string]bool),
		vehicles:        make(map[string]types.JobType),
		waitingTasks:    keyedqueue.New[types.JobType, *task.Task](),
		waitingVehicles: keyedqueue.New[types.JobType, string](),
		active:          make(map[string]*task.Task),
		retired:         make(map[string]bool),
		results:         make(types.Results),
		onComplete:      onComplete,
		log:             log.With(slog.String("mission", id), slog.String("type", variant.Name)),
		now:             time.Now,
	}
}

func (m *Mission) Type() string         { return m.variant.Name }
func (m *Mission) State() State         { return m.state }
func (m *Mission) Reason() Reason       { return m.reason }
func (m *Mission) Params() types.Params { return m.params.Copy() }

// Setup returns the recorded setup actions.
func (m *Mission) Setup() types.Params { return m.setup.Copy() }

func (m *Mission) JobTypes() []types.JobType {
	return append([]types.JobType(nil), m.variant.JobTypes...)
}

// Configure validates params against the information requirements and moves
// the mission to AWAITING_SETUP. Setup actions present in params are
// recorded.
func (m *Mission) Configure(params types.Params) error {
	if m.state != STATE_CREATED {
		return types.LifecycleError("mission %s: configure while %s", m.ID, m.state)
	}
	for _, key := range m.variant.InformationRequirements {
		if !params.Has(key) {
			return types.ValidationError("mission %s: missing required information %q", m.variant.Name, key)
		}
	}
	if m.variant.Validate != nil {
		if err := m.variant.Validate(params); err != nil {
			return err
		}
	}

	m.params = params.Copy()
	for _, action := range m.variant.SetupActions {
		m.tracker[action.Name] = action.Default != nil
		if action.Default != nil {
			m.setup[action.Name] = action.Default
		}
	}
	m.state = STATE_AWAITING_SETUP
	m.recordSetup(params)
	m.log.Info("Mission configured", slog.Any("setup", m.tracker))
	return nil
}

// ApplySetup records setup data while the mission awaits setup.
func (m *Mission) ApplySetup(data types.Params) error {
	if m.state != STATE_AWAITING_SETUP {
		return types.LifecycleError("mission %s: setup while %s", m.ID, m.state)
	}
	m.recordSetup(data)
	return nil
}

func (m *Mission) recordSetup(data types.Params) {
	for name := range m.tracker {
		if data.Has(name) {
			m.setup[name] = data[name]
			m.tracker[name] = true
		}
	}
}

// SetupComplete reports whether every setup action is satisfied, and the
// missing ones otherwise.
func (m *Mission) SetupComplete() (bool, []string) {
	var missing []string
	for name, done := range m.tracker {
		if !done {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return len(missing) == 0, missing
}

// Arm generates the tasks and moves the mission to RUNNING. vehicles maps
// the vehicles taking part to the job each performs. The returned
// assignments must be dispatched by the caller.
func (m *Mission) Arm(vehicles map[string]types.JobType) ([]Assignment, error) {
	if m.state != STATE_AWAITING_SETUP {
		return nil, types.LifecycleError("mission %s: arm while %s", m.ID, m.state)
	}
	if ok, missing := m.SetupComplete(); !ok {
		return nil, types.ValidationError("mission %s: waiting for setup %s", m.ID, strings.Join(missing, ", "))
	}
	for _, job := range m.variant.JobTypes {
		if !coversJob(vehicles, job) {
			return nil, types.ValidationError("mission %s: no vehicle available for job type %s", m.ID, job)
		}
	}

	plan, err := m.variant.GenerateTasks(m.params)
	if err != nil {
		return nil, err
	}
	for job := range plan {
		if !m.variant.hasJob(job) {
			return nil, types.ValidationError("mission %s: task generated for undeclared job type %s", m.ID, job)
		}
	}
	for _, job := range m.variant.JobTypes {
		if len(plan[job]) == 0 {
			return nil, types.ValidationError("mission %s: no task generated for job type %s", m.ID, job)
		}
	}

	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte("missioncontrol:"+m.ID))
	for _, job := range m.variant.JobTypes {
		for i, planned := range plan[job] {
			id := uuid.NewSHA1(ns, []byte(fmt.Sprintf("%s/%d", job, i))).String()
			t := task.New(id, job, planned.TaskType, planned.Payload)
			m.tasks = append(m.tasks, t)
			m.waitingTasks.Enqueue(job, t)
		}
	}

	ids := make([]string, 0, len(vehicles))
	for id, job := range vehicles {
		if m.variant.hasJob(job) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.vehicles[id] = vehicles[id]
		m.waitingVehicles.Enqueue(vehicles[id], id)
	}

	m.state = STATE_RUNNING
	m.log.Info("Mission running", slog.Int("tasks", len(m.tasks)), slog.Int("vehicles", len(m.vehicles)))
	m.assign()
	return m.takePending(), nil
}

func coversJob(vehicles map[string]types.JobType, job types.JobType) bool {
	for _, j := range vehicles {
		if j == job {
			return true
		}
	}
	return false
}

// Update feeds a vehicle message through the handler chain: the shared
// handlers first, then the variant's. A message nobody handles fails with
// UnknownMessageKind and leaves the mission unchanged.
func (m *Mission) Update(msg types.Message) ([]Assignment, error) {
	if m.state != STATE_RUNNING {
		return nil, types.LifecycleError("mission %s: update while %s", m.ID, m.state)
	}
	if _, member := m.vehicles[msg.From]; !member {
		return nil, types.ValidationError("vehicle %s is not part of mission %s", msg.From, m.ID)
	}

	for _, h := range m.handlers() {
		handled, err := h(m, msg)
		if err != nil {
			return m.takePending(), err
		}
		if handled {
			return m.takePending(), nil
		}
	}
	return nil, types.UnknownMessageKind(msg.MessageType)
}

func (m *Mission) handlers() []HandlerFunc {
	return append([]HandlerFunc{handleComplete}, m.variant.Handlers...)
}

// MarkDispatched records that the task went out in message messageID.
func (m *Mission) MarkDispatched(taskID, messageID string) error {
	t := m.Task(taskID)
	if t == nil {
		return types.ValidationError("mission %s: unknown task %s", m.ID, taskID)
	}
	return t.Dispatch(messageID, m.now())
}

// Acknowledge records the vehicle's receipt of a dispatched task.
func (m *Mission) Acknowledge(taskID string) error {
	t := m.Task(taskID)
	if t == nil {
		return types.ValidationError("mission %s: unknown task %s", m.ID, taskID)
	}
	return t.Acknowledge(m.now())
}

// FailTask fails a task and retires its vehicle from the mission. Remaining
// work is handed to other vehicles of the same job type.
func (m *Mission) FailTask(taskID, reason string) ([]Assignment, error) {
	if m.state != STATE_RUNNING {
		return nil, types.LifecycleError("mission %s: fail task while %s", m.ID, m.state)
	}
	t := m.Task(taskID)
	if t == nil {
		return nil, types.ValidationError("mission %s: unknown task %s", m.ID, taskID)
	}
	if err := t.Fail(reason, m.now()); err != nil {
		return nil, err
	}
	m.log.Warn("Task failed", slog.String("task", t.ID), slog.String("vehicle", t.VehicleID()), slog.String("reason", reason))
	m.release(t, true)
	m.assign()
	m.evaluate()
	return m.takePending(), nil
}

// ExpireTasks fails dispatched tasks without acknowledgement for longer
// than ackTimeout and acknowledged tasks running longer than taskTimeout.
// A zero timeout disables that check.
func (m *Mission) ExpireTasks(now time.Time, ackTimeout, taskTimeout time.Duration) ([]*task.Task, []Assignment) {
	if m.state != STATE_RUNNING {
		return nil, nil
	}

	var expired []*task.Task
	for _, t := range m.tasks {
		var reason string
		switch t.Status() {
		case task.TASK_STATUS_DISPATCHED:
			if ackTimeout > 0 && now.Sub(t.DispatchedAt()) > ackTimeout {
				reason = fmt.Sprintf("not acknowledged within %v", ackTimeout)
			}
		case task.TASK_STATUS_ACKNOWLEDGED:
			if taskTimeout > 0 && now.Sub(t.AcknowledgedAt()) > taskTimeout {
				reason = fmt.Sprintf("not completed within %v", taskTimeout)
			}
		}
		if reason == "" {
			continue
		}
		if err := t.Fail(reason, now); err != nil {
			m.log.Error("Task expiry", slog.String("task", t.ID), slog.Any("error", err))
			continue
		}
		m.log.Warn("Task timed out", slog.String("task", t.ID), slog.String("vehicle", t.VehicleID()), slog.String("reason", reason))
		m.release(t, true)
		expired = append(expired, t)
	}

	if len(expired) > 0 {
		m.assign()
		m.evaluate()
	}
	return expired, m.takePending()
}

// Stop ends the mission with whatever results it has. Unfinished tasks fail.
func (m *Mission) Stop() error {
	if m.state != STATE_AWAITING_SETUP && m.state != STATE_RUNNING {
		return types.LifecycleError("mission %s: stop while %s", m.ID, m.state)
	}
	m.abandon("mission stopped")
	m.finish(REASON_STOPPED)
	return nil
}

// Complete ends a running mission on request once the variant's required
// results are present.
func (m *Mission) Complete() error {
	if m.state != STATE_RUNNING {
		return types.LifecycleError("mission %s: complete while %s", m.ID, m.state)
	}
	if m.variant.CompletionCheck != nil {
		if err := m.variant.CompletionCheck(m.results); err != nil {
			return err
		}
	}
	m.abandon("mission completed")
	m.finish(REASON_COMPLETED)
	return nil
}

// TerminatedData returns the mission results once TERMINATED.
func (m *Mission) TerminatedData() (types.Results, error) {
	if m.state != STATE_TERMINATED {
		return nil, types.LifecycleError("mission %s: results requested while %s", m.ID, m.state)
	}
	return m.results.Copy(), nil
}

// Results returns the results gathered so far.
func (m *Mission) Results() types.Results {
	return m.results.Copy()
}

func (m *Mission) AddResult(name string, loc types.Location) {
	m.results.Add(name, loc)
}

func (m *Mission) Task(id string) *task.Task {
	for _, t := range m.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (m *Mission) Tasks() []task.Snapshot {
	res := make([]task.Snapshot, 0, len(m.tasks))
	for _, t := range m.tasks {
		res = append(res, t.Snapshot())
	}
	return res
}

// Vehicles returns the vehicles taking part and their jobs.
func (m *Mission) Vehicles() map[string]types.JobType {
	res := make(map[string]types.JobType, len(m.vehicles))
	for k, v := range m.vehicles {
		res[k] = v
	}
	return res
}

// Busy reports whether the vehicle holds an unfinished task.
func (m *Mission) Busy(vehicleID string) bool {
	_, found := m.active[vehicleID]
	return found
}

// ActiveTask returns the task the vehicle is working on, if any.
func (m *Mission) ActiveTask(vehicleID string) *task.Task {
	return m.active[vehicleID]
}

// assign pairs waiting tasks with idle vehicles, per job type. Tasks of a
// job type no vehicle can serve any more are failed.
func (m *Mission) assign() {
	if m.state != STATE_RUNNING {
		return
	}
	for _, job := range m.variant.JobTypes {
		for m.waitingTasks.Len(job) > 0 && m.waitingVehicles.Len(job) > 0 {
			vehicleID, _ := m.waitingVehicles.DequeueOne(job)
			t, _ := m.waitingTasks.DequeueOne(job)
			if err := t.Assign(vehicleID); err != nil {
				m.log.Error("Task assignment failed", slog.String("task", t.ID), slog.Any("error", err))
				continue
			}
			m.active[vehicleID] = t
			m.pending = append(m.pending, Assignment{Task: t, VehicleID: vehicleID})
		}
		if m.waitingTasks.Len(job) > 0 && !m.serves(job) {
			for _, t := range m.waitingTasks.DrainAll(job) {
				if err := t.Fail(fmt.Sprintf("no vehicle left for job type %s", job), m.now()); err != nil {
					m.log.Error("Task abandon", slog.String("task", t.ID), slog.Any("error", err))
					continue
				}
				m.log.Warn("Task abandoned", slog.String("task", t.ID), slog.String("job", string(job)))
			}
		}
	}
}

func (m *Mission) serves(job types.JobType) bool {
	for id, j := range m.vehicles {
		if j == job && !m.retired[id] {
			return true
		}
	}
	return false
}

func (m *Mission) release(t *task.Task, failed bool) {
	vehicleID := t.VehicleID()
	if vehicleID == "" || m.active[vehicleID] != t {
		return
	}
	delete(m.active, vehicleID)
	if failed {
		m.retired[vehicleID] = true
		return
	}
	m.waitingVehicles.Enqueue(t.JobType(), vehicleID)
}

func (m *Mission) evaluate() {
	if m.state != STATE_RUNNING {
		return
	}
	for _, t := range m.tasks {
		if !t.Terminal() {
			return
		}
	}
	m.finish(REASON_COMPLETED)
}

func (m *Mission) abandon(reason string) {
	now := m.now()
	for _, t := range m.tasks {
		if t.Terminal() {
			continue
		}
		if err := t.Fail(reason, now); err != nil {
			m.log.Error("Task abandon", slog.String("task", t.ID), slog.Any("error", err))
		}
	}
	for id := range m.active {
		delete(m.active, id)
	}
	for _, job := range m.variant.JobTypes {
		m.waitingTasks.DrainAll(job)
	}
	m.pending = nil
}

func (m *Mission) finish(reason Reason) {
	m.state = STATE_COMPLETING
	m.reason = reason
	m.completion.Do(func() {
		m.log.Info("Mission completing", slog.String("reason", string(reason)))
		if m.onComplete != nil {
			m.onComplete(m, reason)
		}
	})
	m.state = STATE_TERMINATED
}

func (m *Mission) takePending() []Assignment {
	res := m.pending
	m.pending = nil
	return res
}

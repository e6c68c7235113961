// Package orchestrator runs missions: it owns the active mission, routes
// vehicle messages to it, dispatches its tasks and reports its lifecycle.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tiiuae/communication_link/missioncontrol/internal/events"
	"github.com/tiiuae/communication_link/missioncontrol/internal/fleet"
	"github.com/tiiuae/communication_link/missioncontrol/internal/keyedqueue"
	"github.com/tiiuae/communication_link/missioncontrol/internal/logging"
	"github.com/tiiuae/communication_link/missioncontrol/internal/mission"
	"github.com/tiiuae/communication_link/missioncontrol/internal/task"
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

// Transport delivers messages to vehicles. Send fails with a
// VehicleUnavailable error when the vehicle cannot be reached.
type Transport interface {
	Send(ctx context.Context, vehicleID string, msg types.Message) error
}

type Config struct {
	StationID           string
	AckTimeout          time.Duration
	TaskTimeout         time.Duration
	ResendInterval      time.Duration
	SweepInterval       time.Duration
	VehicleTimeout      time.Duration
	DispatchConcurrency int
	AcknowledgeMessages bool
}

// Snapshot describes the active mission.
type Snapshot struct {
	Active      bool            `json:"active"`
	MissionID   string          `json:"mission_id,omitempty"`
	MissionType string          `json:"mission_type,omitempty"`
	State       string          `json:"state,omitempty"`
	Setup       types.Params    `json:"setup,omitempty"`
	Tasks       []task.Snapshot `json:"tasks,omitempty"`
	Results     types.Results   `json:"results,omitempty"`
	Buffered    int             `json:"buffered"`
}

type Orchestrator struct {
	cfg      Config
	missions *mission.Registry
	fleet    *fleet.Registry
	link     Transport
	events   events.Publisher
	log      *logging.Logger
	now      func() time.Time

	buffered *keyedqueue.Queue[string, types.Message]
	outbox   *keyedqueue.Queue[string, types.Message]
	incoming *keyedqueue.Queue[string, inbound]
	ops      chan func(ctx context.Context)

	// Owned by the mission goroutine.
	active     *mission.Mission
	lastResend time.Time

	mu      sync.Mutex
	wakeups map[string]chan struct{}
	group   *errgroup.Group
	gctx    context.Context
}

func New(cfg Config, missions *mission.Registry, registry *fleet.Registry, link Transport, publisher events.Publisher, log *logging.Logger) *Orchestrator {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.StationID == "" {
		cfg.StationID = "gcs"
	}
	return &Orchestrator{
		cfg:      cfg,
		missions: missions,
		fleet:    registry,
		link:     link,
		events:   publisher,
		log:      log,
		now:      time.Now,
		buffered: keyedqueue.New[string, types.Message](),
		outbox:   keyedqueue.New[string, types.Message](),
		incoming: keyedqueue.New[string, inbound](),
		ops:      make(chan func(ctx context.Context)),
		wakeups:  make(map[string]chan struct{}),
	}
}

// Run processes operations and vehicle messages until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	o.mu.Lock()
	if o.group != nil {
		o.mu.Unlock()
		return errors.New("orchestrator is already running")
	}
	o.group, o.gctx = g, gctx
	o.mu.Unlock()

	g.Go(func() error {
		return o.runMissionLoop(gctx)
	})
	err := g.Wait()

	o.mu.Lock()
	o.group, o.gctx = nil, nil
	o.wakeups = make(map[string]chan struct{})
	for _, vehicleID := range o.incoming.Keys() {
		o.incoming.DrainAll(vehicleID)
	}
	o.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// StartMission creates a mission of the given type. The mission runs at
// once when its setup is complete, otherwise it waits for SetupMission.
func (o *Orchestrator) StartMission(ctx context.Context, missionType string, params types.Params) (string, error) {
	var id string
	err := o.do(ctx, func(ctx context.Context) error {
		var err error
		id, err = o.startMission(ctx, missionType, params)
		return err
	})
	return id, err
}

// SetupMission records setup data for a mission awaiting setup and runs it
// once the setup is complete.
func (o *Orchestrator) SetupMission(ctx context.Context, data types.Params) error {
	return o.do(ctx, func(ctx context.Context) error {
		m := o.active
		if m == nil {
			return types.LifecycleError("no active mission")
		}
		if err := m.ApplySetup(data); err != nil {
			return err
		}
		if done, missing := m.SetupComplete(); !done {
			o.log.Info("Mission awaiting setup", slog.String("mission", m.ID), slog.Any("missing", missing))
			return nil
		}
		return o.arm(ctx, m)
	})
}

// StopMission ends the active mission with partial results.
func (o *Orchestrator) StopMission(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context) error {
		if o.active == nil {
			return types.LifecycleError("no active mission")
		}
		return o.active.Stop()
	})
}

// CompleteMission ends the active mission once its required results are
// present.
func (o *Orchestrator) CompleteMission(ctx context.Context) error {
	return o.do(ctx, func(ctx context.Context) error {
		if o.active == nil {
			return types.LifecycleError("no active mission")
		}
		return o.active.Complete()
	})
}

func (o *Orchestrator) Status(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := o.do(ctx, func(ctx context.Context) error {
		s.Buffered = o.buffered.Size()
		m := o.active
		if m == nil {
			return nil
		}
		s.Active = true
		s.MissionID = m.ID
		s.MissionType = m.Type()
		s.State = m.State().String()
		s.Setup = m.Setup()
		s.Tasks = m.Tasks()
		s.Results = m.Results()
		return nil
	})
	return s, err
}

// Vehicles lists the known vehicles.
func (o *Orchestrator) Vehicles() []fleet.Vehicle {
	return o.fleet.List()
}

func (o *Orchestrator) startMission(ctx context.Context, missionType string, params types.Params) (string, error) {
	if m := o.active; m != nil {
		return "", types.ConflictError("mission %s (%s) is %s", m.ID, m.Type(), m.State())
	}
	v, err := o.missions.Lookup(missionType)
	if err != nil {
		return "", err
	}

	m := mission.New(uuid.New().String(), v, func(m *mission.Mission, reason mission.Reason) {
		o.missionCompleting(ctx, m, reason)
	}, o.log)
	if err := m.Configure(params); err != nil {
		return "", err
	}

	o.active = m
	if done, missing := m.SetupComplete(); done {
		if err := o.arm(ctx, m); err != nil {
			o.active = nil
			return "", err
		}
	} else {
		o.log.Info("Mission awaiting setup", slog.String("mission", m.ID), slog.Any("missing", missing))
	}

	o.events.Publish(events.Event{
		Type:        events.MISSION_STARTED,
		MissionID:   m.ID,
		MissionType: m.Type(),
		Status:      m.State().String(),
	})
	return m.ID, nil
}

// arm moves the mission to RUNNING, tells each vehicle its job, dispatches
// the first tasks and replays buffered messages.
func (o *Orchestrator) arm(ctx context.Context, m *mission.Mission) error {
	assignments, err := m.Arm(o.fleet.Assign(m.JobTypes()))
	if err != nil {
		return err
	}

	setup := m.Setup()
	for _, vehicleID := range sortedVehicles(m) {
		job := m.Vehicles()[vehicleID]
		if _, err := o.sendTracked(ctx, vehicleID, types.KindStart, types.Start{JobType: job, Options: setup}); err != nil {
			o.log.Warn("Job assignment not sent", slog.String("vehicle", vehicleID), slog.Any("error", err))
		}
	}

	o.dispatchAll(ctx, m, assignments)
	o.replay(ctx)
	return nil
}

// replay feeds buffered messages to the running mission, oldest first per
// vehicle.
func (o *Orchestrator) replay(ctx context.Context) {
	for _, vehicleID := range o.buffered.Keys() {
		for _, msg := range o.buffered.DrainAll(vehicleID) {
			m := o.active
			if m == nil || m.State() != mission.STATE_RUNNING {
				o.buffered.Enqueue(vehicleID, msg)
				continue
			}
			assignments, err := m.Update(msg)
			o.dispatchAll(ctx, m, assignments)
			if err != nil {
				o.surface(msg, err)
			}
		}
	}
}

// deliver hands a mission message to the running mission, or buffers it
// while no mission runs.
func (o *Orchestrator) deliver(ctx context.Context, msg types.Message) error {
	m := o.active
	if m == nil || m.State() != mission.STATE_RUNNING {
		o.buffered.Enqueue(msg.From, msg)
		o.log.Debug("Message buffered", slog.String("vehicle", msg.From), slog.String("type", msg.MessageType))
		return nil
	}
	assignments, err := m.Update(msg)
	o.dispatchAll(ctx, m, assignments)
	return err
}

// missionCompleting runs once when a mission enters COMPLETING.
func (o *Orchestrator) missionCompleting(ctx context.Context, m *mission.Mission, reason mission.Reason) {
	for _, vehicleID := range sortedVehicles(m) {
		o.outbox.RemoveFunc(vehicleID, func(msg types.Message) bool {
			_, isTask := msg.Message.(types.AddMission)
			return isTask
		})
		if _, err := o.sendTracked(ctx, vehicleID, types.KindStop, types.Stop{}); err != nil {
			o.log.Warn("Stop not sent", slog.String("vehicle", vehicleID), slog.Any("error", err))
		}
	}
	o.log.Info("Mission completing", slog.String("mission", m.ID), slog.String("reason", string(reason)))
}

// reap keeps vehicle busy flags in line with the mission and clears a
// terminated mission.
func (o *Orchestrator) reap() {
	m := o.active
	if m == nil {
		return
	}
	for _, vehicleID := range sortedVehicles(m) {
		busy := m.State() == mission.STATE_RUNNING && m.Busy(vehicleID)
		if c, changed := o.fleet.SetBusy(vehicleID, busy); changed {
			o.publishVehicle(c)
		}
	}
	if m.State() != mission.STATE_TERMINATED {
		return
	}

	o.active = nil
	results, err := m.TerminatedData()
	if err != nil {
		o.log.Error("Terminated mission without results", slog.String("mission", m.ID), slog.Any("error", err))
		return
	}
	kind := events.MISSION_COMPLETED
	if m.Reason() == mission.REASON_STOPPED {
		kind = events.MISSION_STOPPED
	}
	o.events.Publish(events.Event{
		Type:        kind,
		MissionID:   m.ID,
		MissionType: m.Type(),
		Status:      string(m.Reason()),
		Results:     results,
	})
	o.log.Info("Mission terminated", slog.String("mission", m.ID), slog.Any("results", results))
}

func (o *Orchestrator) publishVehicle(c fleet.Change) {
	o.events.Publish(events.Event{
		Type:      events.VEHICLE_STATUS_CHANGED,
		VehicleID: c.VehicleID,
		Status:    string(c.Status),
	})
}

// surface reports a failed message to the log and to user interfaces.
func (o *Orchestrator) surface(msg types.Message, err error) {
	o.log.Warn("Message failed", slog.String("vehicle", msg.From), slog.String("type", msg.MessageType),
		slog.String("id", msg.ID), slog.Any("error", err))
	o.events.Publish(events.Event{
		Type:      events.MISSION_ERROR,
		VehicleID: msg.From,
		Error:     err.Error(),
	})
}

func sortedVehicles(m *mission.Mission) []string {
	vehicles := m.Vehicles()
	ids := make([]string, 0, len(vehicles))
	for id := range vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

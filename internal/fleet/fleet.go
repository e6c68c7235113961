// Package fleet keeps track of the vehicles known to the station.
package fleet

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tiiuae/communication_link/missioncontrol/internal/logging"
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

type Status string

const (
	VEHICLE_STATUS_CONNECTED    Status = "connected"
	VEHICLE_STATUS_DISCONNECTED Status = "disconnected"
	VEHICLE_STATUS_BUSY         Status = "busy"
)

// Vehicle is a copy of a registry entry.
type Vehicle struct {
	ID           string          `json:"id"`
	Status       Status          `json:"status"`
	Capabilities []types.JobType `json:"capabilities"`
	Position     *types.Location `json:"position,omitempty"`
	Alt          *float64        `json:"alt,omitempty"`
	Heading      *float64        `json:"heading,omitempty"`
	Battery      *float64        `json:"battery,omitempty"`
	Reported     string          `json:"reported_status,omitempty"`
	LastSeen     time.Time       `json:"last_seen"`
}

func (v *Vehicle) Can(job types.JobType) bool {
	for _, c := range v.Capabilities {
		if c == job {
			return true
		}
	}
	return false
}

// Change is emitted whenever a vehicle's status changes.
type Change struct {
	VehicleID string
	Status    Status
}

type Drones map[string]*Vehicle

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	drones Drones
	log    *logging.Logger
}

func New(log *logging.Logger) *Registry {
	return &Registry{drones: make(Drones), log: log}
}

// Connect registers a vehicle, or refreshes a known one, as connected.
func (r *Registry) Connect(id string, jobs []types.JobType, at time.Time) (Change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, found := r.drones[id]
	if !found {
		v = &Vehicle{ID: id, Status: VEHICLE_STATUS_DISCONNECTED}
		r.drones[id] = v
		r.log.Info("Vehicle added", slog.String("vehicle", id), slog.Any("jobs", jobs))
	}
	if len(jobs) > 0 {
		v.Capabilities = append([]types.JobType(nil), jobs...)
	}
	v.LastSeen = at
	if v.Status == VEHICLE_STATUS_BUSY {
		return Change{}, false
	}
	return r.setStatus(v, VEHICLE_STATUS_CONNECTED)
}

// Provision adds a vehicle known from configuration. It stays disconnected
// until it is heard from.
func (r *Registry) Provision(id string, jobs []types.JobType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.drones[id]; found {
		return
	}
	r.drones[id] = &Vehicle{
		ID:           id,
		Status:       VEHICLE_STATUS_DISCONNECTED,
		Capabilities: append([]types.JobType(nil), jobs...),
	}
}

// Touch records that a vehicle was heard from. A vehicle that timed out is
// connected again.
func (r *Registry) Touch(id string, at time.Time) (Change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, found := r.drones[id]
	if !found {
		return Change{}, false
	}
	if at.After(v.LastSeen) {
		v.LastSeen = at
	}
	if v.Status == VEHICLE_STATUS_DISCONNECTED && len(v.Capabilities) > 0 {
		return r.setStatus(v, VEHICLE_STATUS_CONNECTED)
	}
	return Change{}, false
}

// Update applies a vehicle's position report.
func (r *Registry) Update(id string, u types.Update) error {
	if err := u.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, found := r.drones[id]
	if !found {
		return types.ValidationError("update from unknown vehicle %s", id)
	}
	loc := u.Location()
	v.Position = &loc
	if u.Alt != nil {
		v.Alt = u.Alt
	}
	if u.Heading != nil {
		v.Heading = u.Heading
	}
	if u.Battery != nil {
		v.Battery = u.Battery
	}
	if u.Status != "" {
		v.Reported = u.Status
	}
	return nil
}

// SetBusy marks a connected vehicle busy or a busy one connected again.
func (r *Registry) SetBusy(id string, busy bool) (Change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, found := r.drones[id]
	if !found {
		return Change{}, false
	}
	switch {
	case busy && v.Status == VEHICLE_STATUS_CONNECTED:
		return r.setStatus(v, VEHICLE_STATUS_BUSY)
	case !busy && v.Status == VEHICLE_STATUS_BUSY:
		return r.setStatus(v, VEHICLE_STATUS_CONNECTED)
	}
	return Change{}, false
}

// Disconnect marks a vehicle unreachable.
func (r *Registry) Disconnect(id string) (Change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, found := r.drones[id]
	if !found {
		return Change{}, false
	}
	return r.setStatus(v, VEHICLE_STATUS_DISCONNECTED)
}

// Sweep disconnects vehicles not heard from within timeout.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []Change {
	if timeout <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []Change
	for _, name := range r.names() {
		v := r.drones[name]
		if v.Status == VEHICLE_STATUS_DISCONNECTED || now.Sub(v.LastSeen) <= timeout {
			continue
		}
		r.log.Warn("Vehicle timed out", slog.String("vehicle", name), slog.Time("last_seen", v.LastSeen))
		if c, changed := r.setStatus(v, VEHICLE_STATUS_DISCONNECTED); changed {
			changes = append(changes, c)
		}
	}
	return changes
}

// Available reports whether the vehicle can be sent work.
func (r *Registry) Available(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, found := r.drones[id]
	return found && v.Status != VEHICLE_STATUS_DISCONNECTED
}

// List returns every vehicle sorted by id.
func (r *Registry) List() []Vehicle {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]Vehicle, 0, len(r.drones))
	for _, name := range r.names() {
		res = append(res, r.drones[name].copy())
	}
	return res
}

// Assign picks a job for every idle connected vehicle able to serve one of
// jobs. Vehicles with a single matching capability are placed first, then
// job types left uncovered take a multi-role vehicle. Vehicles that remain
// are spread over the job types they can serve, in declared order.
func (r *Registry) Assign(jobs []types.JobType) map[string]types.JobType {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make(map[string]types.JobType)
	var multi []*Vehicle
	for _, name := range r.names() {
		v := r.drones[name]
		if v.Status != VEHICLE_STATUS_CONNECTED {
			continue
		}
		var matching []types.JobType
		for _, job := range jobs {
			if v.Can(job) {
				matching = append(matching, job)
			}
		}
		switch len(matching) {
		case 0:
		case 1:
			res[v.ID] = matching[0]
		default:
			multi = append(multi, v)
		}
	}

	covered := func(job types.JobType) bool {
		for _, j := range res {
			if j == job {
				return true
			}
		}
		return false
	}
	for _, job := range jobs {
		if covered(job) {
			continue
		}
		for _, v := range multi {
			if _, taken := res[v.ID]; !taken && v.Can(job) {
				res[v.ID] = job
				break
			}
		}
	}
	for _, v := range multi {
		if _, taken := res[v.ID]; taken {
			continue
		}
		for _, job := range jobs {
			if v.Can(job) {
				res[v.ID] = job
				break
			}
		}
	}
	return res
}

func (r *Registry) setStatus(v *Vehicle, status Status) (Change, bool) {
	if v.Status == status {
		return Change{}, false
	}
	r.log.Info("Vehicle status changed", slog.String("vehicle", v.ID),
		slog.String("from", string(v.Status)), slog.String("to", string(status)))
	v.Status = status
	return Change{VehicleID: v.ID, Status: status}, true
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.drones))
	for name := range r.drones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *Vehicle) copy() Vehicle {
	res := *v
	res.Capabilities = append([]types.JobType(nil), v.Capabilities...)
	if v.Position != nil {
		p := *v.Position
		res.Position = &p
	}
	return res
}

package mission

import (
	"sort"
	"sync"

	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

// HandlerFunc is one link of a mission's message handler chain. It reports
// whether it handled msg; an error fails that message only.
type HandlerFunc func(m *Mission, msg types.Message) (handled bool, err error)

// PlannedTask describes a task before the mission gives it an identity.
type PlannedTask struct {
	TaskType string
	Payload  types.Params
}

// Plan lists the tasks of a mission per job type, in execution order.
type Plan map[types.JobType][]PlannedTask

// SetupAction is a named setup step. Actions with a Default are satisfied
// unless overridden; the others wait for setup data.
type SetupAction struct {
	Name    string
	Default interface{}
}

// Variant describes one kind of mission.
type Variant struct {
	Name                    string
	JobTypes                []types.JobType
	InformationRequirements []string
	SetupActions            []SetupAction

	// Validate checks parameter values once every required field is present.
	Validate func(params types.Params) error
	// GenerateTasks must be deterministic in params.
	GenerateTasks func(params types.Params) (Plan, error)
	// Handlers run in order after the shared handlers.
	Handlers []HandlerFunc
	// CompletionCheck gates an operator-requested completion.
	CompletionCheck func(results types.Results) error
}

func (v *Variant) hasJob(job types.JobType) bool {
	for _, j := range v.JobTypes {
		if j == job {
			return true
		}
	}
	return false
}

// Registry maps mission type names to variants.
type Registry struct {
	mu       sync.RWMutex
	variants map[string]*Variant
}

func NewRegistry(variants ...*Variant) (*Registry, error) {
	r := &Registry{variants: make(map[string]*Variant)}
	for _, v := range variants {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry holds every built-in mission type.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(ISRSearch(), PayloadDrop(), UGVRescue(), UUVRescue())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Register(v *Variant) error {
	if v == nil || v.Name == "" {
		return types.ValidationError("mission type without name")
	}
	if len(v.JobTypes) == 0 {
		return types.ValidationError("mission type %s declares no job types", v.Name)
	}
	if v.GenerateTasks == nil {
		return types.ValidationError("mission type %s cannot generate tasks", v.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.variants[v.Name]; found {
		return types.ConflictError("mission type %s already registered", v.Name)
	}
	r.variants[v.Name] = v
	return nil
}

func (r *Registry) Lookup(name string) (*Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, found := r.variants[name]
	if !found {
		return nil, types.UnknownMissionType(name)
	}
	return v, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.variants))
	for name := range r.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

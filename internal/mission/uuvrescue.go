package mission

import (
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

const JOB_UUV_RESCUE types.JobType = "uuvRescue"

// UUVRescue sends an underwater vehicle to retrieve a target. The vehicle
// plans the search itself, so the mission takes no parameters.
func UUVRescue() *Variant {
	return &Variant{
		Name:     "uuvRescue",
		JobTypes: []types.JobType{JOB_UUV_RESCUE},
		GenerateTasks: func(types.Params) (Plan, error) {
			return Plan{
				JOB_UUV_RESCUE: {{TaskType: "retrieveTarget", Payload: types.Params{}}},
			}, nil
		},
		Handlers: []HandlerFunc{recordPOI(RESULT_TARGET)},
	}
}

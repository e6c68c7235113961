package mission

import (
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

const (
	JOB_ISR_PLANE types.JobType = "ISR_Plane"

	RESULT_POI = "POI"
)

// ISRSearch flies a single plane over a search area and collects points of
// interest.
func ISRSearch() *Variant {
	return &Variant{
		Name:                    "isrSearch",
		JobTypes:                []types.JobType{JOB_ISR_PLANE},
		InformationRequirements: []string{"lat", "lng"},
		SetupActions: []SetupAction{
			{Name: "plane_start_action", Default: "takeoff"},
			{Name: "plane_end_action", Default: "land"},
		},
		Validate: func(params types.Params) error {
			_, err := params.Location("lat", "lng")
			return err
		},
		GenerateTasks: func(params types.Params) (Plan, error) {
			loc, err := params.Location("lat", "lng")
			if err != nil {
				return nil, err
			}
			return Plan{
				JOB_ISR_PLANE: {
					{TaskType: "isrSearch", Payload: types.Params{"lat": loc.Lat, "lng": loc.Lng}},
				},
			}, nil
		},
		Handlers: []HandlerFunc{recordPOI(RESULT_POI)},
	}
}

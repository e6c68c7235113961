package mission

import (
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

const (
	JOB_PAYLOAD_DROP types.JobType = "payloadDrop"

	RESULT_DROPPED = "dropped"
)

// PayloadDrop takes off, drops a payload at a target and lands. The
// operator confirms the payload is loaded before the mission arms.
func PayloadDrop() *Variant {
	return &Variant{
		Name:                    "payloadDrop",
		JobTypes:                []types.JobType{JOB_PAYLOAD_DROP},
		InformationRequirements: []string{"lat", "lng"},
		SetupActions: []SetupAction{
			{Name: "payload_loaded"},
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
			drop := types.Params{"lat": loc.Lat, "lng": loc.Lng}
			if params.Has("alt") {
				alt, err := params.Float("alt")
				if err != nil {
					return nil, err
				}
				drop["alt"] = alt
			}

			var steps []PlannedTask
			if !params.Bool("no_takeoff") {
				steps = append(steps, PlannedTask{TaskType: "takeoff", Payload: types.Params{}})
			}
			steps = append(steps, PlannedTask{TaskType: "payloadDrop", Payload: drop})
			if !params.Bool("no_land") {
				steps = append(steps, PlannedTask{TaskType: "land", Payload: types.Params{}})
			}
			return Plan{JOB_PAYLOAD_DROP: steps}, nil
		},
		Handlers: []HandlerFunc{recordPOI(RESULT_DROPPED)},
	}
}

package mission

import (
	"github.com/tiiuae/communication_link/missioncontrol/internal/types"
)

const (
	JOB_UGV_RESCUE types.JobType = "ugvRescue"

	RESULT_TARGET = "target"
)

// UGVRescue drives a ground vehicle to a target, retrieves it and delivers
// it to a drop-off point.
func UGVRescue() *Variant {
	return &Variant{
		Name:                    "ugvRescue",
		JobTypes:                []types.JobType{JOB_UGV_RESCUE},
		InformationRequirements: []string{"retrieve_lat", "retrieve_lng", "deliver_lat", "deliver_lng"},
		Validate: func(params types.Params) error {
			if _, err := params.Location("retrieve_lat", "retrieve_lng"); err != nil {
				return err
			}
			_, err := params.Location("deliver_lat", "deliver_lng")
			return err
		},
		GenerateTasks: func(params types.Params) (Plan, error) {
			retrieve, err := params.Location("retrieve_lat", "retrieve_lng")
			if err != nil {
				return nil, err
			}
			deliver, err := params.Location("deliver_lat", "deliver_lng")
			if err != nil {
				return nil, err
			}
			return Plan{
				JOB_UGV_RESCUE: {
					{TaskType: "retrieveTarget", Payload: types.Params{"lat": retrieve.Lat, "lng": retrieve.Lng}},
					{TaskType: "deliverTarget", Payload: types.Params{"lat": deliver.Lat, "lng": deliver.Lng}},
				},
			}, nil
		},
		Handlers: []HandlerFunc{recordPOI(RESULT_TARGET)},
		CompletionCheck: func(results types.Results) error {
			if len(results[RESULT_TARGET]) == 0 {
				return types.ValidationError("ugvRescue: target not reported yet")
			}
			return nil
		},
	}
}

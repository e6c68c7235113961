package types

// Vehicle to station
const (
	KindConnect    = "connect"
	KindUpdate     = "update"
	KindPOI        = "POI"
	KindComplete   = "complete"
	KindAck        = "ack"
	KindBadMessage = "badMessage"
)

// Station to vehicle
const (
	KindStart         = "start"
	KindAddMission    = "addMission"
	KindStop          = "stop"
	KindConnectionAck = "connectionAck"
)

// VEHICLE_REPORTED_ERROR is the update status of a vehicle that gave up on
// its task.
const VEHICLE_REPORTED_ERROR = "error"

type Connect struct {
	JobsAvailable []JobType `json:"jobs_available"`
}

type Update struct {
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
	Alt     *float64 `json:"alt,omitempty"`
	Heading *float64 `json:"heading,omitempty"`
	Battery *float64 `json:"battery,omitempty"`
	Status  string   `json:"status,omitempty"`
}

type POI struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Complete struct {
	TaskID string `json:"task_id,omitempty"`
	Result Params `json:"result,omitempty"`
}

type Ack struct {
	AckID string `json:"ack_id"`
}

type BadMessage struct {
	Error string `json:"error"`
}

type Start struct {
	JobType JobType `json:"job_type"`
	Options Params  `json:"options,omitempty"`
}

type AddMission struct {
	TaskID   string  `json:"task_id"`
	JobType  JobType `json:"job_type"`
	TaskType string  `json:"task_type"`
	Payload  Params  `json:"payload"`
}

type Stop struct{}

type ConnectionAck struct{}

// Raw holds the payload of a kind the station has no type for.
type Raw map[string]interface{}

func (m POI) Location() Location {
	return Location{Lat: m.Lat, Lng: m.Lng}
}

func (m Update) Location() Location {
	return Location{Lat: m.Lat, Lng: m.Lng}
}

func (m Update) Validate() error {
	if err := m.Location().Validate(); err != nil {
		return err
	}
	if m.Battery != nil && !(*m.Battery >= 0 && *m.Battery <= 1) {
		return ValidationError("battery %v out of range", *m.Battery)
	}
	return nil
}

// DecodePayload decodes the payload of a message of the given kind using
// decode, which unmarshals the raw payload into its argument.
func DecodePayload(kind string, decode func(v interface{}) error) (interface{}, error) {
	switch kind {
	case KindConnect:
		var m Connect
		err := decode(&m)
		return m, err
	case KindUpdate:
		var m Update
		err := decode(&m)
		return m, err
	case KindPOI:
		var m POI
		err := decode(&m)
		return m, err
	case KindComplete:
		var m Complete
		err := decode(&m)
		return m, err
	case KindAck:
		var m Ack
		err := decode(&m)
		return m, err
	case KindBadMessage:
		var m BadMessage
		err := decode(&m)
		return m, err
	case KindStart:
		var m Start
		err := decode(&m)
		return m, err
	case KindAddMission:
		var m AddMission
		err := decode(&m)
		return m, err
	case KindStop:
		var m Stop
		err := decode(&m)
		return m, err
	case KindConnectionAck:
		var m ConnectionAck
		err := decode(&m)
		return m, err
	default:
		var m Raw
		err := decode(&m)
		return m, err
	}
}

// Validate checks the envelope and the payload it carries.
func (message *Message) Validate() error {
	if message.ID == "" {
		return ValidationError("message without id")
	}
	if message.From == "" {
		return ValidationError("message %s without sender", message.ID)
	}
	if message.MessageType == "" {
		return ValidationError("message %s without type", message.ID)
	}

	switch m := message.Message.(type) {
	case Connect:
		if len(m.JobsAvailable) == 0 {
			return ValidationError("vehicle %s connected without jobs", message.From)
		}
	case Update:
		return m.Validate()
	case POI:
		return m.Location().Validate()
	case Ack:
		if m.AckID == "" {
			return ValidationError("ack without ack_id")
		}
	}
	return nil
}

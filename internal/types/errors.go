package types

import (
	"github.com/pkg/errors"
)

// Error kinds surfaced by the mission core. Callers match them with
// errors.Is; the helpers below attach context with errors.WithMessagef.
var (
	ErrValidation         = errors.New("validation error")
	ErrUnknownMissionType = errors.New("unknown mission type")
	ErrUnknownMessageKind = errors.New("unknown message kind")
	ErrConflict           = errors.New("conflict")
	ErrLifecycle          = errors.New("lifecycle error")
	ErrVehicleUnavailable = errors.New("vehicle unavailable")
	ErrState              = errors.New("invalid state transition")
)

func ValidationError(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrValidation, format, args...)
}

func UnknownMissionType(name string) error {
	return errors.WithMessagef(ErrUnknownMissionType, "%q", name)
}

func UnknownMessageKind(kind string) error {
	return errors.WithMessagef(ErrUnknownMessageKind, "%q", kind)
}

func ConflictError(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrConflict, format, args...)
}

func LifecycleError(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrLifecycle, format, args...)
}

func VehicleUnavailable(vehicleID string, cause error) error {
	if cause == nil {
		return errors.WithMessagef(ErrVehicleUnavailable, "vehicle %s", vehicleID)
	}
	return errors.WithMessagef(ErrVehicleUnavailable, "vehicle %s: %v", vehicleID, cause)
}

func StateError(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrState, format, args...)
}

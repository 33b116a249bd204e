// Package safety gates playbooks before any flight-backend call is
// made. A mission must never begin executing on an invalid playbook.
package safety

import (
	"fmt"

	"github.com/kestrel-uas/kestrel/internal/model"
)

// Operational limits. These are mission-level safety bounds, stricter
// than the schema-level per-waypoint range of [0, 500].
const (
	MaxAltitudeM   = 150.0
	MinAltitudeM   = 10.0
	MaxDurationMin = 60.0
	MaxSpeedMPS    = 15.0
)

// ValidationError carries the first violated rule's human-readable
// reason. Recoverable: the caller fixes the playbook and resubmits.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validate runs the safety checks in fixed order and short-circuits on
// the first violation. Pure: no side effects, no I/O.
func Validate(pb *model.MissionPlaybook) error {
	for _, wp := range pb.Waypoints {
		if wp.AltM > MaxAltitudeM {
			return &ValidationError{Reason: fmt.Sprintf("Waypoint altitude %.0fm exceeds max 150m", wp.AltM)}
		}
		if wp.AltM < MinAltitudeM {
			return &ValidationError{Reason: fmt.Sprintf("Waypoint altitude %.0fm below min 10m", wp.AltM)}
		}
	}

	if pb.MaxDurationMin > MaxDurationMin {
		return &ValidationError{Reason: "Mission duration exceeds 60 minutes"}
	}

	if len(pb.Waypoints) < 1 {
		return &ValidationError{Reason: "Mission must have at least one waypoint"}
	}

	if pb.FlightParameters.SpeedMPS > MaxSpeedMPS {
		return &ValidationError{Reason: "Speed exceeds safe limit (15 m/s)"}
	}

	return nil
}

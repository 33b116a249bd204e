package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPlaybook marks schema-level violations caught at the JSON
// boundary, before the playbook ever reaches the safety validator or
// the engine.
var ErrMalformedPlaybook = errors.New("malformed playbook")

var missionTypes = map[string]bool{
	"patrol":         true,
	"reconnaissance": true,
	"tracking":       true,
	"search":         true,
	"delivery":       true,
}

var waypointActions = map[string]bool{
	ActionNone:       true,
	ActionPhoto:      true,
	ActionVideoStart: true,
	ActionVideoStop:  true,
	ActionHover:      true,
	ActionScan:       true,
}

var flightPatterns = map[string]bool{
	PatternDirect:    true,
	PatternGrid:      true,
	PatternSpiral:    true,
	PatternPerimeter: true,
}

var headingModes = map[string]bool{
	HeadingAuto:           true,
	HeadingFixed:          true,
	HeadingTargetOriented: true,
}

// ParsePlaybook decodes and schema-checks a playbook JSON document.
// Defaults are applied exactly once, here; downstream code never
// re-validates piecemeal. All failures wrap ErrMalformedPlaybook.
func ParsePlaybook(raw []byte) (*MissionPlaybook, error) {
	pb := MissionPlaybook{
		FlightParameters: DefaultFlightParameters(),
		CameraSettings:   DefaultCameraSettings(),
		Contingencies:    DefaultContingencies(),
		AutoExecute:      true,
		MaxDurationMin:   30,
	}

	if err := json.Unmarshal(raw, &pb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlaybook, err)
	}
	if err := checkSchema(&pb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPlaybook, err)
	}
	return &pb, nil
}

// checkSchema enforces the shape-level invariants of the playbook
// schema. These are distinct from the stricter mission-level safety
// bounds applied by the safety validator.
func checkSchema(pb *MissionPlaybook) error {
	if pb.MissionID == "" {
		return fmt.Errorf("mission_id is required")
	}
	if !missionTypes[pb.MissionType] {
		return fmt.Errorf("unknown mission_type %q", pb.MissionType)
	}
	if len(pb.Waypoints) < 1 {
		return fmt.Errorf("waypoints must contain at least one entry")
	}

	for i, wp := range pb.Waypoints {
		if _, err := NewCoordinate(wp.Lat, wp.Lon); err != nil {
			return fmt.Errorf("waypoint %d: %v", i, err)
		}
		if wp.AltM < 0 || wp.AltM > 500 {
			return fmt.Errorf("waypoint %d: altitude %vm outside [0, 500]", i, wp.AltM)
		}
		if !waypointActions[wp.Action] {
			return fmt.Errorf("waypoint %d: unknown action %q", i, wp.Action)
		}
		if wp.HoverDurationS < 0 {
			return fmt.Errorf("waypoint %d: negative hover duration", i)
		}
	}

	fp := pb.FlightParameters
	if fp.AltitudeM < 10 || fp.AltitudeM > 150 {
		return fmt.Errorf("flight altitude %vm outside [10, 150]", fp.AltitudeM)
	}
	if fp.SpeedMPS < 1 || fp.SpeedMPS > 15 {
		return fmt.Errorf("speed %v m/s outside [1, 15]", fp.SpeedMPS)
	}
	if !flightPatterns[fp.Pattern] {
		return fmt.Errorf("unknown flight pattern %q", fp.Pattern)
	}
	if !headingModes[fp.HeadingMode] {
		return fmt.Errorf("unknown heading mode %q", fp.HeadingMode)
	}

	if pb.CameraSettings.GimbalTilt < -90 || pb.CameraSettings.GimbalTilt > 0 {
		return fmt.Errorf("gimbal tilt %v outside [-90, 0]", pb.CameraSettings.GimbalTilt)
	}
	if pb.MaxDurationMin < 5 || pb.MaxDurationMin > 60 {
		return fmt.Errorf("max_duration_min %v outside [5, 60]", pb.MaxDurationMin)
	}

	if aoi := pb.AreaOfInterest; aoi != nil {
		if _, err := NewCoordinate(aoi.Center.Lat, aoi.Center.Lon); err != nil {
			return fmt.Errorf("area_of_interest: %v", err)
		}
		if aoi.RadiusKM <= 0 {
			return fmt.Errorf("area_of_interest: radius_km must be positive")
		}
	}

	return nil
}

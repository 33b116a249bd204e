package model

import (
	"fmt"
	"time"
)

// Waypoint actions. An empty action means "fly through" with no dwell.
const (
	ActionNone       = ""
	ActionPhoto      = "photo"
	ActionVideoStart = "video_start"
	ActionVideoStop  = "video_stop"
	ActionHover      = "hover"
	ActionScan       = "scan"
)

// Flight patterns.
const (
	PatternDirect    = "direct"
	PatternGrid      = "grid"
	PatternSpiral    = "spiral"
	PatternPerimeter = "perimeter"
)

// Heading modes.
const (
	HeadingAuto           = "auto"
	HeadingFixed          = "fixed"
	HeadingTargetOriented = "target_oriented"
)

// Phase is the execution engine's position in its flight state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseTakeoff   Phase = "takeoff"
	PhaseEnRoute   Phase = "en_route"
	PhaseHovering  Phase = "hovering"
	PhaseLanding   Phase = "landing"
	PhaseCompleted Phase = "completed"
	PhaseAborted   Phase = "aborted"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether the phase ends a mission.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseAborted, PhaseFailed:
		return true
	default:
		return false
	}
}

func (p Phase) String() string { return string(p) }

// Coordinate is a validated GPS position.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// NewCoordinate rejects out-of-range values rather than clamping them.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	if lat < -90 || lat > 90 {
		return Coordinate{}, fmt.Errorf("latitude %v outside [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return Coordinate{}, fmt.Errorf("longitude %v outside [-180, 180]", lon)
	}
	return Coordinate{Lat: lat, Lon: lon}, nil
}

// Waypoint is a single target position plus an optional on-arrival action.
type Waypoint struct {
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	AltM           float64 `json:"alt"`
	Action         string  `json:"action,omitempty"`
	HoverDurationS float64 `json:"hover_duration_sec,omitempty"`
}

// FlightParameters configure how the path is flown.
type FlightParameters struct {
	AltitudeM   float64 `json:"altitude_m"`
	SpeedMPS    float64 `json:"speed_mps"`
	Pattern     string  `json:"pattern"`
	HeadingMode string  `json:"heading_mode"`
}

// DefaultFlightParameters mirror the operator-facing schema defaults.
func DefaultFlightParameters() FlightParameters {
	return FlightParameters{
		AltitudeM:   120,
		SpeedMPS:    10,
		Pattern:     PatternDirect,
		HeadingMode: HeadingAuto,
	}
}

// CameraSettings are carried through to the flight backend untouched;
// the engine never interprets them.
type CameraSettings struct {
	Mode                   string   `json:"mode"`
	Resolution             string   `json:"resolution"`
	GimbalTilt             float64  `json:"gimbal_tilt"`
	AutoCaptureIntervalSec *float64 `json:"auto_capture_interval_sec,omitempty"`
}

func DefaultCameraSettings() CameraSettings {
	return CameraSettings{
		Mode:       "photo",
		Resolution: "4K",
		GimbalTilt: -90,
	}
}

// Contingencies map fault classes to response policies. They are
// declarative passthrough data here: enforcement beyond low-battery
// auto-abort belongs to the autopilot firmware.
type Contingencies struct {
	LowBattery        string `json:"low_battery"`
	GPSLoss           string `json:"gps_loss"`
	ObstacleDetected  string `json:"obstacle_detected"`
	CommunicationLoss string `json:"communication_loss"`
}

func DefaultContingencies() Contingencies {
	return Contingencies{
		LowBattery:        "return_to_home",
		GPSLoss:           "hover_and_alert",
		ObstacleDetected:  "reroute",
		CommunicationLoss: "return_to_home",
	}
}

// AreaOfInterest describes the mission region (informational).
type AreaOfInterest struct {
	Center   Coordinate `json:"center"`
	RadiusKM float64    `json:"radius_km"`
}

// MissionPlaybook is a complete, validated mission description.
// Waypoint ordering is significant: it IS the flight path.
type MissionPlaybook struct {
	MissionID        string           `json:"mission_id"`
	MissionType      string           `json:"mission_type"`
	Description      string           `json:"description"`
	AreaOfInterest   *AreaOfInterest  `json:"area_of_interest,omitempty"`
	Waypoints        []Waypoint       `json:"waypoints"`
	FlightParameters FlightParameters `json:"flight_parameters"`
	CameraSettings   CameraSettings   `json:"camera_settings"`
	Contingencies    Contingencies    `json:"contingencies"`
	AutoExecute      bool             `json:"auto_execute"`
	MaxDurationMin   float64          `json:"max_duration_min"`
}

// Position is the aircraft position within a state snapshot.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// MissionState is the engine's authoritative mission state. It is only
// ever handed out by value: observers get snapshots, never a live
// reference.
type MissionState struct {
	MissionID       string    `json:"mission_id"`
	Phase           Phase     `json:"status"`
	Position        Position  `json:"position"`
	BatteryPct      float64   `json:"battery"`
	SpeedMPS        float64   `json:"speed"`
	HeadingDeg      float64   `json:"heading"`
	CurrentWaypoint int       `json:"current_waypoint"`
	TotalWaypoints  int       `json:"total_waypoints"`
	GPSSatellites   int       `json:"gps_satellites"`
	Timestamp       time.Time `json:"timestamp"`
}

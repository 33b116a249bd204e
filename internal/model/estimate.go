package model

import (
	"github.com/kestrel-uas/kestrel/pkg/geometry"
)

const (
	// defaultActionS is charged for photo/video/scan actions that carry
	// no explicit duration.
	defaultActionS = 5.0
	// takeoffLandingS is a flat allowance for the climb and descent
	// bracketing every mission.
	takeoffLandingS = 30.0
)

// EstimateDurationS approximates total mission time in seconds: the sum
// of consecutive-leg great-circle distances at cruise speed, plus
// per-action dwell, plus a takeoff/landing allowance. This is an
// estimation heuristic, not a guarantee.
func EstimateDurationS(waypoints []Waypoint, speedMPS float64) float64 {
	if len(waypoints) == 0 || speedMPS <= 0 {
		return 0
	}

	var total float64
	for i := 1; i < len(waypoints); i++ {
		a, b := waypoints[i-1], waypoints[i]
		total += geometry.HaversineDistanceM(a.Lat, a.Lon, b.Lat, b.Lon) / speedMPS
	}

	for _, wp := range waypoints {
		switch wp.Action {
		case ActionNone:
		case ActionHover:
			if wp.HoverDurationS > 0 {
				total += wp.HoverDurationS
			} else {
				total += defaultActionS
			}
		default:
			total += defaultActionS
		}
	}

	return total + takeoffLandingS
}

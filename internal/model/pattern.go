package model

// GenerateGridPattern lays out a lawnmower sweep of photo waypoints
// covering a square of the given radius around a center point. Rows
// alternate direction so the aircraft never doubles back.
//
// The latitude/longitude conversion uses the rough 1 degree = 111 km
// approximation; coverage patterns do not need survey precision.
func GenerateGridPattern(center Coordinate, radiusKM, altitudeM, spacingM float64) []Waypoint {
	if radiusKM <= 0 || spacingM <= 0 {
		return nil
	}

	radiusDeg := radiusKM / 111.0
	numLines := int((2 * radiusKM * 1000) / spacingM)

	waypoints := make([]Waypoint, 0, numLines*2)
	for i := 0; i < numLines; i++ {
		offset := -radiusDeg + (float64(i) * spacingM / 111000.0)
		lat := center.Lat + offset

		west := Waypoint{Lat: lat, Lon: center.Lon - radiusDeg, AltM: altitudeM}
		east := Waypoint{Lat: lat, Lon: center.Lon + radiusDeg, AltM: altitudeM, Action: ActionPhoto}

		if i%2 == 0 {
			waypoints = append(waypoints, west, east)
		} else {
			east.Action, west.Action = ActionNone, ActionPhoto
			waypoints = append(waypoints, east, west)
		}
	}

	return waypoints
}

// Package geojson converts between GeoJSON FeatureCollections and
// mission playbooks. Points and LineString vertices become photo
// waypoints; the reverse direction emits waypoint Points plus a
// flight-path LineString for map display.
//
// GeoJSON orders coordinates [longitude, latitude]; playbooks order
// them lat first. The swap happens here and nowhere else.
package geojson

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kestrel-uas/kestrel/internal/model"
	"github.com/kestrel-uas/kestrel/pkg/geometry"
)

// ErrInvalidGeoJSON marks input that cannot yield a mission.
var ErrInvalidGeoJSON = errors.New("invalid geojson")

// Conversion defaults for fields GeoJSON does not carry.
const (
	defaultAltitudeM = 100.0
	defaultMissionID = "geojson_mission"
)

// FeatureCollection is the subset of GeoJSON this package understands.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Geometry keeps coordinates raw: their shape depends on the type
// ([lon,lat,alt?] for Point, a list of those for LineString).
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ToPlaybook builds a patrol playbook from a FeatureCollection.
// Unsupported geometry types are skipped, consecutive-duplicate and
// revisited coordinates are dropped, and a collection that yields no
// waypoints at all is an error. The result still goes through the
// safety validator before flight; this is schema conversion only.
func ToPlaybook(raw []byte, missionID string) (*model.MissionPlaybook, error) {
	var fc FeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeoJSON, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: only FeatureCollection is supported, got %q", ErrInvalidGeoJSON, fc.Type)
	}
	if missionID == "" {
		missionID = defaultMissionID
	}

	var waypoints []model.Waypoint
	for _, f := range fc.Features {
		switch f.Geometry.Type {
		case "Point":
			var coords []float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &coords); err != nil {
				return nil, fmt.Errorf("%w: malformed Point coordinates: %v", ErrInvalidGeoJSON, err)
			}
			if wp, ok := waypointFrom(coords, f.Properties); ok {
				waypoints = append(waypoints, wp)
			}
		case "LineString":
			var lines [][]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &lines); err != nil {
				return nil, fmt.Errorf("%w: malformed LineString coordinates: %v", ErrInvalidGeoJSON, err)
			}
			for _, coords := range lines {
				if wp, ok := waypointFrom(coords, f.Properties); ok {
					waypoints = append(waypoints, wp)
				}
			}
		}
	}

	waypoints = dedupe(waypoints)
	if len(waypoints) == 0 {
		return nil, fmt.Errorf("%w: no valid waypoints found", ErrInvalidGeoJSON)
	}

	return &model.MissionPlaybook{
		MissionID:   missionID,
		MissionType: "patrol",
		Description: fmt.Sprintf("GeoJSON mission with %d waypoints", len(waypoints)),
		Waypoints:   waypoints,
		FlightParameters: model.FlightParameters{
			AltitudeM:   defaultAltitudeM,
			SpeedMPS:    10,
			Pattern:     model.PatternDirect,
			HeadingMode: model.HeadingAuto,
		},
		CameraSettings: model.DefaultCameraSettings(),
		Contingencies:  model.DefaultContingencies(),
		AutoExecute:    false,
		MaxDurationMin: 30,
	}, nil
}

// waypointFrom maps one [lon, lat, alt?] coordinate to a photo
// waypoint. Altitude comes from the feature's "altitude" property,
// then the z coordinate, then the 100m default.
func waypointFrom(coords []float64, props map[string]interface{}) (model.Waypoint, bool) {
	if len(coords) < 2 {
		return model.Waypoint{}, false
	}
	alt := defaultAltitudeM
	if v, ok := props["altitude"].(float64); ok && v != 0 {
		alt = v
	} else if len(coords) >= 3 && coords[2] != 0 {
		alt = coords[2]
	}
	return model.Waypoint{
		Lat:    coords[1],
		Lon:    coords[0],
		AltM:   alt,
		Action: model.ActionPhoto,
	}, true
}

func dedupe(wps []model.Waypoint) []model.Waypoint {
	type key struct{ lat, lon float64 }
	seen := make(map[key]bool, len(wps))
	out := wps[:0]
	for _, wp := range wps {
		k := key{wp.Lat, wp.Lon}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, wp)
	}
	return out
}

// FromPlaybook renders a playbook as a FeatureCollection: one Point
// per waypoint plus, with two or more waypoints, a flight-path
// LineString carrying speed, pattern, and total track distance.
func FromPlaybook(pb *model.MissionPlaybook) (*FeatureCollection, error) {
	fc := &FeatureCollection{Type: "FeatureCollection"}

	path := make([][]float64, 0, len(pb.Waypoints))
	for idx, wp := range pb.Waypoints {
		alt := wp.AltM
		if alt == 0 {
			alt = pb.FlightParameters.AltitudeM
		}
		path = append(path, []float64{wp.Lon, wp.Lat, alt})

		action := wp.Action
		if action == model.ActionNone {
			action = "waypoint"
		}
		desc := fmt.Sprintf("%s at waypoint %d", action, idx)
		props := map[string]interface{}{
			"action":      action,
			"sequence":    idx,
			"altitude_m":  alt,
			"description": desc,
		}
		if wp.HoverDurationS > 0 {
			props["duration_s"] = wp.HoverDurationS
			props["description"] = fmt.Sprintf("%s (hover %gs)", desc, wp.HoverDurationS)
		}

		point, err := geometryJSON("Point", []float64{wp.Lon, wp.Lat, alt})
		if err != nil {
			return nil, err
		}
		fc.Features = append(fc.Features, Feature{Type: "Feature", Geometry: point, Properties: props})
	}

	if len(path) > 1 {
		total := 0.0
		for i := 1; i < len(path); i++ {
			total += geometry.HaversineDistanceM(path[i-1][1], path[i-1][0], path[i][1], path[i][0])
		}
		line, err := geometryJSON("LineString", path)
		if err != nil {
			return nil, err
		}
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			Geometry: line,
			Properties: map[string]interface{}{
				"type":             "flight_path",
				"speed_mps":        pb.FlightParameters.SpeedMPS,
				"pattern":          pb.FlightParameters.Pattern,
				"total_distance_m": float64(int(total*100+0.5)) / 100,
			},
		})
	}

	return fc, nil
}

func geometryJSON(geoType string, coords interface{}) (Geometry, error) {
	raw, err := json.Marshal(coords)
	if err != nil {
		return Geometry{}, fmt.Errorf("marshal %s coordinates: %w", geoType, err)
	}
	return Geometry{Type: geoType, Coordinates: raw}, nil
}

package geojson

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/kestrel-uas/kestrel/internal/model"
)

// Poland/Ukraine border patrol area.
const borderPoints = `{
	"type": "FeatureCollection",
	"features": [
		{"type": "Feature", "properties": {},
		 "geometry": {"type": "Point", "coordinates": [22.676025735635818, 49.58809075009475]}},
		{"type": "Feature", "properties": {},
		 "geometry": {"type": "Point", "coordinates": [22.650759135512743, 49.57580919435844]}},
		{"type": "Feature", "properties": {},
		 "geometry": {"type": "Point", "coordinates": [22.67371444036104, 49.55304323176125]}}
	]
}`

func TestToPlaybookPoints(t *testing.T) {
	pb, err := ToPlaybook([]byte(borderPoints), "user_test_001")
	if err != nil {
		t.Fatalf("ToPlaybook: %v", err)
	}

	if pb.MissionID != "user_test_001" {
		t.Errorf("mission id = %q, want user_test_001", pb.MissionID)
	}
	if pb.MissionType != "patrol" {
		t.Errorf("mission type = %q, want patrol", pb.MissionType)
	}
	if len(pb.Waypoints) != 3 {
		t.Fatalf("got %d waypoints, want 3", len(pb.Waypoints))
	}

	// GeoJSON [lon, lat] becomes waypoint lat/lon.
	first := pb.Waypoints[0]
	if first.Lat != 49.58809075009475 || first.Lon != 22.676025735635818 {
		t.Errorf("first waypoint at (%v, %v), want (49.588..., 22.676...)", first.Lat, first.Lon)
	}

	for i, wp := range pb.Waypoints {
		if wp.Lat < 49.5 || wp.Lat > 49.6 || wp.Lon < 22.6 || wp.Lon > 22.7 {
			t.Errorf("waypoint %d at (%v, %v) outside patrol area", i, wp.Lat, wp.Lon)
		}
		if wp.AltM != 100 {
			t.Errorf("waypoint %d altitude = %v, want 100 default", i, wp.AltM)
		}
		if wp.Action != model.ActionPhoto {
			t.Errorf("waypoint %d action = %q, want photo", i, wp.Action)
		}
	}

	if pb.AutoExecute {
		t.Error("converted playbooks must not auto-execute")
	}
}

func TestToPlaybookDefaultMissionID(t *testing.T) {
	pb, err := ToPlaybook([]byte(borderPoints), "")
	if err != nil {
		t.Fatalf("ToPlaybook: %v", err)
	}
	if pb.MissionID != "geojson_mission" {
		t.Errorf("mission id = %q, want geojson_mission", pb.MissionID)
	}
}

func TestToPlaybookLineString(t *testing.T) {
	raw := `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {},
			 "geometry": {"type": "LineString", "coordinates": [
				[22.676025735635818, 49.58809075009475],
				[22.650759135512743, 49.57580919435844]
			 ]}}
		]
	}`
	pb, err := ToPlaybook([]byte(raw), "line_test")
	if err != nil {
		t.Fatalf("ToPlaybook: %v", err)
	}
	if len(pb.Waypoints) != 2 {
		t.Fatalf("got %d waypoints, want 2", len(pb.Waypoints))
	}
	if pb.Waypoints[0].Lat != 49.58809075009475 || pb.Waypoints[1].Lat != 49.57580919435844 {
		t.Errorf("waypoint latitudes = %v, %v; LineString order not preserved",
			pb.Waypoints[0].Lat, pb.Waypoints[1].Lat)
	}
}

func TestToPlaybookAltitudeSources(t *testing.T) {
	raw := `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {"altitude": 80},
			 "geometry": {"type": "Point", "coordinates": [22.6, 49.5, 60]}},
			{"type": "Feature", "properties": {},
			 "geometry": {"type": "Point", "coordinates": [22.7, 49.6, 60]}}
		]
	}`
	pb, err := ToPlaybook([]byte(raw), "")
	if err != nil {
		t.Fatalf("ToPlaybook: %v", err)
	}
	if got := pb.Waypoints[0].AltM; got != 80 {
		t.Errorf("waypoint 0 altitude = %v, want 80 from properties", got)
	}
	if got := pb.Waypoints[1].AltM; got != 60 {
		t.Errorf("waypoint 1 altitude = %v, want 60 from z coordinate", got)
	}
}

func TestToPlaybookDeduplicates(t *testing.T) {
	raw := `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {},
			 "geometry": {"type": "Point", "coordinates": [22.676025735635818, 49.58809075009475]}},
			{"type": "Feature", "properties": {},
			 "geometry": {"type": "Point", "coordinates": [22.676025735635818, 49.58809075009475]}},
			{"type": "Feature", "properties": {},
			 "geometry": {"type": "Point", "coordinates": [22.650759135512743, 49.57580919435844]}}
		]
	}`
	pb, err := ToPlaybook([]byte(raw), "")
	if err != nil {
		t.Fatalf("ToPlaybook: %v", err)
	}
	if len(pb.Waypoints) != 2 {
		t.Errorf("got %d waypoints, want 2 after deduplication", len(pb.Waypoints))
	}
}

func TestToPlaybookRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "not a feature collection",
			raw:  `{"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 0]}}`,
		},
		{
			name: "no features",
			raw:  `{"type": "FeatureCollection", "features": []}`,
		},
		{
			name: "only unsupported geometries",
			raw: `{"type": "FeatureCollection", "features": [
				{"type": "Feature", "geometry": {"type": "Polygon",
				 "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}}]}`,
		},
		{
			name: "malformed json",
			raw:  `{"type": "FeatureCollection",`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToPlaybook([]byte(tt.raw), "")
			if !errors.Is(err, ErrInvalidGeoJSON) {
				t.Fatalf("ToPlaybook = %v, want ErrInvalidGeoJSON", err)
			}
		})
	}
}

func TestFromPlaybook(t *testing.T) {
	pb := &model.MissionPlaybook{
		MissionID:   "viz-test",
		MissionType: "survey",
		Waypoints: []model.Waypoint{
			{Lat: 49.5880, Lon: 22.6760, AltM: 100, Action: model.ActionPhoto},
			{Lat: 49.5758, Lon: 22.6507, AltM: 100, Action: model.ActionHover, HoverDurationS: 10},
		},
		FlightParameters: model.DefaultFlightParameters(),
	}

	fc, err := FromPlaybook(pb)
	if err != nil {
		t.Fatalf("FromPlaybook: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("type = %q, want FeatureCollection", fc.Type)
	}
	// Two waypoint Points plus the flight-path LineString.
	if len(fc.Features) != 3 {
		t.Fatalf("got %d features, want 3", len(fc.Features))
	}

	var coords []float64
	if err := json.Unmarshal(fc.Features[0].Geometry.Coordinates, &coords); err != nil {
		t.Fatalf("first Point coordinates: %v", err)
	}
	if coords[0] != 22.6760 || coords[1] != 49.5880 || coords[2] != 100 {
		t.Errorf("first Point = %v, want [22.676 49.588 100] (lon first)", coords)
	}
	if got := fc.Features[1].Properties["duration_s"]; got != 10.0 {
		t.Errorf("hover duration property = %v, want 10", got)
	}

	line := fc.Features[2]
	if line.Geometry.Type != "LineString" {
		t.Fatalf("last feature geometry = %s, want LineString", line.Geometry.Type)
	}
	if got := line.Properties["type"]; got != "flight_path" {
		t.Errorf("line type property = %v, want flight_path", got)
	}
	dist, ok := line.Properties["total_distance_m"].(float64)
	if !ok || dist < 1000 || dist > 5000 {
		t.Errorf("total_distance_m = %v, want a few kilometres", line.Properties["total_distance_m"])
	}
}

func TestRoundTrip(t *testing.T) {
	pb, err := ToPlaybook([]byte(borderPoints), "round_trip")
	if err != nil {
		t.Fatalf("ToPlaybook: %v", err)
	}
	fc, err := FromPlaybook(pb)
	if err != nil {
		t.Fatalf("FromPlaybook: %v", err)
	}

	raw, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := ToPlaybook(raw, "round_trip")
	if err != nil {
		t.Fatalf("ToPlaybook(round trip): %v", err)
	}
	if len(back.Waypoints) != len(pb.Waypoints) {
		t.Fatalf("round trip changed waypoint count: %d -> %d", len(pb.Waypoints), len(back.Waypoints))
	}
	for i := range back.Waypoints {
		if back.Waypoints[i].Lat != pb.Waypoints[i].Lat || back.Waypoints[i].Lon != pb.Waypoints[i].Lon {
			t.Errorf("waypoint %d moved: %+v -> %+v", i, pb.Waypoints[i], back.Waypoints[i])
		}
	}
}

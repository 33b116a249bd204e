// Package flight defines the capability interface to the aircraft.
// The engine owns exactly one backend handle per mission; there is no
// process-wide drone connection.
package flight

import (
	"context"
	"errors"
)

// Sentinel errors for the backend taxonomy.
var (
	// ErrConnectionFailed means the backend is unreachable. Recoverable
	// by retry with backoff; the engine does not retry automatically.
	ErrConnectionFailed = errors.New("flight backend connection failed")
	// ErrCommandFailed is a mid-mission rejection of a flight primitive.
	ErrCommandFailed = errors.New("flight command failed")
	// ErrNotConnected marks commands issued before Connect succeeded.
	ErrNotConnected = errors.New("flight backend not connected")
)

// BatteryUnknown is reported when the backend cannot read the battery.
const BatteryUnknown = -1

// Telemetry is a best-effort backend reading. Unknown fields are
// tolerated: BatteryPct and AltM use negative sentinels.
type Telemetry struct {
	BatteryPct    float64
	GPSFix        bool
	GPSSatellites int
	AltM          float64
}

// Backend commands a real or simulated aircraft. Implementations must
// honor context cancellation; the engine bounds every call with a
// deadline so a stuck radio link cannot block the tick loop.
type Backend interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Takeoff(ctx context.Context, targetAltM float64) error
	MoveTo(ctx context.Context, lat, lon, altM, maxHSpeedMPS, maxVSpeedMPS float64) error
	Land(ctx context.Context) error
	// EmergencyLand is best-effort: callers log its error, never retry.
	EmergencyLand(ctx context.Context) error
	ReadTelemetry(ctx context.Context) (Telemetry, error)
}

package flight

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// SimConfig tunes the simulated backend.
type SimConfig struct {
	// Latency is applied to every command to mimic the radio link.
	Latency time.Duration
	// ReportBattery makes ReadTelemetry return a modeled battery level
	// instead of BatteryUnknown.
	ReportBattery bool
	// DrainPerReadPct is subtracted from the modeled battery on every
	// telemetry read when ReportBattery is set.
	DrainPerReadPct float64
}

// Sim is a deterministic stand-in for the vendor flight SDK. It accepts
// every command, tracks connection state, and models battery and GPS
// readings so the rest of the stack can be exercised without hardware.
type Sim struct {
	cfg SimConfig

	mu         sync.Mutex
	connected  bool
	batteryPct float64
	satellites int
	rng        *rand.Rand
}

// NewSim returns a simulator starting with a full battery.
func NewSim(cfg SimConfig) *Sim {
	return &Sim{
		cfg:        cfg,
		batteryPct: 100,
		satellites: 12,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Sim) Connect(ctx context.Context) error {
	if err := s.wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	log.Debug("sim backend connected")
	return nil
}

func (s *Sim) Disconnect() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	log.Debug("sim backend disconnected")
	return nil
}

func (s *Sim) Takeoff(ctx context.Context, targetAltM float64) error {
	return s.command(ctx, "takeoff")
}

func (s *Sim) MoveTo(ctx context.Context, lat, lon, altM, maxHSpeedMPS, maxVSpeedMPS float64) error {
	return s.command(ctx, "move_to")
}

func (s *Sim) Land(ctx context.Context) error {
	return s.command(ctx, "land")
}

func (s *Sim) EmergencyLand(ctx context.Context) error {
	return s.command(ctx, "emergency_land")
}

func (s *Sim) ReadTelemetry(ctx context.Context) (Telemetry, error) {
	if err := s.wait(ctx); err != nil {
		return Telemetry{}, fmt.Errorf("%w: read_telemetry: %v", ErrCommandFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return Telemetry{}, fmt.Errorf("%w: read_telemetry", ErrNotConnected)
	}

	// Satellite count wanders between 8 and 15 like a real receiver.
	s.satellites += s.rng.Intn(3) - 1
	if s.satellites < 8 {
		s.satellites = 8
	}
	if s.satellites > 15 {
		s.satellites = 15
	}

	t := Telemetry{
		BatteryPct:    BatteryUnknown,
		GPSFix:        true,
		GPSSatellites: s.satellites,
		AltM:          -1,
	}
	if s.cfg.ReportBattery {
		s.batteryPct -= s.cfg.DrainPerReadPct
		if s.batteryPct < 0 {
			s.batteryPct = 0
		}
		t.BatteryPct = s.batteryPct
	}
	return t, nil
}

func (s *Sim) command(ctx context.Context, name string) error {
	if err := s.wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCommandFailed, name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	return nil
}

// wait models link latency while honoring the caller's deadline.
func (s *Sim) wait(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(s.cfg.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

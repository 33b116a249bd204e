// Package engine drives a single mission from takeoff to landing or
// abort. One engine owns one flight-backend handle and one mission's
// state; concurrent missions need separate engine instances.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mohae/deepcopy"
	log "github.com/sirupsen/logrus"

	"github.com/kestrel-uas/kestrel/internal/flight"
	"github.com/kestrel-uas/kestrel/internal/model"
	"github.com/kestrel-uas/kestrel/internal/safety"
	"github.com/kestrel-uas/kestrel/pkg/geometry"
)

// Caller-misuse errors, surfaced synchronously.
var (
	ErrAlreadyRunning = errors.New("a mission is already running")
	ErrNotRunning     = errors.New("no mission is running")
)

// Clock supplies timestamps. Tests inject a fixed clock so missions run
// without wall-clock delays.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// Config holds the engine's motion and timing parameters. The climb,
// descent, and arrival constants are simulation tuning values with no
// physical authority; deployments override them per airframe.
type Config struct {
	// TickInterval is the simulated time advanced per Step call.
	TickInterval time.Duration
	// ArrivalThresholdM is the remaining distance at which a waypoint
	// counts as reached.
	ArrivalThresholdM float64
	ClimbRateMPS      float64
	DescentRateMPS    float64
	// ActionDurationS is the dwell charged for photo/video/scan actions
	// and for hover actions without an explicit duration.
	ActionDurationS float64
	// CommandTimeout bounds every flight-backend call; a backend that
	// exceeds it is treated as failed.
	CommandTimeout time.Duration

	Clock Clock
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.ArrivalThresholdM <= 0 {
		c.ArrivalThresholdM = 5
	}
	if c.ClimbRateMPS <= 0 {
		c.ClimbRateMPS = 2
	}
	if c.DescentRateMPS <= 0 {
		c.DescentRateMPS = 1
	}
	if c.ActionDurationS <= 0 {
		c.ActionDurationS = 5
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = SystemClock
	}
}

// Battery drain per second of tick time when the backend cannot report
// a real battery level.
const (
	drainMovingPctPerS = 0.15
	drainIdlePctPerS   = 0.05
)

// Engine is the waypoint state machine. All state mutation happens in
// Step under one mutex; Status returns value snapshots, so readers
// never observe a half-applied tick.
type Engine struct {
	cfg     Config
	backend flight.Backend
	logger  *log.Entry

	mu             sync.RWMutex
	playbook       *model.MissionPlaybook
	state          model.MissionState
	missionErr     error
	abortRequested bool
	abortLanding   bool
	takeoffSent    bool
	moveSent       bool
	hoverRemainS   float64
}

// New builds an engine around an explicit backend handle.
func New(backend flight.Backend, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:     cfg,
		backend: backend,
		logger:  log.WithField("component", "engine"),
		state:   model.MissionState{Phase: model.PhaseIdle, CurrentWaypoint: -1},
	}
}

// Start validates the playbook, connects the backend, and arms the
// state machine at takeoff. On any rejection no prior state is mutated.
func (e *Engine) Start(pb *model.MissionPlaybook) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != model.PhaseIdle && !e.state.Phase.Terminal() {
		return ErrAlreadyRunning
	}

	if err := safety.Validate(pb); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CommandTimeout)
	defer cancel()
	if err := e.backend.Connect(ctx); err != nil {
		return err
	}

	// The engine operates on a private copy; the caller's playbook is
	// never mutated and later caller edits cannot leak into the flight.
	cp := deepcopy.Copy(pb).(*model.MissionPlaybook)

	first := cp.Waypoints[0]
	e.playbook = cp
	e.missionErr = nil
	e.abortRequested = false
	e.abortLanding = false
	e.takeoffSent = false
	e.moveSent = false
	e.hoverRemainS = 0
	e.state = model.MissionState{
		MissionID:       cp.MissionID,
		Phase:           model.PhaseTakeoff,
		Position:        model.Position{Lat: first.Lat, Lon: first.Lon, Alt: 0},
		BatteryPct:      100,
		CurrentWaypoint: -1,
		TotalWaypoints:  len(cp.Waypoints),
		GPSSatellites:   12,
		Timestamp:       e.cfg.Clock.Now(),
	}

	e.logger.WithFields(log.Fields{
		"mission_id": cp.MissionID,
		"waypoints":  len(cp.Waypoints),
		"type":       cp.MissionType,
	}).Info("mission started")
	return nil
}

// Step advances the state machine by one tick. Mid-flight backend
// faults are absorbed into the mission state, never returned: callers
// observe them through Status and Err.
func (e *Engine) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase == model.PhaseIdle || e.state.Phase.Terminal() {
		return
	}

	e.state.Timestamp = e.cfg.Clock.Now()
	dt := e.cfg.TickInterval.Seconds()

	// Abort takes effect at the tick boundary: drop whatever waypoint
	// progress remains and land now.
	if e.abortRequested && !e.abortLanding {
		e.abortLanding = true
		e.logger.WithField("mission_id", e.state.MissionID).Warn("abort requested, forcing landing")
		if e.state.Phase != model.PhaseLanding {
			if err := e.command(e.backend.Land); err != nil {
				e.fail(err)
				return
			}
			e.setPhase(model.PhaseLanding)
			e.state.SpeedMPS = 0
		}
	}

	e.readTelemetry(dt)

	switch e.state.Phase {
	case model.PhaseTakeoff:
		e.stepTakeoff(dt)
	case model.PhaseEnRoute:
		e.stepEnRoute(dt)
	case model.PhaseHovering:
		e.stepHover(dt)
	case model.PhaseLanding:
		e.stepLanding(dt)
	}
}

// Abort requests an immediate landing regardless of waypoint progress.
// It is safe to call from outside the tick loop; the request is applied
// on the next tick boundary.
func (e *Engine) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase == model.PhaseIdle || e.state.Phase.Terminal() {
		return ErrNotRunning
	}
	e.abortRequested = true
	return nil
}

// Status returns a value snapshot of the mission state. Never blocks on
// a tick in progress beyond the state mutex.
func (e *Engine) Status() model.MissionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Err returns the error recorded for a failed mission, nil otherwise.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.missionErr
}

func (e *Engine) stepTakeoff(dt float64) {
	if !e.takeoffSent {
		target := e.playbook.Waypoints[0].AltM
		if err := e.command(func(ctx context.Context) error {
			return e.backend.Takeoff(ctx, target)
		}); err != nil {
			e.fail(err)
			return
		}
		e.takeoffSent = true
	}

	target := e.playbook.Waypoints[0].AltM
	if e.state.Position.Alt < target {
		e.state.Position.Alt = min(target, e.state.Position.Alt+e.cfg.ClimbRateMPS*dt)
		e.state.SpeedMPS = e.cfg.ClimbRateMPS
	}
	if e.state.Position.Alt >= target {
		e.logger.WithField("mission_id", e.state.MissionID).
			Infof("takeoff complete at %.0fm", target)
		e.setPhase(model.PhaseEnRoute)
		e.state.CurrentWaypoint = 0
		e.state.SpeedMPS = 0
		e.moveSent = false
	}
}

func (e *Engine) stepEnRoute(dt float64) {
	wps := e.playbook.Waypoints
	idx := e.state.CurrentWaypoint
	if idx >= len(wps) {
		e.beginLanding()
		return
	}

	wp := wps[idx]
	if !e.moveSent {
		speed := e.playbook.FlightParameters.SpeedMPS
		if err := e.command(func(ctx context.Context) error {
			return e.backend.MoveTo(ctx, wp.Lat, wp.Lon, wp.AltM, speed, e.cfg.ClimbRateMPS)
		}); err != nil {
			e.fail(err)
			return
		}
		e.moveSent = true
	}

	pos := &e.state.Position
	dist := geometry.HaversineDistanceM(pos.Lat, pos.Lon, wp.Lat, wp.Lon)

	if dist <= e.cfg.ArrivalThresholdM {
		pos.Lat, pos.Lon, pos.Alt = wp.Lat, wp.Lon, wp.AltM
		e.state.SpeedMPS = 0
		e.logger.WithFields(log.Fields{
			"mission_id": e.state.MissionID,
			"waypoint":   idx,
		}).Info("waypoint reached")

		if wp.Action != model.ActionNone {
			e.hoverRemainS = e.actionDuration(wp)
			e.setPhase(model.PhaseHovering)
			return
		}
		e.advanceWaypoint()
		return
	}

	// Bounded interpolation toward the target: at most speed x dt of
	// ground track and climb-rate x dt of altitude change per tick.
	speed := e.playbook.FlightParameters.SpeedMPS
	maxMove := speed * dt
	if maxMove >= dist {
		pos.Lat, pos.Lon = wp.Lat, wp.Lon
	} else {
		factor := maxMove / dist
		pos.Lat += (wp.Lat - pos.Lat) * factor
		pos.Lon += (wp.Lon - pos.Lon) * factor
	}
	dAlt := wp.AltM - pos.Alt
	maxClimb := e.cfg.ClimbRateMPS * dt
	if dAlt > maxClimb {
		dAlt = maxClimb
	} else if dAlt < -maxClimb {
		dAlt = -maxClimb
	}
	pos.Alt += dAlt

	e.state.HeadingDeg = geometry.BearingDeg(pos.Lat, pos.Lon, wp.Lat, wp.Lon)
	e.state.SpeedMPS = speed
}

func (e *Engine) stepHover(dt float64) {
	e.state.SpeedMPS = 0
	e.hoverRemainS -= dt
	if e.hoverRemainS > 0 {
		return
	}
	e.hoverRemainS = 0
	e.advanceWaypoint()
}

func (e *Engine) stepLanding(dt float64) {
	pos := &e.state.Position
	if pos.Alt > 0 {
		pos.Alt = max(0, pos.Alt-e.cfg.DescentRateMPS*dt)
		e.state.SpeedMPS = e.cfg.DescentRateMPS
	}
	if pos.Alt > 0 {
		return
	}

	e.state.SpeedMPS = 0
	if e.abortLanding {
		e.setPhase(model.PhaseAborted)
	} else {
		e.setPhase(model.PhaseCompleted)
	}
	e.logger.WithFields(log.Fields{
		"mission_id": e.state.MissionID,
		"status":     e.state.Phase,
	}).Info("mission over, landed")
	if err := e.backend.Disconnect(); err != nil {
		e.logger.WithError(err).Warn("backend disconnect failed")
	}
}

// advanceWaypoint moves to the next waypoint or, past the last one,
// into the landing sequence.
func (e *Engine) advanceWaypoint() {
	e.state.CurrentWaypoint++
	e.moveSent = false
	if e.state.Phase != model.PhaseEnRoute {
		e.setPhase(model.PhaseEnRoute)
	}
	if e.state.CurrentWaypoint >= len(e.playbook.Waypoints) {
		e.beginLanding()
	}
}

func (e *Engine) beginLanding() {
	if err := e.command(e.backend.Land); err != nil {
		e.fail(err)
		return
	}
	e.setPhase(model.PhaseLanding)
	e.state.SpeedMPS = 0
}

// readTelemetry folds a best-effort backend reading into the state.
// Read errors are logged, never fatal; unknown battery falls back to a
// modeled drain.
func (e *Engine) readTelemetry(dt float64) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CommandTimeout)
	defer cancel()

	tel, err := e.backend.ReadTelemetry(ctx)
	if err != nil {
		e.logger.WithError(err).Debug("telemetry read failed")
		tel = flight.Telemetry{BatteryPct: flight.BatteryUnknown}
	}

	if tel.BatteryPct >= 0 {
		e.state.BatteryPct = tel.BatteryPct
	} else {
		rate := drainIdlePctPerS
		if e.state.SpeedMPS > 0 {
			rate = drainMovingPctPerS
		}
		e.state.BatteryPct = max(0, e.state.BatteryPct-rate*dt)
	}
	if tel.GPSSatellites > 0 {
		e.state.GPSSatellites = tel.GPSSatellites
	}
}

// fail records a mid-flight fault: attempt an emergency landing (its
// own failure is logged, not retried) and park in the failed phase.
func (e *Engine) fail(err error) {
	e.missionErr = err
	e.logger.WithFields(log.Fields{
		"mission_id": e.state.MissionID,
	}).WithError(err).Error("flight command failed, emergency landing")

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CommandTimeout)
	defer cancel()
	if elErr := e.backend.EmergencyLand(ctx); elErr != nil {
		e.logger.WithError(elErr).Error("emergency landing failed")
	}
	if dcErr := e.backend.Disconnect(); dcErr != nil {
		e.logger.WithError(dcErr).Warn("backend disconnect failed")
	}

	e.state.SpeedMPS = 0
	e.setPhase(model.PhaseFailed)
}

func (e *Engine) setPhase(p model.Phase) {
	if e.state.Phase == p {
		return
	}
	e.logger.WithFields(log.Fields{
		"mission_id": e.state.MissionID,
		"from":       e.state.Phase,
		"to":         p,
	}).Debug("phase transition")
	e.state.Phase = p
}

func (e *Engine) actionDuration(wp model.Waypoint) float64 {
	if wp.Action == model.ActionHover && wp.HoverDurationS > 0 {
		return wp.HoverDurationS
	}
	return e.cfg.ActionDurationS
}

func (e *Engine) command(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CommandTimeout)
	defer cancel()
	return fn(ctx)
}

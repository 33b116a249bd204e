// Package telemetry fans mission state out to observers as a stream of
// typed events. The broadcaster owns the tick loop: it advances the
// engine, diffs consecutive state snapshots, and derives events from
// the differences, so observers never poll the engine themselves.
package telemetry

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kestrel-uas/kestrel/internal/engine"
	"github.com/kestrel-uas/kestrel/internal/model"
)

// Event types on the wire.
const (
	EventPositionUpdate  = "position_update"
	EventWaypointReached = "waypoint_reached"
	EventStatusChange    = "status_change"
	EventMissionComplete = "mission_complete"
	EventWarning         = "warning"
	EventEmergency       = "emergency"
)

// Battery thresholds, percent.
const (
	lowBatteryPct      = 20.0
	criticalBatteryPct = 10.0
)

// Event is one wire message.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Observer receives events. Send must be safe to call from the
// broadcaster's tick goroutine; a returned error detaches the observer.
type Observer interface {
	ID() string
	Send(Event) error
}

// Broadcaster drives one engine's mission and streams its progress.
type Broadcaster struct {
	engine   *engine.Engine
	interval time.Duration
	logger   *log.Entry

	mu        sync.Mutex
	observers map[string]Observer
	prev      model.MissionState
	hasPrev   bool
	emergency bool
}

// New wires a broadcaster to an engine. interval <= 0 falls back to
// the 1 Hz default.
func New(eng *engine.Engine, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = time.Second
	}
	return &Broadcaster{
		engine:    eng,
		interval:  interval,
		logger:    log.WithField("component", "telemetry"),
		observers: make(map[string]Observer),
	}
}

// Attach registers an observer and immediately sends it the current
// state, so late joiners see the mission without waiting for a tick.
func (b *Broadcaster) Attach(obs Observer) {
	st := b.engine.Status()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[obs.ID()] = obs
	if err := obs.Send(Event{Type: EventPositionUpdate, Data: st}); err != nil {
		b.logger.WithField("observer", obs.ID()).WithError(err).Warn("initial send failed, detaching")
		delete(b.observers, obs.ID())
	}
}

// Detach removes an observer. Unknown IDs are a no-op.
func (b *Broadcaster) Detach(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, id)
}

// ObserverCount reports the current registry size.
func (b *Broadcaster) ObserverCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

// Run ticks the mission until it reaches a terminal phase or ctx is
// cancelled. It returns the final mission state.
func (b *Broadcaster) Run(ctx context.Context) model.MissionState {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return b.engine.Status()
		case <-ticker.C:
			if done := b.Tick(); done {
				return b.engine.Status()
			}
		}
	}
}

// Tick advances the engine one step and broadcasts the derived events.
// It reports whether the mission has reached a terminal phase. Exposed
// so callers with their own scheduling can drive the loop directly.
func (b *Broadcaster) Tick() bool {
	b.engine.Step()
	st := b.engine.Status()

	b.mu.Lock()
	prev, hasPrev := b.prev, b.hasPrev
	b.prev, b.hasPrev = st, true
	b.mu.Unlock()

	var events []Event

	// A waypoint index advancing past k means waypoint k is done.
	if hasPrev {
		for wp := prev.CurrentWaypoint + 1; wp <= st.CurrentWaypoint; wp++ {
			if wp > 0 {
				events = append(events, Event{Type: EventWaypointReached, Data: map[string]interface{}{
					"waypoint_index":  wp - 1,
					"total_waypoints": st.TotalWaypoints,
				}})
			}
		}
		if prev.Phase != st.Phase {
			events = append(events, Event{Type: EventStatusChange, Data: map[string]interface{}{
				"old_status": prev.Phase,
				"new_status": st.Phase,
			}})
		}
	}

	events = append(events, Event{Type: EventPositionUpdate, Data: st})

	if !st.Phase.Terminal() && st.BatteryPct < lowBatteryPct {
		if st.BatteryPct < criticalBatteryPct {
			events = append(events, b.criticalBattery(st)...)
		} else {
			events = append(events, Event{Type: EventWarning, Data: map[string]interface{}{
				"level":   "warning",
				"message": "Low battery",
				"battery": st.BatteryPct,
			}})
		}
	}

	if st.Phase.Terminal() {
		events = append(events, Event{Type: EventMissionComplete, Data: st})
	}

	b.broadcast(events)
	return st.Phase.Terminal()
}

// criticalBattery aborts the mission, exactly once per mission, and
// emits the emergency event.
func (b *Broadcaster) criticalBattery(st model.MissionState) []Event {
	b.mu.Lock()
	already := b.emergency
	b.emergency = true
	b.mu.Unlock()
	if already {
		return nil
	}

	b.logger.WithFields(log.Fields{
		"mission_id": st.MissionID,
		"battery":    st.BatteryPct,
	}).Error("critical battery, aborting mission")
	if err := b.engine.Abort(); err != nil {
		b.logger.WithError(err).Warn("critical-battery abort rejected")
	}
	return []Event{{Type: EventEmergency, Data: map[string]interface{}{
		"level":   "critical",
		"message": "Critical battery - emergency landing",
		"battery": st.BatteryPct,
	}}}
}

// broadcast delivers events to every observer, detaching any whose
// Send fails. A slow or dead client must not wedge the mission loop.
func (b *Broadcaster) broadcast(events []Event) {
	b.mu.Lock()
	obs := make([]Observer, 0, len(b.observers))
	for _, o := range b.observers {
		obs = append(obs, o)
	}
	b.mu.Unlock()

	for _, o := range obs {
		for _, ev := range events {
			if err := o.Send(ev); err != nil {
				b.logger.WithField("observer", o.ID()).WithError(err).Warn("send failed, detaching")
				b.Detach(o.ID())
				break
			}
		}
	}
}

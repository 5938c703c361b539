package world

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/domain/scene"
	"physsync/backend/internal/logging"
)

func (w *World) Gravity() mgl64.Vec3 {
	w.propMu.RLock()
	defer w.propMu.RUnlock()
	return w.props.gravity
}

// SetGravity changes the scene gravity. A started backend picks it up on
// the next sync.
func (w *World) SetGravity(g mgl64.Vec3) {
	w.propMu.Lock()
	defer w.propMu.Unlock()
	if w.props.gravity == g {
		return
	}
	w.props.gravity = g
	w.gravityDirty = w.started
}

func (w *World) TypicalLength() float64 {
	w.propMu.RLock()
	defer w.propMu.RUnlock()
	return w.props.typicalLength
}

// SetTypicalLength sets the scale of a typical object. It can only change
// before Start and must be positive.
func (w *World) SetTypicalLength(v float64) {
	w.setInitOnly("typical length", v, func(p *properties) *float64 { return &p.typicalLength })
}

func (w *World) TypicalSpeed() float64 {
	w.propMu.RLock()
	defer w.propMu.RUnlock()
	return w.props.typicalSpeed
}

// SetTypicalSpeed sets the speed of a typical object. It can only change
// before Start and must be positive.
func (w *World) SetTypicalSpeed(v float64) {
	w.setInitOnly("typical speed", v, func(p *properties) *float64 { return &p.typicalSpeed })
}

func (w *World) setInitOnly(name string, v float64, field func(*properties) *float64) {
	ctx := context.Background()
	w.propMu.Lock()
	dst := field(&w.props)
	if *dst == v {
		w.propMu.Unlock()
		return
	}
	if w.started {
		w.propMu.Unlock()
		w.diag(ctx, diagInitOnly, "property can only be set before the world starts, ignored",
			logging.String("property", name), logging.Float64("value", v))
		return
	}
	if v <= 0 {
		w.propMu.Unlock()
		w.diag(ctx, diagInvalidValue, "property must be positive, ignored",
			logging.String("property", name), logging.Float64("value", v))
		return
	}
	*dst = v
	w.propMu.Unlock()
}

func (w *World) EnableCCD() bool {
	w.propMu.RLock()
	defer w.propMu.RUnlock()
	return w.props.enableCCD
}

// SetEnableCCD turns continuous collision detection on for the scene. It can
// only change before Start.
func (w *World) SetEnableCCD(enabled bool) {
	w.propMu.Lock()
	if w.props.enableCCD == enabled {
		w.propMu.Unlock()
		return
	}
	if w.started {
		w.propMu.Unlock()
		w.diag(context.Background(), diagInitOnly, "property can only be set before the world starts, ignored",
			logging.String("property", "enable ccd"), logging.Any("value", enabled))
		return
	}
	w.props.enableCCD = enabled
	w.propMu.Unlock()
}

func (w *World) DefaultDensity() float64 {
	w.propMu.RLock()
	defer w.propMu.RUnlock()
	return w.props.defaultDensity
}

// SetDefaultDensity changes the density of dynamic bodies declaring neither
// mass nor density. Their mass is recomputed on the next sync.
func (w *World) SetDefaultDensity(d float64) {
	w.propMu.Lock()
	defer w.propMu.Unlock()
	if w.props.defaultDensity == d {
		return
	}
	w.props.defaultDensity = d
	w.densityDirty = w.started
}

func (w *World) MinTimestep() time.Duration {
	w.propMu.RLock()
	defer w.propMu.RUnlock()
	return w.props.minTimestep
}

// SetMinTimestep sets the shortest wall time between two steps. Values above
// the maximum or below zero are clamped.
func (w *World) SetMinTimestep(d time.Duration) {
	ctx := context.Background()
	w.propMu.Lock()
	if w.props.minTimestep == d {
		w.propMu.Unlock()
		return
	}
	requested := d
	var warnings []string
	if d > w.props.maxTimestep {
		warnings = append(warnings, "minimum timestep greater than maximum timestep, value clamped")
		d = w.props.maxTimestep
	}
	if d < 0 {
		warnings = append(warnings, "minimum timestep less than zero, value clamped")
		d = 0
	}
	w.props.minTimestep = d
	w.propMu.Unlock()

	for _, msg := range warnings {
		w.diag(ctx, diagTimestep, msg, logging.Any("requested", requested), logging.Any("value", d))
	}
}

func (w *World) MaxTimestep() time.Duration {
	w.propMu.RLock()
	defer w.propMu.RUnlock()
	return w.props.maxTimestep
}

// SetMaxTimestep sets the longest timestep handed to the backend. Negative
// values are clamped to zero, and a minimum above the new maximum is pulled
// down to it.
func (w *World) SetMaxTimestep(d time.Duration) {
	ctx := context.Background()
	w.propMu.Lock()
	if w.props.maxTimestep == d {
		w.propMu.Unlock()
		return
	}
	requested := d
	var warnings []string
	if d < 0 {
		warnings = append(warnings, "maximum timestep less than zero, value clamped")
		d = 0
	}
	w.props.maxTimestep = d
	if w.props.minTimestep > d {
		warnings = append(warnings, "minimum timestep greater than maximum timestep, value clamped")
		w.props.minTimestep = d
	}
	w.propMu.Unlock()

	for _, msg := range warnings {
		w.diag(ctx, diagTimestep, msg, logging.Any("requested", requested), logging.Any("value", d))
	}
}

func (w *World) Running() bool {
	w.propMu.RLock()
	defer w.propMu.RUnlock()
	return w.props.running
}

// SetRunning pauses or resumes stepping. A paused world keeps its backend
// objects and resumes from the same state.
func (w *World) SetRunning(running bool) {
	w.propMu.Lock()
	changed := w.props.running != running
	w.props.running = running
	w.propMu.Unlock()
	if !changed || !running {
		return
	}
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

func (w *World) pacing() (minStep, maxStep time.Duration, running bool) {
	w.propMu.RLock()
	defer w.propMu.RUnlock()
	return w.props.minTimestep, w.props.maxTimestep, w.props.running
}

// applyProperties forwards property changes made since the last sync.
func (w *World) applyProperties(ctx context.Context) {
	w.propMu.Lock()
	gravity, gravityDirty := w.props.gravity, w.gravityDirty
	densityDirty := w.densityDirty
	w.gravityDirty, w.densityDirty = false, false
	w.propMu.Unlock()

	if gravityDirty {
		w.scene.SetGravity(gravity)
		w.log.Debug(ctx, "gravity changed", logging.Any("gravity", gravity))
	}
	if densityDirty {
		for _, bn := range w.liveNodes() {
			if body, ok := bn.node().(*scene.DynamicRigidBody); ok {
				body.RefreshDefaultDensity()
			}
		}
	}
}

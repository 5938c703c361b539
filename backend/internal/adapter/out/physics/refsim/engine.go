// Package refsim is a small pure-Go physics backend. It implements the
// physics port with sequential-impulse contacts over approximate shapes and
// is meant for tests, demos and headless runs.
package refsim

import (
	"fmt"
	"sync"

	"physsync/backend/internal/core/port/out/physics"
	"physsync/backend/internal/logging"
)

type material struct {
	staticFriction  float64
	dynamicFriction float64
	restitution     float64
}

type shape struct {
	id       physics.ShapeHandle
	geom     physics.Geometry
	material physics.MaterialHandle
	local    physics.Pose
	flags    physics.ShapeFlags
	owner    *actor
}

func (s *shape) trigger() bool    { return s.flags&physics.ShapeTrigger != 0 }
func (s *shape) simulated() bool  { return s.flags&physics.ShapeSimulation != 0 }
func (s *shape) collidable() bool { return s.simulated() && !s.trigger() }

// Engine owns materials and shapes shared by its scenes. A single mutex
// serialises every engine and scene call.
type Engine struct {
	log logging.Logger

	mu        sync.Mutex
	nextID    uint64
	materials map[physics.MaterialHandle]*material
	shapes    map[physics.ShapeHandle]*shape
	scenes    map[*Scene]struct{}
	closed    bool
}

var _ physics.Engine = (*Engine)(nil)

// NewEngine returns an empty engine.
func NewEngine(log logging.Logger) *Engine {
	if log == nil {
		log = logging.Noop()
	}
	return &Engine{
		log:       log.With(logging.Component("refsim")),
		materials: make(map[physics.MaterialHandle]*material),
		shapes:    make(map[physics.ShapeHandle]*shape),
		scenes:    make(map[*Scene]struct{}),
	}
}

// Factory adapts NewEngine to physics.EngineFactory.
func Factory(log logging.Logger) physics.EngineFactory {
	return func() (physics.Engine, error) {
		return NewEngine(log), nil
	}
}

func (e *Engine) id() uint64 {
	e.nextID++
	return e.nextID
}

func (e *Engine) CreateScene(desc physics.SceneDesc) (physics.Scene, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("refsim: engine closed")
	}
	s := newScene(e, desc)
	e.scenes[s] = struct{}{}
	return s, nil
}

func (e *Engine) CreateMaterial(staticFriction, dynamicFriction, restitution float64) (physics.MaterialHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := physics.MaterialHandle(e.id())
	e.materials[h] = &material{staticFriction, dynamicFriction, restitution}
	return h, nil
}

func (e *Engine) UpdateMaterial(h physics.MaterialHandle, staticFriction, dynamicFriction, restitution float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.materials[h]; ok {
		*m = material{staticFriction, dynamicFriction, restitution}
	}
}

func (e *Engine) ReleaseMaterial(h physics.MaterialHandle) {
	e.mu.Lock()
	delete(e.materials, h)
	e.mu.Unlock()
}

func (e *Engine) CreateShape(geom physics.Geometry, mat physics.MaterialHandle) (physics.ShapeHandle, error) {
	if err := geom.Validate(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.materials[mat]; !ok {
		return 0, fmt.Errorf("refsim: unknown material %d", mat)
	}
	h := physics.ShapeHandle(e.id())
	e.shapes[h] = &shape{
		id:       h,
		geom:     geom,
		material: mat,
		local:    physics.IdentityPose(),
		flags:    physics.ShapeSimulation,
	}
	return h, nil
}

func (e *Engine) ReleaseShape(h physics.ShapeHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.shapes[h]
	if !ok {
		return
	}
	if s.owner != nil {
		s.owner.scene.detachLocked(s.owner, s)
	}
	delete(e.shapes, h)
}

func (e *Engine) SetShapeLocalPose(h physics.ShapeHandle, pose physics.Pose) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.shapes[h]; ok {
		s.local = pose
	}
}

func (e *Engine) ShapeLocalPose(h physics.ShapeHandle) physics.Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.shapes[h]; ok {
		return s.local
	}
	return physics.IdentityPose()
}

func (e *Engine) SetShapeFlags(h physics.ShapeHandle, flags physics.ShapeFlags) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.shapes[h]; ok {
		s.flags = flags
	}
}

// Close releases every scene. Handles become invalid.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for s := range e.scenes {
		s.releaseLocked()
	}
	e.scenes = nil
	e.materials = nil
	e.shapes = nil
	return nil
}

// Counts reports live materials and shapes.
func (e *Engine) Counts() (materials, shapes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.materials), len(e.shapes)
}

func (e *Engine) materialOf(s *shape) material {
	if m, ok := e.materials[s.material]; ok {
		return *m
	}
	return material{0.5, 0.5, 0.5}
}

package world

import (
	"context"
	"sync/atomic"

	"physsync/backend/internal/core/domain/scene"
	"physsync/backend/internal/core/port/out/physics"
	"physsync/backend/internal/logging"
)

const (
	defaultFriction    = 0.5
	defaultRestitution = 0.5
)

// backendNode is the backend half of one scene physics node. Every method
// except markRemoved and removed runs on the syncing goroutine.
type backendNode interface {
	node() scene.PhysicsNode
	// init creates the backend objects. A false return leaves the node
	// uninitialised so init is retried next sync.
	init(ctx context.Context, w *World) bool
	ready() bool
	actors() []physics.ActorHandle

	markDirtyIfPoseChanged(w *World)
	rebuildShapesIfDirty(ctx context.Context, w *World)
	pullTransform(w *World)
	applyPendingCommands(ctx context.Context, w *World) int
	pushPose(ctx context.Context, w *World, dt float64, cache transformCache)
	cleanup(w *World)

	markRemoved()
	removed() bool
}

func newBackendNode(n scene.PhysicsNode) backendNode {
	switch n := n.(type) {
	case *scene.StaticRigidBody:
		return &staticBody{frontend: n}
	case *scene.DynamicRigidBody:
		return &dynamicBody{frontend: n}
	case *scene.TriggerBody:
		return &triggerBody{frontend: n}
	case *scene.CharacterController:
		return &characterBody{frontend: n}
	}
	return &inertNode{frontend: n}
}

// removal is embedded by every variant.
type removal struct {
	gone atomic.Bool
}

func (r *removal) markRemoved()  { r.gone.Store(true) }
func (r *removal) removed() bool { return r.gone.Load() }

// materialCap owns the backend material of a body and keeps it in line with
// the scene material.
type materialCap struct {
	material physics.MaterialHandle
	values   [3]float64
}

func materialValues(m *scene.Material) [3]float64 {
	if m == nil {
		return [3]float64{defaultFriction, defaultFriction, defaultRestitution}
	}
	sf, df, r := m.Values()
	return [3]float64{sf, df, r}
}

func (c *materialCap) createMaterial(w *World, m *scene.Material) error {
	v := materialValues(m)
	h, err := w.engine.CreateMaterial(v[0], v[1], v[2])
	if err != nil {
		return err
	}
	c.material, c.values = h, v
	return nil
}

func (c *materialCap) updateMaterial(w *World, m *scene.Material) {
	if c.material == 0 {
		return
	}
	v := materialValues(m)
	if v == c.values {
		return
	}
	w.engine.UpdateMaterial(c.material, v[0], v[1], v[2])
	c.values = v
}

func (c *materialCap) releaseMaterial(w *World) {
	if c.material != 0 {
		w.engine.ReleaseMaterial(c.material)
		c.material = 0
	}
}

// actorCap owns a backend actor and the shapes attached to it.
type actorCap struct {
	actor  physics.ActorHandle
	shapes ShapeSynchronizer
}

func (c *actorCap) createActor(w *World, n *scene.CollisionNode, static bool) error {
	h, err := w.scene.CreateActor(worldPose(n.Node), static)
	if err != nil {
		return err
	}
	c.actor = h
	c.shapes.setDirty()
	return nil
}

func (c *actorCap) actors() []physics.ActorHandle {
	if c.actor == 0 {
		return nil
	}
	return []physics.ActorHandle{c.actor}
}

func (c *actorCap) ready() bool { return c.actor != 0 }

func (c *actorCap) markDirtyIfPoseChanged(w *World, n *scene.CollisionNode) {
	if c.actor != 0 {
		c.shapes.markDirtyIfChanged(w, n)
	}
}

func (c *actorCap) releaseActor(w *World) {
	if c.actor == 0 {
		return
	}
	c.shapes.release(w, c.actor)
	w.scene.DestroyActor(c.actor)
	c.actor = 0
}

// controllerCap owns a backend character controller.
type controllerCap struct {
	controller physics.ControllerHandle
	actor      physics.ActorHandle
}

func (c *controllerCap) releaseController(w *World) {
	if c.controller != 0 {
		w.scene.ReleaseController(c.controller)
		c.controller, c.actor = 0, 0
	}
}

// inertNode stands in for node kinds the world does not know. It never
// initialises.
type inertNode struct {
	removal
	frontend scene.PhysicsNode
	warned   bool
}

func (n *inertNode) node() scene.PhysicsNode { return n.frontend }

func (n *inertNode) init(ctx context.Context, w *World) bool {
	if !n.warned {
		n.warned = true
		w.diag(ctx, diagActorInit, "unsupported physics node kind",
			logging.String("body", n.frontend.Collision().Name()),
			logging.String("kind", n.frontend.Kind().String()))
	}
	return false
}

func (n *inertNode) ready() bool                                               { return false }
func (n *inertNode) actors() []physics.ActorHandle                             { return nil }
func (n *inertNode) markDirtyIfPoseChanged(*World)                             {}
func (n *inertNode) rebuildShapesIfDirty(context.Context, *World)              {}
func (n *inertNode) pullTransform(*World)                                      {}
func (n *inertNode) applyPendingCommands(context.Context, *World) int          { return 0 }
func (n *inertNode) pushPose(context.Context, *World, float64, transformCache) {}
func (n *inertNode) cleanup(*World)                                            {}

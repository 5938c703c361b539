package world

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/domain/scene"
	"physsync/backend/internal/core/port/out/physics"
	"physsync/backend/internal/logging"
)

// staticBody is an immovable actor. Its pose is pushed only when the scene
// pose moved away from the backend pose.
type staticBody struct {
	removal
	materialCap
	actorCap
	frontend *scene.StaticRigidBody
}

func (b *staticBody) node() scene.PhysicsNode { return b.frontend }

func (b *staticBody) init(ctx context.Context, w *World) bool {
	return initActorBody(ctx, w, &b.materialCap, &b.actorCap, b.frontend.Collision(), b.frontend.Material())
}

func (b *staticBody) markDirtyIfPoseChanged(w *World) {
	b.actorCap.markDirtyIfPoseChanged(w, b.frontend.Collision())
}

func (b *staticBody) rebuildShapesIfDirty(ctx context.Context, w *World) {
	b.shapes.rebuild(ctx, w, b.actor, b.frontend.Collision(), b.material, false)
}

func (b *staticBody) pullTransform(*World) {}

func (b *staticBody) applyPendingCommands(context.Context, *World) int { return 0 }

func (b *staticBody) pushPose(_ context.Context, w *World, _ float64, _ transformCache) {
	pose := worldPose(b.frontend.Collision().Node)
	if !posesEqual(pose, w.scene.GlobalPose(b.actor)) {
		w.scene.SetGlobalPose(b.actor, pose)
	}
	b.updateMaterial(w, b.frontend.Material())
}

func (b *staticBody) cleanup(w *World) {
	b.releaseActor(w)
	b.releaseMaterial(w)
}

// dynamicBody is a simulated actor driven by forces, or by its kinematic
// pose while kinematic.
type dynamicBody struct {
	removal
	materialCap
	actorCap
	frontend *scene.DynamicRigidBody
}

func (b *dynamicBody) node() scene.PhysicsNode { return b.frontend }

func (b *dynamicBody) init(ctx context.Context, w *World) bool {
	return initActorBody(ctx, w, &b.materialCap, &b.actorCap, b.frontend.Collision(), b.frontend.Material())
}

func (b *dynamicBody) markDirtyIfPoseChanged(w *World) {
	b.actorCap.markDirtyIfPoseChanged(w, b.frontend.Collision())
}

// rebuildShapesIfDirty rebuilds the shapes, then recomputes mass from the
// declared mass properties. Bodies holding static-only geometry get no mass
// and are forced kinematic.
func (b *dynamicBody) rebuildShapesIfDirty(ctx context.Context, w *World) {
	if !b.shapes.rebuild(ctx, w, b.actor, b.frontend.Collision(), b.material, false) {
		return
	}
	if !b.shapes.StaticOnly() {
		cmd := b.frontend.MassProperties().Command()
		if err := cmd.Execute(dynamicActor{w: w, actor: b.actor}); err != nil {
			w.diag(ctx, diagCommand, "mass properties rejected",
				logging.String("body", b.frontend.Name()), logging.String("command", cmd.Name()), logging.Err(err))
		}
	}
	b.enforceKinematic(ctx, w)

	kinematic := b.frontend.IsKinematic()
	w.scene.SetKinematic(b.actor, kinematic)
	if w.EnableCCD() && !kinematic {
		w.scene.SetCCD(b.actor, true)
	}
}

// enforceKinematic keeps bodies with static-only geometry kinematic.
func (b *dynamicBody) enforceKinematic(ctx context.Context, w *World) {
	if !b.shapes.StaticOnly() || b.frontend.IsKinematic() {
		return
	}
	w.diag(ctx, diagForcedKinem, "cannot make body containing trimesh/heightfield/plane non-kinematic, forcing kinematic",
		logging.String("body", b.frontend.Name()))
	b.frontend.SetKinematic(true)
	w.scene.SetKinematic(b.actor, true)
}

func (b *dynamicBody) pullTransform(w *World) {
	if b.frontend.IsKinematic() {
		return
	}
	setNodePose(b.frontend.Collision().Node, w.scene.GlobalPose(b.actor))
}

// applyPendingCommands drains the body's queue in enqueue order. A rejected
// command is reported and leaves the body unchanged.
func (b *dynamicBody) applyPendingCommands(ctx context.Context, w *World) int {
	cmds := b.frontend.TakeCommands()
	body := dynamicActor{w: w, actor: b.actor}
	for _, cmd := range cmds {
		if err := cmd.Execute(body); err != nil {
			w.diag(ctx, diagCommand, "command rejected",
				logging.String("body", b.frontend.Name()), logging.String("command", cmd.Name()), logging.Err(err))
		}
	}
	if len(cmds) > 0 {
		b.enforceKinematic(ctx, w)
	}
	return len(cmds)
}

func (b *dynamicBody) pushPose(ctx context.Context, w *World, _ float64, cache transformCache) {
	if b.frontend.IsKinematic() {
		m := cache.kinematicTransform(ctx, w, b.frontend.Collision().Node)
		w.scene.SetKinematicTarget(b.actor, poseFromMatrix(m))
	} else {
		w.scene.SetLockFlags(b.actor, lockFlags(b.frontend.AxisLocks()))
	}
	b.updateMaterial(w, b.frontend.Material())
}

func (b *dynamicBody) cleanup(w *World) {
	b.frontend.DiscardCommands()
	b.releaseActor(w)
	b.releaseMaterial(w)
}

// triggerBody is a static actor whose shapes only report overlaps. Its pose
// is pushed every sync.
type triggerBody struct {
	removal
	actorCap
	frontend *scene.TriggerBody
}

func (b *triggerBody) node() scene.PhysicsNode { return b.frontend }

func (b *triggerBody) init(ctx context.Context, w *World) bool {
	if err := b.createActor(w, b.frontend.Collision(), true); err != nil {
		w.diag(ctx, diagActorInit, "create trigger actor failed",
			logging.String("body", b.frontend.Name()), logging.Err(err))
		return false
	}
	return true
}

func (b *triggerBody) markDirtyIfPoseChanged(w *World) {
	b.actorCap.markDirtyIfPoseChanged(w, b.frontend.Collision())
}

func (b *triggerBody) rebuildShapesIfDirty(ctx context.Context, w *World) {
	b.shapes.rebuild(ctx, w, b.actor, b.frontend.Collision(), w.defaultMaterial, true)
}

func (b *triggerBody) pullTransform(*World) {}

func (b *triggerBody) applyPendingCommands(context.Context, *World) int { return 0 }

func (b *triggerBody) pushPose(_ context.Context, w *World, _ float64, _ transformCache) {
	w.scene.SetGlobalPose(b.actor, worldPose(b.frontend.Collision().Node))
}

func (b *triggerBody) cleanup(w *World) {
	b.releaseActor(w)
}

// characterBody wraps a backend capsule controller. It needs a capsule as
// the first declared shape and retries init every sync until it has one.
type characterBody struct {
	removal
	materialCap
	controllerCap
	frontend *scene.CharacterController
	warned   bool
}

func (b *characterBody) node() scene.PhysicsNode { return b.frontend }

func (b *characterBody) init(ctx context.Context, w *World) bool {
	var capsule *scene.CapsuleShape
	if shapes := b.frontend.Shapes(); len(shapes) > 0 {
		capsule, _ = shapes[0].(*scene.CapsuleShape)
	}
	if capsule == nil {
		if !b.warned {
			b.warned = true
			w.diag(ctx, diagCharacterInit, "character controller requires a capsule as its first shape",
				logging.String("body", b.frontend.Name()))
		}
		return false
	}

	if err := b.createMaterial(w, b.frontend.Material()); err != nil {
		w.diag(ctx, diagCharacterInit, "create character material failed",
			logging.String("body", b.frontend.Name()), logging.Err(err))
		return false
	}
	s := b.frontend.SceneScale()
	height := s.Y() * capsule.Height()
	h, err := w.scene.CreateController(physics.CapsuleControllerDesc{
		Position:   b.frontend.ScenePosition(),
		Radius:     s.X() * capsule.Diameter() / 2,
		Height:     height,
		StepOffset: height / 4,
		Material:   b.material,
	})
	if err != nil {
		b.releaseMaterial(w)
		w.diag(ctx, diagCharacterInit, "create character controller failed",
			logging.String("body", b.frontend.Name()), logging.Err(err))
		return false
	}
	b.controller = h
	b.actor = w.scene.ControllerActor(h)
	b.warned = false
	return true
}

func (b *characterBody) ready() bool { return b.controller != 0 }

func (b *characterBody) actors() []physics.ActorHandle {
	if b.actor == 0 {
		return nil
	}
	return []physics.ActorHandle{b.actor}
}

func (b *characterBody) markDirtyIfPoseChanged(*World) {}

func (b *characterBody) rebuildShapesIfDirty(context.Context, *World) {}

// pullTransform writes the controller position into the node, mapped into
// the parent's space.
func (b *characterBody) pullTransform(w *World) {
	pos := w.scene.ControllerPosition(b.controller)
	n := b.frontend.Collision().Node
	if parent := n.Parent(); parent != nil {
		pos = parent.MapPositionFromScene(pos)
	}
	n.SetPosition(pos)
}

func (b *characterBody) applyPendingCommands(context.Context, *World) int { return 0 }

// pushPose applies a pending teleport, or else moves the controller by the
// displacement requested for dt and records the collision sides.
func (b *characterBody) pushPose(_ context.Context, w *World, dt float64, _ transformCache) {
	if pos, ok := b.frontend.TakeTeleport(); ok {
		w.scene.SetControllerPosition(b.controller, pos)
	} else if dt > 0 {
		d := b.frontend.Displacement(dt)
		flags := w.scene.MoveController(b.controller, d, d.Len()/100, dt)
		b.frontend.SetCollisions(scene.CollisionFlags(flags))
	}
	b.updateMaterial(w, b.frontend.Material())
}

func (b *characterBody) cleanup(w *World) {
	b.releaseController(w)
	b.releaseMaterial(w)
}

func initActorBody(ctx context.Context, w *World, mc *materialCap, ac *actorCap, n *scene.CollisionNode, m *scene.Material) bool {
	if err := mc.createMaterial(w, m); err != nil {
		w.diag(ctx, diagActorInit, "create material failed", logging.String("body", n.Name()), logging.Err(err))
		return false
	}
	_, static := n.PhysicsNode().(*scene.StaticRigidBody)
	if err := ac.createActor(w, n, static); err != nil {
		mc.releaseMaterial(w)
		w.diag(ctx, diagActorInit, "create actor failed", logging.String("body", n.Name()), logging.Err(err))
		return false
	}
	return true
}

// setNodePose writes a scene-space pose into n's local position and
// rotation, keeping its pivot in place.
func setNodePose(n *scene.Node, pose physics.Pose) {
	pos, rot := pose.P, pose.Q
	if parent := n.Parent(); parent != nil {
		pos = parent.MapPositionFromScene(pos)
		rot = parent.MapRotationFromScene(rot)
	}
	if pivot := n.Pivot(); pivot != (mgl64.Vec3{}) {
		s := n.Scale()
		pos = pos.Add(rot.Rotate(mgl64.Vec3{s[0] * pivot[0], s[1] * pivot[1], s[2] * pivot[2]}))
	}
	n.SetPosition(pos)
	n.SetRotation(rot)
}

func lockFlags(linear, angular scene.AxisLock) physics.LockFlags {
	var f physics.LockFlags
	if linear&scene.LockX != 0 {
		f |= physics.LockLinearX
	}
	if linear&scene.LockY != 0 {
		f |= physics.LockLinearY
	}
	if linear&scene.LockZ != 0 {
		f |= physics.LockLinearZ
	}
	if angular&scene.LockX != 0 {
		f |= physics.LockAngularX
	}
	if angular&scene.LockY != 0 {
		f |= physics.LockAngularY
	}
	if angular&scene.LockZ != 0 {
		f |= physics.LockAngularZ
	}
	return f
}

package scene

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/domain/command"
	"physsync/backend/internal/core/port/out/physics"
)

// AxisLock freezes motion along individual axes.
type AxisLock uint8

const (
	LockX AxisLock = 1 << iota
	LockY
	LockZ
)

// StaticRigidBody is an immovable body. Moving its node teleports the
// backend actor.
type StaticRigidBody struct {
	CollisionNode
	material *Material
}

func NewStaticRigidBody(name string) *StaticRigidBody {
	b := &StaticRigidBody{}
	b.setup(name, b)
	return b
}

func (b *StaticRigidBody) Kind() Kind                { return KindStatic }
func (b *StaticRigidBody) Collision() *CollisionNode { return &b.CollisionNode }

// Material returns the body material, nil meaning the world default.
func (b *StaticRigidBody) Material() *Material {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.material
}

func (b *StaticRigidBody) SetMaterial(m *Material) {
	b.mu.Lock()
	b.material = m
	b.mu.Unlock()
}

// DynamicRigidBody is a simulated body. Mutations that must reach the
// backend are queued as commands and applied during the next sync.
type DynamicRigidBody struct {
	CollisionNode
	material *Material

	state    sync.Mutex
	mass     float64
	density  float64
	com      physics.Pose
	tensor   *mgl64.Vec3
	matrix   *mgl64.Mat3
	linVel   mgl64.Vec3
	angVel   mgl64.Vec3
	gravity  bool
	linLock  AxisLock
	angLock  AxisLock
	kinState kinematicState

	commands command.Queue
}

type kinematicState struct {
	enabled  bool
	position mgl64.Vec3
	rotation mgl64.Quat
	pivot    mgl64.Vec3
}

func NewDynamicRigidBody(name string) *DynamicRigidBody {
	b := &DynamicRigidBody{
		mass:     -1,
		density:  -1,
		com:      physics.IdentityPose(),
		gravity:  true,
		kinState: kinematicState{rotation: mgl64.QuatIdent()},
	}
	b.setup(name, b)
	return b
}

func (b *DynamicRigidBody) Kind() Kind                { return KindDynamic }
func (b *DynamicRigidBody) Collision() *CollisionNode { return &b.CollisionNode }

func (b *DynamicRigidBody) Material() *Material {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.material
}

func (b *DynamicRigidBody) SetMaterial(m *Material) {
	b.mu.Lock()
	b.material = m
	b.mu.Unlock()
}

// MassProperties returns the declared mass configuration.
func (b *DynamicRigidBody) MassProperties() command.MassProperties {
	b.state.Lock()
	defer b.state.Unlock()
	return b.massPropertiesLocked()
}

func (b *DynamicRigidBody) massPropertiesLocked() command.MassProperties {
	return command.MassProperties{
		Mass:          b.mass,
		Density:       b.density,
		CenterOfMass:  b.com,
		InertiaTensor: b.tensor,
		InertiaMatrix: b.matrix,
	}
}

func (b *DynamicRigidBody) Mass() float64 {
	b.state.Lock()
	defer b.state.Unlock()
	return b.mass
}

// SetMass sets an explicit mass. A non-positive mass falls back to density.
func (b *DynamicRigidBody) SetMass(mass float64) {
	b.state.Lock()
	defer b.state.Unlock()
	if b.mass <= 0 && mass <= 0 {
		b.mass = mass
		return
	}
	b.mass = mass
	b.commands.Enqueue(b.massPropertiesLocked().Command())
}

func (b *DynamicRigidBody) Density() float64 {
	b.state.Lock()
	defer b.state.Unlock()
	return b.density
}

// SetDensity sets an explicit density. A non-positive density falls back to
// the world default.
func (b *DynamicRigidBody) SetDensity(density float64) {
	b.state.Lock()
	defer b.state.Unlock()
	if b.density <= 0 && density <= 0 {
		b.density = density
		return
	}
	b.density = density
	b.commands.Enqueue(b.massPropertiesLocked().Command())
}

// SetCenterOfMass sets the centre-of-mass pose used with explicit inertia.
func (b *DynamicRigidBody) SetCenterOfMass(position mgl64.Vec3, rotation mgl64.Quat) {
	b.state.Lock()
	defer b.state.Unlock()
	b.com = physics.Pose{P: position, Q: rotation.Normalize()}
	b.enqueueExplicitMassLocked()
}

// SetInertiaTensor sets a diagonal inertia tensor used with an explicit mass.
func (b *DynamicRigidBody) SetInertiaTensor(t mgl64.Vec3) {
	b.state.Lock()
	defer b.state.Unlock()
	b.tensor = &t
	b.enqueueExplicitMassLocked()
}

// SetInertiaMatrix sets a full inertia matrix used with an explicit mass. It
// takes precedence over the inertia tensor.
func (b *DynamicRigidBody) SetInertiaMatrix(m mgl64.Mat3) {
	b.state.Lock()
	defer b.state.Unlock()
	b.matrix = &m
	b.enqueueExplicitMassLocked()
}

func (b *DynamicRigidBody) enqueueExplicitMassLocked() {
	if b.mass > 0 {
		b.commands.Enqueue(b.massPropertiesLocked().Command())
	}
}

// RefreshDefaultDensity queues a density update for bodies relying on the
// world default.
func (b *DynamicRigidBody) RefreshDefaultDensity() {
	b.state.Lock()
	defer b.state.Unlock()
	if b.mass <= 0 && b.density <= 0 {
		b.commands.Enqueue(command.SetDensity{})
	}
}

func (b *DynamicRigidBody) IsKinematic() bool {
	b.state.Lock()
	defer b.state.Unlock()
	return b.kinState.enabled
}

func (b *DynamicRigidBody) SetKinematic(kinematic bool) {
	b.state.Lock()
	defer b.state.Unlock()
	if b.kinState.enabled == kinematic {
		return
	}
	b.kinState.enabled = kinematic
	b.commands.Enqueue(command.SetIsKinematic{Kinematic: kinematic})
}

// KinematicTransform returns the local pose that drives the body while it is
// kinematic.
func (b *DynamicRigidBody) KinematicTransform() (position mgl64.Vec3, rotation mgl64.Quat, pivot mgl64.Vec3) {
	b.state.Lock()
	defer b.state.Unlock()
	return b.kinState.position, b.kinState.rotation, b.kinState.pivot
}

func (b *DynamicRigidBody) SetKinematicPosition(p mgl64.Vec3) {
	b.state.Lock()
	b.kinState.position = p
	b.state.Unlock()
}

func (b *DynamicRigidBody) SetKinematicRotation(q mgl64.Quat) {
	b.state.Lock()
	b.kinState.rotation = q.Normalize()
	b.state.Unlock()
}

func (b *DynamicRigidBody) SetKinematicEulerRotation(deg mgl64.Vec3) {
	b.SetKinematicRotation(EulerRotation(deg))
}

func (b *DynamicRigidBody) SetKinematicPivot(p mgl64.Vec3) {
	b.state.Lock()
	b.kinState.pivot = p
	b.state.Unlock()
}

func (b *DynamicRigidBody) GravityEnabled() bool {
	b.state.Lock()
	defer b.state.Unlock()
	return b.gravity
}

func (b *DynamicRigidBody) SetGravityEnabled(enabled bool) {
	b.state.Lock()
	defer b.state.Unlock()
	if b.gravity == enabled {
		return
	}
	b.gravity = enabled
	b.commands.Enqueue(command.SetGravityEnabled{Enabled: enabled})
}

// LinearVelocity returns the last velocity set from the scene side.
func (b *DynamicRigidBody) LinearVelocity() mgl64.Vec3 {
	b.state.Lock()
	defer b.state.Unlock()
	return b.linVel
}

func (b *DynamicRigidBody) SetLinearVelocity(v mgl64.Vec3) {
	b.state.Lock()
	defer b.state.Unlock()
	b.linVel = v
	b.commands.Enqueue(command.SetLinearVelocity{Velocity: v})
}

func (b *DynamicRigidBody) AngularVelocity() mgl64.Vec3 {
	b.state.Lock()
	defer b.state.Unlock()
	return b.angVel
}

func (b *DynamicRigidBody) SetAngularVelocity(v mgl64.Vec3) {
	b.state.Lock()
	defer b.state.Unlock()
	b.angVel = v
	b.commands.Enqueue(command.SetAngularVelocity{Velocity: v})
}

// AxisLocks returns the linear and angular axis locks.
func (b *DynamicRigidBody) AxisLocks() (linear, angular AxisLock) {
	b.state.Lock()
	defer b.state.Unlock()
	return b.linLock, b.angLock
}

func (b *DynamicRigidBody) SetLinearAxisLock(l AxisLock) {
	b.state.Lock()
	b.linLock = l
	b.state.Unlock()
}

func (b *DynamicRigidBody) SetAngularAxisLock(l AxisLock) {
	b.state.Lock()
	b.angLock = l
	b.state.Unlock()
}

func (b *DynamicRigidBody) ApplyCentralForce(f mgl64.Vec3) {
	b.commands.Enqueue(command.ApplyCentralForce{Force: f})
}

// ApplyForce applies f at a scene-space position.
func (b *DynamicRigidBody) ApplyForce(f, position mgl64.Vec3) {
	b.commands.Enqueue(command.ApplyForce{Force: f, Position: position})
}

func (b *DynamicRigidBody) ApplyTorque(t mgl64.Vec3) {
	b.commands.Enqueue(command.ApplyTorque{Torque: t})
}

func (b *DynamicRigidBody) ApplyCentralImpulse(i mgl64.Vec3) {
	b.commands.Enqueue(command.ApplyCentralImpulse{Impulse: i})
}

// ApplyImpulse applies i at a scene-space position.
func (b *DynamicRigidBody) ApplyImpulse(i, position mgl64.Vec3) {
	b.commands.Enqueue(command.ApplyImpulse{Impulse: i, Position: position})
}

func (b *DynamicRigidBody) ApplyTorqueImpulse(i mgl64.Vec3) {
	b.commands.Enqueue(command.ApplyTorqueImpulse{Impulse: i})
}

// Reset stops the body and moves it to a scene-space position and rotation
// given in degrees.
func (b *DynamicRigidBody) Reset(position, eulerRotation mgl64.Vec3) {
	b.commands.Enqueue(command.Reset{Pose: physics.Pose{P: position, Q: EulerRotation(eulerRotation)}})
}

// TakeCommands removes and returns the queued commands in enqueue order.
func (b *DynamicRigidBody) TakeCommands() []command.Command {
	return b.commands.Drain()
}

// DiscardCommands drops the queued commands unapplied.
func (b *DynamicRigidBody) DiscardCommands() int {
	return b.commands.Discard()
}

// PendingCommands returns the number of queued commands.
func (b *DynamicRigidBody) PendingCommands() int {
	return b.commands.Len()
}

// TriggerBody reports other bodies entering and leaving its shapes without
// colliding with them.
type TriggerBody struct {
	CollisionNode

	overlapMu   sync.Mutex
	overlapping map[PhysicsNode]struct{}
	onEntered   []func(PhysicsNode)
	onExited    []func(PhysicsNode)
}

func NewTriggerBody(name string) *TriggerBody {
	b := &TriggerBody{overlapping: make(map[PhysicsNode]struct{})}
	b.setup(name, b)
	return b
}

func (b *TriggerBody) Kind() Kind                { return KindTrigger }
func (b *TriggerBody) Collision() *CollisionNode { return &b.CollisionNode }

func (b *TriggerBody) OnBodyEntered(fn func(PhysicsNode)) {
	b.overlapMu.Lock()
	b.onEntered = append(b.onEntered, fn)
	b.overlapMu.Unlock()
}

func (b *TriggerBody) OnBodyExited(fn func(PhysicsNode)) {
	b.overlapMu.Lock()
	b.onExited = append(b.onExited, fn)
	b.overlapMu.Unlock()
}

// CollisionCount returns the number of bodies currently inside the trigger.
func (b *TriggerBody) CollisionCount() int {
	b.overlapMu.Lock()
	defer b.overlapMu.Unlock()
	return len(b.overlapping)
}

// Overlapping reports whether other is inside the trigger.
func (b *TriggerBody) Overlapping(other PhysicsNode) bool {
	b.overlapMu.Lock()
	defer b.overlapMu.Unlock()
	_, ok := b.overlapping[other]
	return ok
}

// RegisterOverlap adds other to the overlap set. Observers run only when the
// set changed.
func (b *TriggerBody) RegisterOverlap(other PhysicsNode) bool {
	b.overlapMu.Lock()
	if _, ok := b.overlapping[other]; ok {
		b.overlapMu.Unlock()
		return false
	}
	b.overlapping[other] = struct{}{}
	handlers := append([]func(PhysicsNode){}, b.onEntered...)
	b.overlapMu.Unlock()

	for _, fn := range handlers {
		fn(other)
	}
	return true
}

// DeregisterOverlap removes other from the overlap set. Observers run only
// when the set changed.
func (b *TriggerBody) DeregisterOverlap(other PhysicsNode) bool {
	b.overlapMu.Lock()
	if _, ok := b.overlapping[other]; !ok {
		b.overlapMu.Unlock()
		return false
	}
	delete(b.overlapping, other)
	handlers := append([]func(PhysicsNode){}, b.onExited...)
	b.overlapMu.Unlock()

	for _, fn := range handlers {
		fn(other)
	}
	return true
}

package physics

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrUnknownActor is returned when a handle does not name a live actor.
	ErrUnknownActor = errors.New("physics: unknown actor")
	// ErrInvalidGeometry is returned when a geometry cannot back a shape.
	ErrInvalidGeometry = errors.New("physics: invalid geometry")
	// ErrNoController is returned when a handle does not name a live controller.
	ErrNoController = errors.New("physics: unknown controller")
)

// Handles are opaque identifiers issued by the backend. Zero is never issued.
type (
	ActorHandle      uint64
	ShapeHandle      uint64
	MaterialHandle   uint64
	ControllerHandle uint64
)

// Pose is a rigid transform without scale.
type Pose struct {
	P mgl64.Vec3
	Q mgl64.Quat
}

// IdentityPose returns the pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Q: mgl64.QuatIdent()}
}

// Transform maps a point from pose-local space into the parent space.
func (p Pose) Transform(v mgl64.Vec3) mgl64.Vec3 {
	return p.Q.Rotate(v).Add(p.P)
}

// Mul composes p with a pose expressed in p's local frame.
func (p Pose) Mul(local Pose) Pose {
	return Pose{
		P: p.Transform(local.P),
		Q: p.Q.Mul(local.Q).Normalize(),
	}
}

// Inverse returns the pose that undoes p.
func (p Pose) Inverse() Pose {
	qi := p.Q.Inverse()
	return Pose{P: qi.Rotate(p.P.Mul(-1)), Q: qi}
}

// ShapeFlags selects how a shape participates in the simulation.
type ShapeFlags uint8

const (
	ShapeSimulation ShapeFlags = 1 << iota
	ShapeTrigger
)

// CollisionFlags reports which sides of a character controller touched
// geometry during a move.
type CollisionFlags uint8

const (
	CollisionNone  CollisionFlags = 0
	CollisionSides CollisionFlags = 1
	CollisionUp    CollisionFlags = 2
	CollisionDown  CollisionFlags = 4
)

// LockFlags freezes individual linear or angular axes of a dynamic actor.
type LockFlags uint8

const (
	LockLinearX LockFlags = 1 << iota
	LockLinearY
	LockLinearZ
	LockAngularX
	LockAngularY
	LockAngularZ
)

// ForceMode selects whether a force is integrated over the step or applied
// as an instantaneous impulse.
type ForceMode int

const (
	ModeForce ForceMode = iota
	ModeImpulse
)

// SceneDesc configures a backend scene.
type SceneDesc struct {
	Gravity       mgl64.Vec3
	TypicalLength float64
	TypicalSpeed  float64
	EnableCCD     bool
	Events        EventHandler
}

// CapsuleControllerDesc configures a character controller.
type CapsuleControllerDesc struct {
	Position   mgl64.Vec3
	Radius     float64
	Height     float64
	StepOffset float64
	Material   MaterialHandle
}

// Engine is the process-wide physics object. Shapes and materials created by
// an Engine may be used by any of its scenes.
type Engine interface {
	CreateScene(desc SceneDesc) (Scene, error)

	CreateMaterial(staticFriction, dynamicFriction, restitution float64) (MaterialHandle, error)
	UpdateMaterial(h MaterialHandle, staticFriction, dynamicFriction, restitution float64)
	ReleaseMaterial(h MaterialHandle)

	CreateShape(geom Geometry, mat MaterialHandle) (ShapeHandle, error)
	ReleaseShape(h ShapeHandle)
	SetShapeLocalPose(h ShapeHandle, pose Pose)
	ShapeLocalPose(h ShapeHandle) Pose
	SetShapeFlags(h ShapeHandle, flags ShapeFlags)

	Close() error
}

// Scene is one simulated world inside an Engine.
type Scene interface {
	ActorAPI
	BodyAPI
	ControllerAPI

	SetGravity(g mgl64.Vec3)
	// Step starts advancing the simulation by dt seconds.
	Step(dt float64)
	// FetchResults reports whether the last step finished, blocking until it
	// does when block is set.
	FetchResults(block bool) bool
	Release()
}

// ActorAPI manages actor lifetime, shapes and poses.
type ActorAPI interface {
	CreateActor(pose Pose, static bool) (ActorHandle, error)
	DestroyActor(a ActorHandle)
	AttachShape(a ActorHandle, s ShapeHandle)
	DetachShape(a ActorHandle, s ShapeHandle)

	GlobalPose(a ActorHandle) Pose
	SetGlobalPose(a ActorHandle, pose Pose)
	SetKinematicTarget(a ActorHandle, pose Pose)
}

// BodyAPI covers the dynamic-actor state mutated by commands and sync.
type BodyAPI interface {
	IsKinematic(a ActorHandle) bool
	SetKinematic(a ActorHandle, kinematic bool)
	SetGravityEnabled(a ActorHandle, enabled bool)
	SetCCD(a ActorHandle, enabled bool)
	SetLockFlags(a ActorHandle, flags LockFlags)

	LinearVelocity(a ActorHandle) mgl64.Vec3
	AngularVelocity(a ActorHandle) mgl64.Vec3
	SetLinearVelocity(a ActorHandle, v mgl64.Vec3)
	SetAngularVelocity(a ActorHandle, v mgl64.Vec3)

	AddForce(a ActorHandle, f mgl64.Vec3, mode ForceMode)
	AddForceAtPos(a ActorHandle, f, pos mgl64.Vec3, mode ForceMode)
	AddTorque(a ActorHandle, t mgl64.Vec3, mode ForceMode)

	Mass(a ActorHandle) float64
	SetMassAndUpdateInertia(a ActorHandle, mass float64)
	UpdateMassAndInertia(a ActorHandle, density float64)
	SetMass(a ActorHandle, mass float64)
	SetCMassLocalPose(a ActorHandle, pose Pose)
	SetMassSpaceInertiaTensor(a ActorHandle, tensor mgl64.Vec3)
}

// ControllerAPI is the character-controller sub-API.
type ControllerAPI interface {
	CreateController(desc CapsuleControllerDesc) (ControllerHandle, error)
	ReleaseController(c ControllerHandle)
	ControllerActor(c ControllerHandle) ActorHandle
	MoveController(c ControllerHandle, disp mgl64.Vec3, minDist, dt float64) CollisionFlags
	ControllerPosition(c ControllerHandle) mgl64.Vec3
	SetControllerPosition(c ControllerHandle, pos mgl64.Vec3)
}

// Package command holds the deferred mutations a scene node queues for its
// backend body. Commands are values; they run once, in enqueue order, during
// the world sync pass.
package command

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/port/out/physics"
)

// ErrNonPositiveInertia rejects an inertia matrix whose principal moments are
// not all positive.
var ErrNonPositiveInertia = errors.New("inertia matrix has non-positive principal moments")

// Body is the backend view of one dynamic actor.
type Body interface {
	IsKinematic() bool
	SetKinematic(kinematic bool)
	SetGravityEnabled(enabled bool)

	SetLinearVelocity(v mgl64.Vec3)
	SetAngularVelocity(v mgl64.Vec3)

	AddForce(f mgl64.Vec3, mode physics.ForceMode)
	AddForceAtPos(f, pos mgl64.Vec3, mode physics.ForceMode)
	AddTorque(t mgl64.Vec3, mode physics.ForceMode)

	SetMassAndUpdateInertia(mass float64)
	UpdateMassAndInertia(density float64)
	SetMass(mass float64)
	SetCMassLocalPose(pose physics.Pose)
	SetMassSpaceInertiaTensor(tensor mgl64.Vec3)

	SetGlobalPose(pose physics.Pose)

	// DefaultDensity is the world density used when a body declares none.
	DefaultDensity() float64
}

// Command is one deferred mutation.
type Command interface {
	Execute(b Body) error
	Name() string
}

type ApplyCentralForce struct{ Force mgl64.Vec3 }

func (c ApplyCentralForce) Name() string { return "ApplyCentralForce" }

func (c ApplyCentralForce) Execute(b Body) error {
	if b.IsKinematic() {
		return nil
	}
	b.AddForce(c.Force, physics.ModeForce)
	return nil
}

type ApplyForce struct{ Force, Position mgl64.Vec3 }

func (c ApplyForce) Name() string { return "ApplyForce" }

func (c ApplyForce) Execute(b Body) error {
	if b.IsKinematic() {
		return nil
	}
	b.AddForceAtPos(c.Force, c.Position, physics.ModeForce)
	return nil
}

type ApplyTorque struct{ Torque mgl64.Vec3 }

func (c ApplyTorque) Name() string { return "ApplyTorque" }

func (c ApplyTorque) Execute(b Body) error {
	if b.IsKinematic() {
		return nil
	}
	b.AddTorque(c.Torque, physics.ModeForce)
	return nil
}

type ApplyCentralImpulse struct{ Impulse mgl64.Vec3 }

func (c ApplyCentralImpulse) Name() string { return "ApplyCentralImpulse" }

func (c ApplyCentralImpulse) Execute(b Body) error {
	if b.IsKinematic() {
		return nil
	}
	b.AddForce(c.Impulse, physics.ModeImpulse)
	return nil
}

type ApplyImpulse struct{ Impulse, Position mgl64.Vec3 }

func (c ApplyImpulse) Name() string { return "ApplyImpulse" }

func (c ApplyImpulse) Execute(b Body) error {
	if b.IsKinematic() {
		return nil
	}
	b.AddForceAtPos(c.Impulse, c.Position, physics.ModeImpulse)
	return nil
}

type ApplyTorqueImpulse struct{ Impulse mgl64.Vec3 }

func (c ApplyTorqueImpulse) Name() string { return "ApplyTorqueImpulse" }

func (c ApplyTorqueImpulse) Execute(b Body) error {
	if b.IsKinematic() {
		return nil
	}
	b.AddTorque(c.Impulse, physics.ModeImpulse)
	return nil
}

type SetLinearVelocity struct{ Velocity mgl64.Vec3 }

func (c SetLinearVelocity) Name() string { return "SetLinearVelocity" }

func (c SetLinearVelocity) Execute(b Body) error {
	b.SetLinearVelocity(c.Velocity)
	return nil
}

type SetAngularVelocity struct{ Velocity mgl64.Vec3 }

func (c SetAngularVelocity) Name() string { return "SetAngularVelocity" }

func (c SetAngularVelocity) Execute(b Body) error {
	b.SetAngularVelocity(c.Velocity)
	return nil
}

type SetIsKinematic struct{ Kinematic bool }

func (c SetIsKinematic) Name() string { return "SetIsKinematic" }

func (c SetIsKinematic) Execute(b Body) error {
	b.SetKinematic(c.Kinematic)
	return nil
}

type SetGravityEnabled struct{ Enabled bool }

func (c SetGravityEnabled) Name() string { return "SetGravityEnabled" }

func (c SetGravityEnabled) Execute(b Body) error {
	b.SetGravityEnabled(c.Enabled)
	return nil
}

// SetMass sets the mass and derives inertia from the attached shapes.
type SetMass struct{ Mass float64 }

func (c SetMass) Name() string { return "SetMass" }

func (c SetMass) Execute(b Body) error {
	b.SetMassAndUpdateInertia(math.Max(c.Mass, 0))
	return nil
}

// SetDensity derives mass and inertia from shape volumes. A non-positive
// density selects the world default.
type SetDensity struct{ Density float64 }

func (c SetDensity) Name() string { return "SetDensity" }

func (c SetDensity) Execute(b Body) error {
	density := c.Density
	if density <= 0 {
		density = b.DefaultDensity()
	}
	b.UpdateMassAndInertia(density)
	return nil
}

// SetMassAndInertiaTensor sets the mass, centre of mass and a diagonal inertia
// tensor expressed in the centre-of-mass frame.
type SetMassAndInertiaTensor struct {
	Mass         float64
	CenterOfMass physics.Pose
	Tensor       mgl64.Vec3
}

func (c SetMassAndInertiaTensor) Name() string { return "SetMassAndInertiaTensor" }

func (c SetMassAndInertiaTensor) Execute(b Body) error {
	b.SetMass(math.Max(c.Mass, 0))
	b.SetCMassLocalPose(c.CenterOfMass)
	b.SetMassSpaceInertiaTensor(c.Tensor)
	return nil
}

// SetMassAndInertiaMatrix sets the mass and a full inertia matrix. The matrix
// is diagonalized; its principal axes rotate the centre-of-mass frame.
type SetMassAndInertiaMatrix struct {
	Mass         float64
	CenterOfMass physics.Pose
	Inertia      mgl64.Mat3
}

func (c SetMassAndInertiaMatrix) Name() string { return "SetMassAndInertiaMatrix" }

func (c SetMassAndInertiaMatrix) Execute(b Body) error {
	moments, axes := Diagonalize(c.Inertia)
	if moments.X() <= 0 || moments.Y() <= 0 || moments.Z() <= 0 {
		return ErrNonPositiveInertia
	}
	b.SetMass(math.Max(c.Mass, 0))
	b.SetCMassLocalPose(physics.Pose{
		P: c.CenterOfMass.P,
		Q: c.CenterOfMass.Q.Mul(axes).Normalize(),
	})
	b.SetMassSpaceInertiaTensor(moments)
	return nil
}

// Reset zeroes both velocities and teleports the body.
type Reset struct{ Pose physics.Pose }

func (c Reset) Name() string { return "Reset" }

func (c Reset) Execute(b Body) error {
	b.SetLinearVelocity(mgl64.Vec3{})
	b.SetAngularVelocity(mgl64.Vec3{})
	b.SetGlobalPose(c.Pose)
	return nil
}

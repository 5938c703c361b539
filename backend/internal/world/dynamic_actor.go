package world

import (
	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/port/out/physics"
)

// dynamicActor binds one backend actor to the command.Body interface.
type dynamicActor struct {
	w     *World
	actor physics.ActorHandle
}

func (a dynamicActor) IsKinematic() bool           { return a.w.scene.IsKinematic(a.actor) }
func (a dynamicActor) SetKinematic(kinematic bool) { a.w.scene.SetKinematic(a.actor, kinematic) }
func (a dynamicActor) SetGravityEnabled(enabled bool) {
	a.w.scene.SetGravityEnabled(a.actor, enabled)
}

func (a dynamicActor) SetLinearVelocity(v mgl64.Vec3)  { a.w.scene.SetLinearVelocity(a.actor, v) }
func (a dynamicActor) SetAngularVelocity(v mgl64.Vec3) { a.w.scene.SetAngularVelocity(a.actor, v) }

func (a dynamicActor) AddForce(f mgl64.Vec3, mode physics.ForceMode) {
	a.w.scene.AddForce(a.actor, f, mode)
}

func (a dynamicActor) AddForceAtPos(f, pos mgl64.Vec3, mode physics.ForceMode) {
	a.w.scene.AddForceAtPos(a.actor, f, pos, mode)
}

func (a dynamicActor) AddTorque(t mgl64.Vec3, mode physics.ForceMode) {
	a.w.scene.AddTorque(a.actor, t, mode)
}

func (a dynamicActor) SetMassAndUpdateInertia(mass float64) {
	a.w.scene.SetMassAndUpdateInertia(a.actor, mass)
}

func (a dynamicActor) UpdateMassAndInertia(density float64) {
	a.w.scene.UpdateMassAndInertia(a.actor, density)
}

func (a dynamicActor) SetMass(mass float64) { a.w.scene.SetMass(a.actor, mass) }

func (a dynamicActor) SetCMassLocalPose(pose physics.Pose) {
	a.w.scene.SetCMassLocalPose(a.actor, pose)
}

func (a dynamicActor) SetMassSpaceInertiaTensor(tensor mgl64.Vec3) {
	a.w.scene.SetMassSpaceInertiaTensor(a.actor, tensor)
}

func (a dynamicActor) SetGlobalPose(pose physics.Pose) { a.w.scene.SetGlobalPose(a.actor, pose) }

func (a dynamicActor) DefaultDensity() float64 { return a.w.DefaultDensity() }

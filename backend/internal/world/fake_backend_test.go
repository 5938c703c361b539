package world

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/port/out/physics"
)

// call is one recorded backend invocation.
type call struct {
	op    string
	actor physics.ActorHandle
	shape physics.ShapeHandle
	pose  physics.Pose
	vec   mgl64.Vec3
}

type fakeActor struct {
	pose      physics.Pose
	static    bool
	kinematic bool
	mass      float64
	linVel    mgl64.Vec3
	shapes    []physics.ShapeHandle
}

// fakeEngine records every call and keeps just enough state to answer
// queries.
type fakeEngine struct {
	mu        sync.Mutex
	next      uint64
	calls     []call
	materials map[physics.MaterialHandle]bool
	shapes    map[physics.ShapeHandle]physics.Pose
	scene     *fakeScene
	closed    bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		materials: make(map[physics.MaterialHandle]bool),
		shapes:    make(map[physics.ShapeHandle]physics.Pose),
	}
}

func (e *fakeEngine) factory() physics.EngineFactory {
	return func() (physics.Engine, error) { return e, nil }
}

func (e *fakeEngine) id() uint64 {
	e.next++
	return e.next
}

func (e *fakeEngine) record(c call) {
	e.calls = append(e.calls, c)
}

// ops returns the recorded operations touching actor, or every operation
// when actor is zero.
func (e *fakeEngine) ops(actor physics.ActorHandle) []call {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []call
	for _, c := range e.calls {
		if actor == 0 || c.actor == actor {
			out = append(out, c)
		}
	}
	return out
}

func (e *fakeEngine) CreateScene(desc physics.SceneDesc) (physics.Scene, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scene = &fakeScene{engine: e, desc: desc, actors: make(map[physics.ActorHandle]*fakeActor)}
	return e.scene, nil
}

func (e *fakeEngine) CreateMaterial(_, _, _ float64) (physics.MaterialHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := physics.MaterialHandle(e.id())
	e.materials[h] = true
	return h, nil
}

func (e *fakeEngine) UpdateMaterial(physics.MaterialHandle, float64, float64, float64) {}

func (e *fakeEngine) ReleaseMaterial(h physics.MaterialHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.materials, h)
	e.record(call{op: "ReleaseMaterial"})
}

func (e *fakeEngine) CreateShape(geom physics.Geometry, _ physics.MaterialHandle) (physics.ShapeHandle, error) {
	if err := geom.Validate(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h := physics.ShapeHandle(e.id())
	e.shapes[h] = physics.IdentityPose()
	return h, nil
}

func (e *fakeEngine) ReleaseShape(h physics.ShapeHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.shapes, h)
	e.record(call{op: "ReleaseShape", shape: h})
}

func (e *fakeEngine) SetShapeLocalPose(h physics.ShapeHandle, pose physics.Pose) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shapes[h] = pose
}

func (e *fakeEngine) ShapeLocalPose(h physics.ShapeHandle) physics.Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shapes[h]
}

func (e *fakeEngine) SetShapeFlags(h physics.ShapeHandle, _ physics.ShapeFlags) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(call{op: "SetShapeFlags", shape: h})
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type fakeScene struct {
	engine *fakeEngine
	desc   physics.SceneDesc
	actors map[physics.ActorHandle]*fakeActor
	// onStep runs inside Step, where a real backend reports events.
	onStep func(events physics.EventHandler)
	steps  int
}

func (s *fakeScene) lock() func() {
	s.engine.mu.Lock()
	return s.engine.mu.Unlock
}

func (s *fakeScene) actor(h physics.ActorHandle) *fakeActor {
	a, ok := s.actors[h]
	if !ok {
		panic(fmt.Sprintf("fake backend: unknown actor %d", h))
	}
	return a
}

func (s *fakeScene) CreateActor(pose physics.Pose, static bool) (physics.ActorHandle, error) {
	defer s.lock()()
	h := physics.ActorHandle(s.engine.id())
	s.actors[h] = &fakeActor{pose: pose, static: static, mass: 1}
	s.engine.record(call{op: "CreateActor", actor: h, pose: pose})
	return h, nil
}

func (s *fakeScene) DestroyActor(a physics.ActorHandle) {
	defer s.lock()()
	delete(s.actors, a)
	s.engine.record(call{op: "DestroyActor", actor: a})
}

func (s *fakeScene) AttachShape(a physics.ActorHandle, sh physics.ShapeHandle) {
	defer s.lock()()
	s.actor(a).shapes = append(s.actor(a).shapes, sh)
	s.engine.record(call{op: "AttachShape", actor: a, shape: sh})
}

func (s *fakeScene) DetachShape(a physics.ActorHandle, sh physics.ShapeHandle) {
	defer s.lock()()
	act := s.actor(a)
	for i, have := range act.shapes {
		if have == sh {
			act.shapes = append(act.shapes[:i], act.shapes[i+1:]...)
			break
		}
	}
	s.engine.record(call{op: "DetachShape", actor: a, shape: sh})
}

func (s *fakeScene) GlobalPose(a physics.ActorHandle) physics.Pose {
	defer s.lock()()
	return s.actor(a).pose
}

func (s *fakeScene) SetGlobalPose(a physics.ActorHandle, pose physics.Pose) {
	defer s.lock()()
	s.actor(a).pose = pose
	s.engine.record(call{op: "SetGlobalPose", actor: a, pose: pose})
}

func (s *fakeScene) SetKinematicTarget(a physics.ActorHandle, pose physics.Pose) {
	defer s.lock()()
	s.engine.record(call{op: "SetKinematicTarget", actor: a, pose: pose})
}

func (s *fakeScene) IsKinematic(a physics.ActorHandle) bool {
	defer s.lock()()
	return s.actor(a).kinematic
}

func (s *fakeScene) SetKinematic(a physics.ActorHandle, kinematic bool) {
	defer s.lock()()
	s.actor(a).kinematic = kinematic
	s.engine.record(call{op: fmt.Sprintf("SetKinematic(%v)", kinematic), actor: a})
}

func (s *fakeScene) SetGravityEnabled(a physics.ActorHandle, enabled bool) {
	defer s.lock()()
	s.engine.record(call{op: fmt.Sprintf("SetGravityEnabled(%v)", enabled), actor: a})
}

func (s *fakeScene) SetCCD(a physics.ActorHandle, enabled bool) {
	defer s.lock()()
	s.engine.record(call{op: fmt.Sprintf("SetCCD(%v)", enabled), actor: a})
}

func (s *fakeScene) SetLockFlags(a physics.ActorHandle, flags physics.LockFlags) {
	defer s.lock()()
	s.engine.record(call{op: fmt.Sprintf("SetLockFlags(%d)", flags), actor: a})
}

func (s *fakeScene) LinearVelocity(a physics.ActorHandle) mgl64.Vec3 {
	defer s.lock()()
	return s.actor(a).linVel
}

func (s *fakeScene) AngularVelocity(physics.ActorHandle) mgl64.Vec3 { return mgl64.Vec3{} }

func (s *fakeScene) SetLinearVelocity(a physics.ActorHandle, v mgl64.Vec3) {
	defer s.lock()()
	s.actor(a).linVel = v
	s.engine.record(call{op: "SetLinearVelocity", actor: a, vec: v})
}

func (s *fakeScene) SetAngularVelocity(a physics.ActorHandle, v mgl64.Vec3) {
	defer s.lock()()
	s.engine.record(call{op: "SetAngularVelocity", actor: a, vec: v})
}

func (s *fakeScene) AddForce(a physics.ActorHandle, f mgl64.Vec3, mode physics.ForceMode) {
	defer s.lock()()
	op := "AddForce"
	if mode == physics.ModeImpulse {
		op = "AddImpulse"
	}
	s.engine.record(call{op: op, actor: a, vec: f})
}

func (s *fakeScene) AddForceAtPos(a physics.ActorHandle, f, _ mgl64.Vec3, _ physics.ForceMode) {
	defer s.lock()()
	s.engine.record(call{op: "AddForceAtPos", actor: a, vec: f})
}

func (s *fakeScene) AddTorque(a physics.ActorHandle, t mgl64.Vec3, _ physics.ForceMode) {
	defer s.lock()()
	s.engine.record(call{op: "AddTorque", actor: a, vec: t})
}

func (s *fakeScene) Mass(a physics.ActorHandle) float64 {
	defer s.lock()()
	return s.actor(a).mass
}

func (s *fakeScene) SetMassAndUpdateInertia(a physics.ActorHandle, mass float64) {
	defer s.lock()()
	s.actor(a).mass = mass
	s.engine.record(call{op: "SetMassAndUpdateInertia", actor: a})
}

func (s *fakeScene) UpdateMassAndInertia(a physics.ActorHandle, density float64) {
	defer s.lock()()
	s.engine.record(call{op: "UpdateMassAndInertia", actor: a, vec: mgl64.Vec3{density}})
}

func (s *fakeScene) SetMass(a physics.ActorHandle, mass float64) {
	defer s.lock()()
	s.actor(a).mass = mass
	s.engine.record(call{op: "SetMass", actor: a})
}

func (s *fakeScene) SetCMassLocalPose(a physics.ActorHandle, pose physics.Pose) {
	defer s.lock()()
	s.engine.record(call{op: "SetCMassLocalPose", actor: a, pose: pose})
}

func (s *fakeScene) SetMassSpaceInertiaTensor(a physics.ActorHandle, tensor mgl64.Vec3) {
	defer s.lock()()
	s.engine.record(call{op: "SetMassSpaceInertiaTensor", actor: a, vec: tensor})
}

func (s *fakeScene) CreateController(desc physics.CapsuleControllerDesc) (physics.ControllerHandle, error) {
	return 0, fmt.Errorf("fake backend: controllers unsupported")
}

func (s *fakeScene) ReleaseController(physics.ControllerHandle)                   {}
func (s *fakeScene) ControllerActor(physics.ControllerHandle) physics.ActorHandle { return 0 }
func (s *fakeScene) ControllerPosition(physics.ControllerHandle) mgl64.Vec3       { return mgl64.Vec3{} }
func (s *fakeScene) SetControllerPosition(physics.ControllerHandle, mgl64.Vec3)   {}
func (s *fakeScene) MoveController(physics.ControllerHandle, mgl64.Vec3, float64, float64) physics.CollisionFlags {
	return physics.CollisionNone
}

func (s *fakeScene) SetGravity(g mgl64.Vec3) {
	defer s.lock()()
	s.engine.record(call{op: "SetGravity", vec: g})
}

func (s *fakeScene) Step(float64) {
	s.engine.mu.Lock()
	s.steps++
	onStep := s.onStep
	s.engine.mu.Unlock()
	if onStep != nil {
		onStep(s.desc.Events)
	}
}

func (s *fakeScene) FetchResults(bool) bool { return true }

func (s *fakeScene) Release() {
	defer s.lock()()
	s.engine.record(call{op: "ReleaseScene"})
}

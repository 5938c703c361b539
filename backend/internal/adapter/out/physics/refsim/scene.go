package refsim

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/port/out/physics"
)

type actor struct {
	id    physics.ActorHandle
	scene *Scene

	static    bool
	kinematic bool
	pose      physics.Pose
	target    *physics.Pose
	kinStart  physics.Pose
	kinVel    mgl64.Vec3

	linVel, angVel mgl64.Vec3
	force, torque  mgl64.Vec3

	mass    float64
	com     physics.Pose
	inertia mgl64.Vec3

	gravity bool
	ccd     bool
	locks   physics.LockFlags

	shapes     []*shape
	controller *controller
}

func (a *actor) dynamic() bool { return !a.static && !a.kinematic }

func (a *actor) invMass() float64 {
	if !a.dynamic() || a.mass <= 0 {
		return 0
	}
	return 1 / a.mass
}

func (a *actor) comWorld() mgl64.Vec3 {
	return a.pose.Transform(a.com.P)
}

// invInertiaWorld applies the world-space inverse inertia to v.
func (a *actor) invInertiaWorld(v mgl64.Vec3) mgl64.Vec3 {
	if !a.dynamic() {
		return mgl64.Vec3{}
	}
	r := a.pose.Q.Mul(a.com.Q)
	local := r.Inverse().Rotate(v)
	for i := 0; i < 3; i++ {
		if a.inertia[i] > 0 {
			local[i] /= a.inertia[i]
		} else {
			local[i] = 0
		}
	}
	return r.Rotate(local)
}

// velocityAt returns the velocity of the material point at world p.
func (a *actor) velocityAt(p mgl64.Vec3) mgl64.Vec3 {
	if a.static {
		return mgl64.Vec3{}
	}
	if a.kinematic {
		return a.kinVel
	}
	return a.linVel.Add(a.angVel.Cross(p.Sub(a.comWorld())))
}

func (a *actor) applyImpulse(j, r mgl64.Vec3) {
	if !a.dynamic() {
		return
	}
	a.linVel = a.linVel.Add(j.Mul(a.invMass()))
	a.angVel = a.angVel.Add(a.invInertiaWorld(r.Cross(j)))
	a.applyLocks()
}

func (a *actor) applyLocks() {
	for i := 0; i < 3; i++ {
		if a.locks&(physics.LockLinearX<<i) != 0 {
			a.linVel[i] = 0
		}
		if a.locks&(physics.LockAngularX<<i) != 0 {
			a.angVel[i] = 0
		}
	}
}

type pairKey struct {
	lo, hi physics.ActorHandle
}

type overlapKey struct {
	trigger, other physics.ShapeHandle
}

type overlap struct {
	triggerActor, otherActor physics.ActorHandle
}

// Scene is one simulated world of an Engine.
type Scene struct {
	engine *Engine
	desc   physics.SceneDesc

	actors      map[physics.ActorHandle]*actor
	controllers map[physics.ControllerHandle]*controller

	touching     map[pairKey]struct{}
	overlaps     map[overlapKey]overlap
	lostTriggers []physics.TriggerPair

	stepped  bool
	released bool
}

var _ physics.Scene = (*Scene)(nil)

func newScene(e *Engine, desc physics.SceneDesc) *Scene {
	if desc.TypicalLength <= 0 {
		desc.TypicalLength = 1
	}
	return &Scene{
		engine:      e,
		desc:        desc,
		actors:      make(map[physics.ActorHandle]*actor),
		controllers: make(map[physics.ControllerHandle]*controller),
		touching:    make(map[pairKey]struct{}),
		overlaps:    make(map[overlapKey]overlap),
	}
}

// sortedActors returns live actors in handle order so stepping is
// deterministic.
func (s *Scene) sortedActors() []*actor {
	out := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Scene) actor(h physics.ActorHandle) *actor {
	if s.released {
		return nil
	}
	return s.actors[h]
}

func (s *Scene) CreateActor(pose physics.Pose, static bool) (physics.ActorHandle, error) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return s.createActorLocked(pose, static), nil
}

func (s *Scene) createActorLocked(pose physics.Pose, static bool) physics.ActorHandle {
	h := physics.ActorHandle(s.engine.id())
	s.actors[h] = &actor{
		id:      h,
		scene:   s,
		static:  static,
		pose:    pose,
		mass:    1,
		com:     physics.IdentityPose(),
		inertia: mgl64.Vec3{1, 1, 1},
		gravity: true,
	}
	return h
}

func (s *Scene) DestroyActor(h physics.ActorHandle) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.destroyActorLocked(h)
}

func (s *Scene) destroyActorLocked(h physics.ActorHandle) {
	a, ok := s.actors[h]
	if !ok {
		return
	}
	for len(a.shapes) > 0 {
		s.detachLocked(a, a.shapes[0])
	}
	for k := range s.touching {
		if k.lo == h || k.hi == h {
			delete(s.touching, k)
		}
	}
	delete(s.actors, h)
}

func (s *Scene) AttachShape(h physics.ActorHandle, sh physics.ShapeHandle) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	a := s.actor(h)
	shp, ok := s.engine.shapes[sh]
	if a == nil || !ok {
		return
	}
	if shp.owner != nil {
		shp.owner.scene.detachLocked(shp.owner, shp)
	}
	shp.owner = a
	a.shapes = append(a.shapes, shp)
}

func (s *Scene) DetachShape(h physics.ActorHandle, sh physics.ShapeHandle) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	a := s.actor(h)
	shp, ok := s.engine.shapes[sh]
	if a == nil || !ok || shp.owner != a {
		return
	}
	s.detachLocked(a, shp)
}

// detachLocked removes shp from a and ends its overlaps with a
// removed-shape pair.
func (s *Scene) detachLocked(a *actor, shp *shape) {
	for i, x := range a.shapes {
		if x == shp {
			a.shapes = append(a.shapes[:i], a.shapes[i+1:]...)
			break
		}
	}
	shp.owner = nil
	for k, o := range s.overlaps {
		if k.trigger == shp.id || k.other == shp.id {
			s.lostTriggers = append(s.lostTriggers, physics.TriggerPair{
				TriggerActor: o.triggerActor,
				TriggerShape: k.trigger,
				OtherActor:   o.otherActor,
				OtherShape:   k.other,
				Status:       physics.TouchLost,
				RemovedShape: true,
			})
			delete(s.overlaps, k)
		}
	}
}

func (s *Scene) GlobalPose(h physics.ActorHandle) physics.Pose {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		return a.pose
	}
	return physics.IdentityPose()
}

func (s *Scene) SetGlobalPose(h physics.ActorHandle, pose physics.Pose) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		a.pose = pose
		a.target = nil
	}
}

func (s *Scene) SetKinematicTarget(h physics.ActorHandle, pose physics.Pose) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil && a.kinematic {
		t := pose
		a.target = &t
	}
}

func (s *Scene) IsKinematic(h physics.ActorHandle) bool {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		return a.kinematic
	}
	return false
}

func (s *Scene) SetKinematic(h physics.ActorHandle, kinematic bool) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	a := s.actor(h)
	if a == nil || a.static || a.kinematic == kinematic {
		return
	}
	a.kinematic = kinematic
	a.target = nil
	a.kinVel = mgl64.Vec3{}
	if kinematic {
		a.linVel, a.angVel = mgl64.Vec3{}, mgl64.Vec3{}
	}
}

func (s *Scene) SetGravityEnabled(h physics.ActorHandle, enabled bool) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		a.gravity = enabled
	}
}

func (s *Scene) SetCCD(h physics.ActorHandle, enabled bool) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		a.ccd = enabled
	}
}

func (s *Scene) SetLockFlags(h physics.ActorHandle, flags physics.LockFlags) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		a.locks = flags
		a.applyLocks()
	}
}

func (s *Scene) LinearVelocity(h physics.ActorHandle) mgl64.Vec3 {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		return a.linVel
	}
	return mgl64.Vec3{}
}

func (s *Scene) AngularVelocity(h physics.ActorHandle) mgl64.Vec3 {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		return a.angVel
	}
	return mgl64.Vec3{}
}

func (s *Scene) SetLinearVelocity(h physics.ActorHandle, v mgl64.Vec3) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil && a.dynamic() {
		a.linVel = v
		a.applyLocks()
	}
}

func (s *Scene) SetAngularVelocity(h physics.ActorHandle, v mgl64.Vec3) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil && a.dynamic() {
		a.angVel = v
		a.applyLocks()
	}
}

func (s *Scene) AddForce(h physics.ActorHandle, f mgl64.Vec3, mode physics.ForceMode) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	a := s.actor(h)
	if a == nil || !a.dynamic() {
		return
	}
	if mode == physics.ModeImpulse {
		a.applyImpulse(f, mgl64.Vec3{})
		return
	}
	a.force = a.force.Add(f)
}

func (s *Scene) AddForceAtPos(h physics.ActorHandle, f, pos mgl64.Vec3, mode physics.ForceMode) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	a := s.actor(h)
	if a == nil || !a.dynamic() {
		return
	}
	r := pos.Sub(a.comWorld())
	if mode == physics.ModeImpulse {
		a.applyImpulse(f, r)
		return
	}
	a.force = a.force.Add(f)
	a.torque = a.torque.Add(r.Cross(f))
}

func (s *Scene) AddTorque(h physics.ActorHandle, t mgl64.Vec3, mode physics.ForceMode) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	a := s.actor(h)
	if a == nil || !a.dynamic() {
		return
	}
	if mode == physics.ModeImpulse {
		a.angVel = a.angVel.Add(a.invInertiaWorld(t))
		a.applyLocks()
		return
	}
	a.torque = a.torque.Add(t)
}

func (s *Scene) Mass(h physics.ActorHandle) float64 {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		return a.mass
	}
	return 0
}

func (s *Scene) SetMassAndUpdateInertia(h physics.ActorHandle, mass float64) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	a := s.actor(h)
	if a == nil {
		return
	}
	m, com, inertia := massFromShapes(a.shapes, 1)
	if m <= 0 {
		a.mass = math.Max(mass, 0)
		return
	}
	k := mass / m
	a.mass = math.Max(mass, 0)
	a.com = physics.Pose{P: com, Q: mgl64.QuatIdent()}
	a.inertia = inertia.Mul(k)
}

func (s *Scene) UpdateMassAndInertia(h physics.ActorHandle, density float64) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	a := s.actor(h)
	if a == nil {
		return
	}
	m, com, inertia := massFromShapes(a.shapes, density)
	if m <= 0 {
		return
	}
	a.mass = m
	a.com = physics.Pose{P: com, Q: mgl64.QuatIdent()}
	a.inertia = inertia
}

func (s *Scene) SetMass(h physics.ActorHandle, mass float64) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		a.mass = math.Max(mass, 0)
	}
}

func (s *Scene) SetCMassLocalPose(h physics.ActorHandle, pose physics.Pose) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		a.com = pose
	}
}

func (s *Scene) SetMassSpaceInertiaTensor(h physics.ActorHandle, tensor mgl64.Vec3) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if a := s.actor(h); a != nil {
		a.inertia = tensor
	}
}

func (s *Scene) SetGravity(g mgl64.Vec3) {
	s.engine.mu.Lock()
	s.desc.Gravity = g
	s.engine.mu.Unlock()
}

// Step advances the scene by dt seconds and delivers the step's events to
// the scene's handler before returning.
func (s *Scene) Step(dt float64) {
	s.engine.mu.Lock()
	if s.released {
		s.engine.mu.Unlock()
		return
	}
	triggers, contacts := s.simulateLocked(dt)
	s.stepped = true
	handler := s.desc.Events
	s.engine.mu.Unlock()

	if handler == nil {
		return
	}
	if len(triggers) > 0 {
		handler.OnTrigger(triggers)
	}
	if len(contacts) > 0 {
		handler.OnContact(contacts)
	}
}

// FetchResults reports whether a step has completed since the last fetch.
// Steps run synchronously, so blocking never waits.
func (s *Scene) FetchResults(block bool) bool {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	done := s.stepped
	s.stepped = false
	return done || block
}

func (s *Scene) Release() {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.releaseLocked()
	delete(s.engine.scenes, s)
}

func (s *Scene) releaseLocked() {
	if s.released {
		return
	}
	for _, c := range s.controllers {
		s.releaseControllerLocked(c)
	}
	for h := range s.actors {
		s.destroyActorLocked(h)
	}
	s.released = true
}

// ActorCount returns the number of live actors.
func (s *Scene) ActorCount() int {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return len(s.actors)
}

// massFromShapes integrates density over the volume of the simulated shapes.
// Inertia is diagonal about the combined centre of mass; shape rotations are
// ignored.
func massFromShapes(shapes []*shape, density float64) (float64, mgl64.Vec3, mgl64.Vec3) {
	var (
		total    float64
		weighted mgl64.Vec3
	)
	type part struct {
		m      float64
		center mgl64.Vec3
		local  mgl64.Vec3
	}
	parts := make([]part, 0, len(shapes))
	for _, sh := range shapes {
		if !sh.collidable() {
			continue
		}
		m := sh.geom.Volume() * density
		if m <= 0 {
			continue
		}
		parts = append(parts, part{m: m, center: sh.local.P, local: shapeInertia(sh.geom, m)})
		total += m
		weighted = weighted.Add(sh.local.P.Mul(m))
	}
	if total <= 0 {
		return 0, mgl64.Vec3{}, mgl64.Vec3{}
	}
	com := weighted.Mul(1 / total)
	var inertia mgl64.Vec3
	for _, p := range parts {
		d := p.center.Sub(com)
		inertia = inertia.Add(p.local).Add(mgl64.Vec3{
			p.m * (d[1]*d[1] + d[2]*d[2]),
			p.m * (d[0]*d[0] + d[2]*d[2]),
			p.m * (d[0]*d[0] + d[1]*d[1]),
		})
	}
	return total, com, inertia
}

func shapeInertia(g physics.Geometry, m float64) mgl64.Vec3 {
	switch g.Type {
	case physics.GeometrySphere:
		i := 0.4 * m * g.Radius * g.Radius
		return mgl64.Vec3{i, i, i}
	case physics.GeometryCapsule:
		r, l := g.Radius, 2*g.HalfHeight+2*g.Radius
		axial := 0.5 * m * r * r
		cross := m * (3*r*r + l*l) / 12
		return mgl64.Vec3{axial, cross, cross}
	case physics.GeometryBox:
		return boxInertia(g.HalfExtents.Mul(2), m)
	default:
		lo, hi := g.Mesh.Bounds()
		return boxInertia(mulElem(hi.Sub(lo), geometryScale(g)), m)
	}
}

func boxInertia(size mgl64.Vec3, m float64) mgl64.Vec3 {
	x, y, z := size[0]*size[0], size[1]*size[1], size[2]*size[2]
	return mgl64.Vec3{m * (y + z) / 12, m * (x + z) / 12, m * (x + y) / 12}
}

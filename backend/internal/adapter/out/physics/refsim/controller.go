package refsim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/port/out/physics"
)

const (
	// groundSlope is the minimum normal Y component of a walkable surface.
	groundSlope      = 0.7
	depenetrateIters = 4
	maxMoveSubsteps  = 32
)

// controller is an upright capsule moved by sweeping and depenetration. It
// owns a kinematic actor so dynamic bodies and triggers see it. Step offsets
// are accepted but not climbed.
type controller struct {
	id     physics.ControllerHandle
	actor  *actor
	shape  *shape
	radius float64
}

var uprightCapsule = mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})

func (s *Scene) CreateController(desc physics.CapsuleControllerDesc) (physics.ControllerHandle, error) {
	geom := physics.Geometry{Type: physics.GeometryCapsule, Radius: desc.Radius, HalfHeight: desc.Height / 2}
	if err := geom.Validate(); err != nil {
		return 0, err
	}

	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	ah := s.createActorLocked(physics.Pose{P: desc.Position, Q: mgl64.QuatIdent()}, false)
	a := s.actors[ah]
	a.kinematic = true

	sh := &shape{
		id:       physics.ShapeHandle(s.engine.id()),
		geom:     geom,
		material: desc.Material,
		local:    physics.Pose{Q: uprightCapsule},
		flags:    physics.ShapeSimulation,
		owner:    a,
	}
	s.engine.shapes[sh.id] = sh
	a.shapes = append(a.shapes, sh)

	c := &controller{
		id:     physics.ControllerHandle(s.engine.id()),
		actor:  a,
		shape:  sh,
		radius: desc.Radius,
	}
	a.controller = c
	s.controllers[c.id] = c
	return c.id, nil
}

func (s *Scene) ReleaseController(h physics.ControllerHandle) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if c, ok := s.controllers[h]; ok {
		s.releaseControllerLocked(c)
	}
}

func (s *Scene) releaseControllerLocked(c *controller) {
	s.destroyActorLocked(c.actor.id)
	delete(s.engine.shapes, c.shape.id)
	delete(s.controllers, c.id)
}

func (s *Scene) ControllerActor(h physics.ControllerHandle) physics.ActorHandle {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if c, ok := s.controllers[h]; ok {
		return c.actor.id
	}
	return 0
}

func (s *Scene) ControllerPosition(h physics.ControllerHandle) mgl64.Vec3 {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if c, ok := s.controllers[h]; ok {
		return c.actor.pose.P
	}
	return mgl64.Vec3{}
}

func (s *Scene) SetControllerPosition(h physics.ControllerHandle, pos mgl64.Vec3) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if c, ok := s.controllers[h]; ok {
		c.actor.pose.P = pos
	}
}

// MoveController sweeps the capsule along disp in steps no longer than half
// its radius, resolving penetration after each step. Moves shorter than
// minDist are dropped.
func (s *Scene) MoveController(h physics.ControllerHandle, disp mgl64.Vec3, minDist, dt float64) physics.CollisionFlags {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	c, ok := s.controllers[h]
	if !ok {
		return physics.CollisionNone
	}
	dist := disp.Len()
	if dist <= 0 || dist < minDist {
		return physics.CollisionNone
	}

	steps := int(math.Ceil(dist / (c.radius * 0.5)))
	steps = max(1, min(steps, maxMoveSubsteps))
	delta := disp.Mul(1 / float64(steps))

	var flags physics.CollisionFlags
	for i := 0; i < steps; i++ {
		c.actor.pose.P = c.actor.pose.P.Add(delta)
		flags |= s.depenetrate(c)
	}
	return flags
}

// depenetrate pushes the capsule out of every collidable shape of other
// actors and classifies the contact normals.
func (s *Scene) depenetrate(c *controller) physics.CollisionFlags {
	var flags physics.CollisionFlags
	for iter := 0; iter < depenetrateIters; iter++ {
		self := buildWorldShape(c.actor, c.shape)
		var deepest *contact
		for _, o := range s.sortedActors() {
			if o == c.actor {
				continue
			}
			for _, sh := range o.shapes {
				if !sh.collidable() {
					continue
				}
				for _, ct := range collide(self, buildWorldShape(o, sh)) {
					if deepest == nil || ct.depth > deepest.depth {
						ct := ct
						deepest = &ct
					}
				}
			}
		}
		if deepest == nil || deepest.depth <= epsilon {
			break
		}

		n := deepest.normal
		switch {
		case n[1] >= groundSlope:
			flags |= physics.CollisionDown
		case n[1] <= -groundSlope:
			flags |= physics.CollisionUp
		default:
			flags |= physics.CollisionSides
		}
		c.actor.pose.P = c.actor.pose.P.Add(n.Mul(deepest.depth))
	}
	return flags
}

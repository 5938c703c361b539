package refsim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/port/out/physics"
)

const (
	maxSubstep      = 1.0 / 240
	maxSubsteps     = 16
	solverIters     = 8
	baumgarte       = 0.6
	slopFraction    = 0.005
	angularDamping  = 0.05
	maxReportPoints = 64
)

// simulateLocked runs the step phases: integrate velocities, move
// kinematics, detect contacts, solve them, integrate positions. Trigger and
// contact transitions are collected once per step.
func (s *Scene) simulateLocked(dt float64) ([]physics.TriggerPair, []physics.ContactPair) {
	lost := s.lostTriggers
	s.lostTriggers = nil
	if dt <= 0 {
		return lost, nil
	}

	actors := s.sortedActors()
	n := int(math.Ceil(dt / maxSubstep))
	if s.desc.EnableCCD {
		for _, a := range actors {
			if a.ccd && a.dynamic() {
				n *= 2
				break
			}
		}
	}
	n = max(1, min(n, maxSubsteps))
	h := dt / float64(n)

	for _, a := range actors {
		if a.kinematic && a.target != nil {
			a.kinStart = a.pose
			a.kinVel = a.target.P.Sub(a.pose.P).Mul(1 / dt)
		}
	}

	touched := make(map[pairKey][]physics.ContactPoint)
	for i := 0; i < n; i++ {
		s.integrateVelocities(actors, h)
		s.moveKinematics(actors, float64(i+1)/float64(n))
		contacts := s.detectContacts(actors)
		s.solve(contacts, h)
		s.integratePositions(actors, h)
		recordTouches(touched, contacts)
	}

	for _, a := range actors {
		a.force, a.torque = mgl64.Vec3{}, mgl64.Vec3{}
		if a.target != nil {
			a.pose = *a.target
			a.target = nil
		}
		a.kinVel = mgl64.Vec3{}
	}

	return append(lost, s.updateOverlaps(actors)...), s.updateTouching(touched)
}

func (s *Scene) integrateVelocities(actors []*actor, h float64) {
	for _, a := range actors {
		if !a.dynamic() {
			continue
		}
		acc := a.force.Mul(a.invMass())
		if a.gravity {
			acc = acc.Add(s.desc.Gravity)
		}
		a.linVel = a.linVel.Add(acc.Mul(h))
		a.angVel = a.angVel.Add(a.invInertiaWorld(a.torque).Mul(h)).Mul(1 - angularDamping*h)
		a.applyLocks()
	}
}

func (s *Scene) moveKinematics(actors []*actor, frac float64) {
	for _, a := range actors {
		if !a.kinematic || a.target == nil {
			continue
		}
		a.pose = physics.Pose{
			P: a.kinStart.P.Add(a.target.P.Sub(a.kinStart.P).Mul(frac)),
			Q: mgl64.QuatNlerp(a.kinStart.Q, a.target.Q, frac),
		}
	}
}

func (s *Scene) integratePositions(actors []*actor, h float64) {
	for _, a := range actors {
		if !a.dynamic() {
			continue
		}
		c := a.comWorld().Add(a.linVel.Mul(h))
		if a.angVel.Len() > 0 {
			spin := mgl64.Quat{W: 0, V: a.angVel.Mul(0.5 * h)}
			a.pose.Q = a.pose.Q.Add(spin.Mul(a.pose.Q)).Normalize()
		}
		a.pose.P = c.Sub(a.pose.Q.Rotate(a.com.P))
	}
}

// detectContacts tests every pair with at least one dynamic actor.
func (s *Scene) detectContacts(actors []*actor) []contact {
	world := make(map[*shape]*worldShape)
	resolve := func(a *actor, sh *shape) *worldShape {
		ws, ok := world[sh]
		if !ok {
			ws = buildWorldShape(a, sh)
			world[sh] = ws
		}
		return ws
	}

	var out []contact
	for i, a := range actors {
		for _, b := range actors[i+1:] {
			if !a.dynamic() && !b.dynamic() {
				continue
			}
			for _, sa := range a.shapes {
				if !sa.collidable() {
					continue
				}
				for _, sb := range b.shapes {
					if !sb.collidable() {
						continue
					}
					for _, c := range collide(resolve(a, sa), resolve(b, sb)) {
						c.a, c.b, c.sa, c.sb = a, b, sa, sb
						out = append(out, c)
					}
				}
			}
		}
	}
	return out
}

func (s *Scene) solve(contacts []contact, h float64) {
	if len(contacts) == 0 {
		return
	}
	restThreshold := 2 * s.desc.Gravity.Len() * h
	slop := s.desc.TypicalLength * slopFraction

	// Positional correction uses the deepest contact of each actor pair.
	deepest := make(map[pairKey]int)
	for i := range contacts {
		k := pairKey{contacts[i].a.id, contacts[i].b.id}
		if j, ok := deepest[k]; !ok || contacts[i].depth > contacts[j].depth {
			deepest[k] = i
		}
	}
	for _, i := range deepest {
		c := &contacts[i]
		wa, wb := c.a.invMass(), c.b.invMass()
		if wa+wb == 0 {
			continue
		}
		corr := math.Max(c.depth-slop, 0) * baumgarte / (wa + wb)
		c.a.pose.P = c.a.pose.P.Add(c.normal.Mul(corr * wa))
		c.b.pose.P = c.b.pose.P.Sub(c.normal.Mul(corr * wb))
	}

	for i := range contacts {
		c := &contacts[i]
		c.ra = c.point.Sub(c.a.comWorld())
		c.rb = c.point.Sub(c.b.comWorld())
		c.kn = effectiveMass(c.a, c.b, c.ra, c.rb, c.normal)

		ma := s.engine.materialOf(c.sa)
		mb := s.engine.materialOf(c.sb)
		c.friction = (ma.dynamicFriction + mb.dynamicFriction) * 0.5
		restitution := (ma.restitution + mb.restitution) * 0.5

		vn := c.a.velocityAt(c.point).Sub(c.b.velocityAt(c.point)).Dot(c.normal)
		if vn < -restThreshold {
			c.bias = -restitution * vn
		}
	}

	for iter := 0; iter < solverIters; iter++ {
		for i := range contacts {
			c := &contacts[i]
			if c.kn <= 0 {
				continue
			}
			rel := c.a.velocityAt(c.point).Sub(c.b.velocityAt(c.point))
			vn := rel.Dot(c.normal)

			jn := math.Max(c.jn+(c.bias-vn)/c.kn, 0)
			dj := jn - c.jn
			c.jn = jn
			impulse := c.normal.Mul(dj)
			c.a.applyImpulse(impulse, c.ra)
			c.b.applyImpulse(impulse.Mul(-1), c.rb)

			rel = c.a.velocityAt(c.point).Sub(c.b.velocityAt(c.point))
			tangent := rel.Sub(c.normal.Mul(rel.Dot(c.normal)))
			if tangent.Len() < epsilon {
				continue
			}
			tangent = tangent.Normalize()
			kt := effectiveMass(c.a, c.b, c.ra, c.rb, tangent)
			if kt <= 0 {
				continue
			}
			limit := c.friction * c.jn
			jt := math.Max(-limit, math.Min(limit, c.jt-rel.Dot(tangent)/kt))
			dt := jt - c.jt
			c.jt = jt
			fi := tangent.Mul(dt)
			c.a.applyImpulse(fi, c.ra)
			c.b.applyImpulse(fi.Mul(-1), c.rb)
		}
	}
}

func effectiveMass(a, b *actor, ra, rb, n mgl64.Vec3) float64 {
	k := a.invMass() + b.invMass()
	k += a.invInertiaWorld(ra.Cross(n)).Cross(ra).Dot(n)
	k += b.invInertiaWorld(rb.Cross(n)).Cross(rb).Dot(n)
	return k
}

// recordTouches keeps the latest points of every touching pair, ordered so
// that normals point from the second actor towards the first.
func recordTouches(touched map[pairKey][]physics.ContactPoint, contacts []contact) {
	fresh := make(map[pairKey][]physics.ContactPoint)
	for _, c := range contacts {
		k := pairKey{c.a.id, c.b.id}
		n := c.normal
		if k.lo > k.hi {
			k.lo, k.hi = k.hi, k.lo
			n = n.Mul(-1)
		}
		fresh[k] = append(fresh[k], physics.ContactPoint{
			Position: c.point,
			Impulse:  n.Mul(c.jn),
			Normal:   n,
		})
	}
	for k, pts := range fresh {
		if len(pts) > maxReportPoints {
			pts = pts[:maxReportPoints]
		}
		touched[k] = pts
	}
}

func (s *Scene) updateTouching(touched map[pairKey][]physics.ContactPoint) []physics.ContactPair {
	var out []physics.ContactPair
	for k, pts := range touched {
		if _, ok := s.touching[k]; !ok {
			out = append(out, physics.ContactPair{
				Actors:     [2]physics.ActorHandle{k.lo, k.hi},
				TouchFound: true,
				Points:     pts,
			})
		}
	}
	for k := range s.touching {
		if _, ok := touched[k]; !ok {
			out = append(out, physics.ContactPair{Actors: [2]physics.ActorHandle{k.lo, k.hi}})
			delete(s.touching, k)
		}
	}
	for k := range touched {
		s.touching[k] = struct{}{}
	}
	return out
}

// updateOverlaps compares trigger shapes against every collidable shape of a
// non-static actor.
func (s *Scene) updateOverlaps(actors []*actor) []physics.TriggerPair {
	current := make(map[overlapKey]overlap)
	for _, t := range actors {
		for _, ts := range t.shapes {
			if !ts.trigger() {
				continue
			}
			tw := buildWorldShape(t, ts)
			for _, o := range actors {
				if o == t || o.static {
					continue
				}
				for _, os := range o.shapes {
					if !os.collidable() {
						continue
					}
					if len(collide(buildWorldShape(o, os), tw)) > 0 {
						current[overlapKey{ts.id, os.id}] = overlap{t.id, o.id}
					}
				}
			}
		}
	}

	var out []physics.TriggerPair
	for k, o := range current {
		if _, ok := s.overlaps[k]; !ok {
			out = append(out, physics.TriggerPair{
				TriggerActor: o.triggerActor,
				TriggerShape: k.trigger,
				OtherActor:   o.otherActor,
				OtherShape:   k.other,
				Status:       physics.TouchFound,
			})
		}
	}
	for k, o := range s.overlaps {
		if _, ok := current[k]; !ok {
			out = append(out, physics.TriggerPair{
				TriggerActor: o.triggerActor,
				TriggerShape: k.trigger,
				OtherActor:   o.otherActor,
				OtherShape:   k.other,
				Status:       physics.TouchLost,
			})
		}
	}
	s.overlaps = current
	return out
}

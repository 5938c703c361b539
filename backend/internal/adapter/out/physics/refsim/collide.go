package refsim

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/port/out/physics"
)

const epsilon = 1e-9

var (
	axisX = mgl64.Vec3{1, 0, 0}
	axisY = mgl64.Vec3{0, 1, 0}
)

type volumeKind int

const (
	volSphere volumeKind = iota
	volCapsule
	volBox
	volPlane
	volHeightField
)

// probe is a sphere swept over a shape's surface features. Boxes and meshes
// probe with their corners and points, round shapes with their cores.
type probe struct {
	p mgl64.Vec3
	r float64
}

// worldShape is a shape resolved into world space for one detection pass.
// Convex and triangle meshes collide as the box bounding their points and
// probe with the points themselves.
type worldShape struct {
	shape *shape
	actor *actor
	kind  volumeKind
	pose  physics.Pose

	radius float64
	seg    [2]mgl64.Vec3
	half   mgl64.Vec3
	normal mgl64.Vec3

	field      *physics.HeightField
	fieldScale mgl64.Vec3

	bound  float64
	probes []probe
}

type contact struct {
	a, b   *actor
	sa, sb *shape

	point  mgl64.Vec3
	normal mgl64.Vec3 // pushes a away from b
	depth  float64

	ra, rb   mgl64.Vec3
	kn       float64
	bias     float64
	friction float64
	jn, jt   float64
}

func geometryScale(g physics.Geometry) mgl64.Vec3 {
	if g.Scale == (mgl64.Vec3{}) {
		return mgl64.Vec3{1, 1, 1}
	}
	return g.Scale
}

func mulElem(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

func buildWorldShape(a *actor, s *shape) *worldShape {
	pose := a.pose.Mul(s.local)
	ws := &worldShape{shape: s, actor: a, pose: pose}
	g := s.geom

	switch g.Type {
	case physics.GeometryBox:
		ws.kind = volBox
		ws.half = g.HalfExtents
		ws.bound = g.HalfExtents.Len()
		ws.probes = boxCorners(pose, g.HalfExtents)
	case physics.GeometrySphere:
		ws.kind = volSphere
		ws.radius = g.Radius
		ws.seg = [2]mgl64.Vec3{pose.P, pose.P}
		ws.bound = g.Radius
		ws.probes = []probe{{pose.P, g.Radius}}
	case physics.GeometryCapsule:
		ws.kind = volCapsule
		ws.radius = g.Radius
		axis := pose.Q.Rotate(axisX).Mul(g.HalfHeight)
		ws.seg = [2]mgl64.Vec3{pose.P.Sub(axis), pose.P.Add(axis)}
		ws.bound = g.HalfHeight + g.Radius
		ws.probes = []probe{{ws.seg[0], g.Radius}, {pose.P, g.Radius}, {ws.seg[1], g.Radius}}
	case physics.GeometryPlane:
		ws.kind = volPlane
		ws.normal = pose.Q.Rotate(axisX)
		ws.bound = math.Inf(1)
	case physics.GeometryConvexMesh, physics.GeometryTriangleMesh:
		scale := geometryScale(g)
		lo, hi := g.Mesh.Bounds()
		lo, hi = mulElem(lo, scale), mulElem(hi, scale)
		for i := 0; i < 3; i++ {
			if lo[i] > hi[i] {
				lo[i], hi[i] = hi[i], lo[i]
			}
		}
		center := lo.Add(hi).Mul(0.5)
		ws.kind = volBox
		ws.pose.P = pose.Transform(center)
		ws.half = hi.Sub(lo).Mul(0.5)
		ws.bound = ws.half.Len()
		ws.probes = make([]probe, 0, len(g.Mesh.Points))
		for _, p := range g.Mesh.Points {
			ws.probes = append(ws.probes, probe{pose.Transform(mulElem(p, scale)), 0})
		}
	case physics.GeometryHeightField:
		ws.kind = volHeightField
		ws.field = g.HeightField
		ws.fieldScale = geometryScale(g)
		ws.bound = math.Inf(1)
	}
	return ws
}

func boxCorners(pose physics.Pose, half mgl64.Vec3) []probe {
	out := make([]probe, 0, 8)
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			for _, sz := range []float64{-1, 1} {
				local := mgl64.Vec3{sx * half[0], sy * half[1], sz * half[2]}
				out = append(out, probe{pose.Transform(local), 0})
			}
		}
	}
	return out
}

func (w *worldShape) surface() bool {
	return w.kind == volPlane || w.kind == volHeightField
}

func (w *worldShape) round() bool {
	return w.kind == volSphere || w.kind == volCapsule
}

func boundsOverlap(a, b *worldShape) bool {
	if math.IsInf(a.bound, 1) || math.IsInf(b.bound, 1) {
		return true
	}
	return a.pose.P.Sub(b.pose.P).Len() <= a.bound+b.bound
}

// collide returns the contacts between a and b with normals pushing a out
// of b.
func collide(a, b *worldShape) []contact {
	if !boundsOverlap(a, b) {
		return nil
	}
	switch {
	case a.surface() && b.surface():
		return nil
	case b.surface():
		return probesAgainst(a.probes, b)
	case a.surface():
		return flip(probesAgainst(b.probes, a))
	case a.round() && b.round():
		return roundPair(a, b)
	}
	out := probesAgainst(a.probes, b)
	return append(out, flip(probesAgainst(b.probes, a))...)
}

func flip(cs []contact) []contact {
	for i := range cs {
		cs[i].normal = cs[i].normal.Mul(-1)
	}
	return cs
}

func probesAgainst(probes []probe, target *worldShape) []contact {
	var out []contact
	for _, p := range probes {
		if c, ok := probeContact(p, target); ok {
			out = append(out, c)
		}
	}
	return out
}

func probeContact(pr probe, t *worldShape) (contact, bool) {
	switch t.kind {
	case volSphere, volCapsule:
		q := closestOnSegment(pr.p, t.seg[0], t.seg[1])
		return sphereContact(pr.p, pr.r, q, t.radius)

	case volBox:
		qi := t.pose.Q.Inverse()
		local := qi.Rotate(pr.p.Sub(t.pose.P))
		clamped := local
		inside := true
		for i := 0; i < 3; i++ {
			if clamped[i] < -t.half[i] {
				clamped[i] = -t.half[i]
				inside = false
			} else if clamped[i] > t.half[i] {
				clamped[i] = t.half[i]
				inside = false
			}
		}
		if inside {
			axis, pen := 0, math.Inf(1)
			for i := 0; i < 3; i++ {
				if d := t.half[i] - math.Abs(local[i]); d < pen {
					axis, pen = i, d
				}
			}
			var n mgl64.Vec3
			n[axis] = 1
			if local[axis] < 0 {
				n[axis] = -1
			}
			return contact{point: pr.p, normal: t.pose.Q.Rotate(n), depth: pen + pr.r}, true
		}
		diff := local.Sub(clamped)
		dist := diff.Len()
		if dist >= pr.r {
			return contact{}, false
		}
		return contact{
			point:  t.pose.Transform(clamped),
			normal: t.pose.Q.Rotate(diff.Mul(1 / dist)),
			depth:  pr.r - dist,
		}, true

	case volPlane:
		s := t.normal.Dot(pr.p.Sub(t.pose.P))
		if s >= pr.r {
			return contact{}, false
		}
		return contact{point: pr.p.Sub(t.normal.Mul(s)), normal: t.normal, depth: pr.r - s}, true

	case volHeightField:
		local := t.pose.Inverse().Transform(pr.p)
		h, gx, gz, ok := sampleField(t.field, t.fieldScale, local[0], local[2])
		if !ok {
			return contact{}, false
		}
		s := local[1] - h
		if s >= pr.r {
			return contact{}, false
		}
		n := mgl64.Vec3{-gx, 1, -gz}.Normalize()
		return contact{
			point:  t.pose.Transform(mgl64.Vec3{local[0], h, local[2]}),
			normal: t.pose.Q.Rotate(n),
			depth:  (pr.r - s) * n[1],
		}, true
	}
	return contact{}, false
}

func sphereContact(p mgl64.Vec3, pr float64, q mgl64.Vec3, qr float64) (contact, bool) {
	d := p.Sub(q)
	dist := d.Len()
	r := pr + qr
	if dist >= r {
		return contact{}, false
	}
	n := axisY
	if dist > epsilon {
		n = d.Mul(1 / dist)
	}
	return contact{point: q.Add(n.Mul(qr)), normal: n, depth: r - dist}, true
}

func roundPair(a, b *worldShape) []contact {
	p, q := closestSegmentSegment(a.seg[0], a.seg[1], b.seg[0], b.seg[1])
	c, ok := sphereContact(p, a.radius, q, b.radius)
	if !ok {
		return nil
	}
	return []contact{c}
}

// sampleField returns the height and its slope at local (x, z), or false
// when the point is outside the field.
func sampleField(hf *physics.HeightField, scale mgl64.Vec3, x, z float64) (h, dx, dz float64, ok bool) {
	u, v := x/scale[0], z/scale[2]
	if u < 0 || v < 0 || u > float64(hf.Rows-1) || v > float64(hf.Columns-1) {
		return 0, 0, 0, false
	}
	r0 := int(math.Min(math.Floor(u), float64(hf.Rows-2)))
	c0 := int(math.Min(math.Floor(v), float64(hf.Columns-2)))
	fu, fv := u-float64(r0), v-float64(c0)

	h00 := hf.At(r0, c0) * scale[1]
	h10 := hf.At(r0+1, c0) * scale[1]
	h01 := hf.At(r0, c0+1) * scale[1]
	h11 := hf.At(r0+1, c0+1) * scale[1]

	h = h00*(1-fu)*(1-fv) + h10*fu*(1-fv) + h01*(1-fu)*fv + h11*fu*fv
	dx = ((h10-h00)*(1-fv) + (h11-h01)*fv) / scale[0]
	dz = ((h01-h00)*(1-fu) + (h11-h10)*fu) / scale[2]
	return h, dx, dz, true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func closestOnSegment(p, a, b mgl64.Vec3) mgl64.Vec3 {
	ab := b.Sub(a)
	l := ab.Dot(ab)
	if l <= epsilon {
		return a
	}
	return a.Add(ab.Mul(clamp01(p.Sub(a).Dot(ab) / l)))
}

// closestSegmentSegment returns the closest points of segments p1q1 and
// p2q2.
func closestSegmentSegment(p1, q1, p2, q2 mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	d1, d2 := q1.Sub(p1), q2.Sub(p2)
	r := p1.Sub(p2)
	a, e, f := d1.Dot(d1), d2.Dot(d2), d2.Dot(r)

	if a <= epsilon && e <= epsilon {
		return p1, p2
	}
	var s, t float64
	switch {
	case a <= epsilon:
		t = clamp01(f / e)
	case e <= epsilon:
		s = clamp01(-d1.Dot(r) / a)
	default:
		c := d1.Dot(r)
		b := d1.Dot(d2)
		if denom := a*e - b*b; denom != 0 {
			s = clamp01((b*f - c*e) / denom)
		}
		t = (b*s + f) / e
		if t < 0 {
			t = 0
			s = clamp01(-c / a)
		} else if t > 1 {
			t = 1
			s = clamp01((b - c) / a)
		}
	}
	return p1.Add(d1.Mul(s)), p2.Add(d2.Mul(t))
}

package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// GeometryType enumerates the shape geometries a backend understands.
type GeometryType int

const (
	GeometryBox GeometryType = iota
	GeometrySphere
	GeometryCapsule
	GeometryPlane
	GeometryConvexMesh
	GeometryTriangleMesh
	GeometryHeightField
)

func (t GeometryType) String() string {
	switch t {
	case GeometryBox:
		return "box"
	case GeometrySphere:
		return "sphere"
	case GeometryCapsule:
		return "capsule"
	case GeometryPlane:
		return "plane"
	case GeometryConvexMesh:
		return "convex"
	case GeometryTriangleMesh:
		return "trimesh"
	case GeometryHeightField:
		return "heightfield"
	default:
		return fmt.Sprintf("geometry(%d)", int(t))
	}
}

// Mesh is a pre-cooked point cloud, optionally indexed into triangles.
type Mesh struct {
	Points  []mgl64.Vec3
	Indices []uint32
}

// Bounds returns the axis-aligned bounds of the mesh points.
func (m *Mesh) Bounds() (lo, hi mgl64.Vec3) {
	if m == nil || len(m.Points) == 0 {
		return
	}
	lo, hi = m.Points[0], m.Points[0]
	for _, p := range m.Points[1:] {
		for i := 0; i < 3; i++ {
			lo[i] = math.Min(lo[i], p[i])
			hi[i] = math.Max(hi[i], p[i])
		}
	}
	return lo, hi
}

// HeightField is a row-major grid of samples. Row index runs along local X,
// column index along local Z, and the origin sits at sample (0, 0).
type HeightField struct {
	Rows    int
	Columns int
	Heights []float64
}

// At returns the sample at row r and column c.
func (h *HeightField) At(r, c int) float64 {
	return h.Heights[r*h.Columns+c]
}

// Geometry describes one backend shape in backend conventions: planes face
// local +X, capsules extend along local X and height fields start at their
// first sample.
type Geometry struct {
	Type        GeometryType
	HalfExtents mgl64.Vec3
	Radius      float64
	HalfHeight  float64
	Mesh        *Mesh
	HeightField *HeightField
	// Scale applies to mesh points, and to height fields as
	// (row spacing, height scale, column spacing).
	Scale mgl64.Vec3
}

// Validate reports geometries that no backend can build a shape from.
func (g Geometry) Validate() error {
	switch g.Type {
	case GeometryBox:
		if g.HalfExtents.X() <= 0 || g.HalfExtents.Y() <= 0 || g.HalfExtents.Z() <= 0 {
			return fmt.Errorf("%w: box half extents %v", ErrInvalidGeometry, g.HalfExtents)
		}
	case GeometrySphere:
		if g.Radius <= 0 {
			return fmt.Errorf("%w: sphere radius %v", ErrInvalidGeometry, g.Radius)
		}
	case GeometryCapsule:
		if g.Radius <= 0 || g.HalfHeight < 0 {
			return fmt.Errorf("%w: capsule radius %v half height %v", ErrInvalidGeometry, g.Radius, g.HalfHeight)
		}
	case GeometryPlane:
	case GeometryConvexMesh, GeometryTriangleMesh:
		if g.Mesh == nil || len(g.Mesh.Points) == 0 {
			return fmt.Errorf("%w: %s without mesh data", ErrInvalidGeometry, g.Type)
		}
	case GeometryHeightField:
		hf := g.HeightField
		if hf == nil || hf.Rows < 2 || hf.Columns < 2 || len(hf.Heights) != hf.Rows*hf.Columns {
			return fmt.Errorf("%w: malformed height field", ErrInvalidGeometry)
		}
	default:
		return fmt.Errorf("%w: unknown type %d", ErrInvalidGeometry, int(g.Type))
	}
	return nil
}

// StaticOnly reports geometry that cannot be simulated on a non-kinematic
// dynamic actor.
func (g Geometry) StaticOnly() bool {
	switch g.Type {
	case GeometryPlane, GeometryTriangleMesh, GeometryHeightField:
		return true
	}
	return false
}

// Volume returns the enclosed volume used for density based mass. Static-only
// geometry has no volume.
func (g Geometry) Volume() float64 {
	switch g.Type {
	case GeometryBox:
		return 8 * g.HalfExtents.X() * g.HalfExtents.Y() * g.HalfExtents.Z()
	case GeometrySphere:
		return 4.0 / 3.0 * math.Pi * g.Radius * g.Radius * g.Radius
	case GeometryCapsule:
		r := g.Radius
		return math.Pi*r*r*2*g.HalfHeight + 4.0/3.0*math.Pi*r*r*r
	case GeometryConvexMesh:
		return convexVolume(g.Mesh, g.Scale)
	}
	return 0
}

// convexVolume sums tetrahedra from the centroid over the indexed triangles,
// falling back to the bounding box when the mesh has no triangles.
func convexVolume(m *Mesh, scale mgl64.Vec3) float64 {
	if m == nil || len(m.Points) == 0 {
		return 0
	}
	if scale == (mgl64.Vec3{}) {
		scale = mgl64.Vec3{1, 1, 1}
	}
	scaled := func(p mgl64.Vec3) mgl64.Vec3 {
		return mgl64.Vec3{p[0] * scale[0], p[1] * scale[1], p[2] * scale[2]}
	}
	if len(m.Indices) < 3 {
		lo, hi := m.Bounds()
		d := scaled(hi.Sub(lo))
		return math.Abs(d[0] * d[1] * d[2])
	}
	var centroid mgl64.Vec3
	for _, p := range m.Points {
		centroid = centroid.Add(scaled(p))
	}
	centroid = centroid.Mul(1 / float64(len(m.Points)))

	var vol float64
	for i := 0; i+2 < len(m.Indices); i += 3 {
		a := scaled(m.Points[m.Indices[i]]).Sub(centroid)
		b := scaled(m.Points[m.Indices[i+1]]).Sub(centroid)
		c := scaled(m.Points[m.Indices[i+2]]).Sub(centroid)
		vol += math.Abs(a.Dot(b.Cross(c))) / 6
	}
	return vol
}

package world

import (
	"context"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/domain/scene"
	"physsync/backend/internal/core/port/out/physics"
	"physsync/backend/internal/logging"
)

// minus90Yaw turns a backend plane, which faces local +X, to face +Z like a
// scene plane.
var minus90Yaw = mgl64.QuatRotate(-math.Pi/2, mgl64.Vec3{0, 1, 0})

// shapeGeometry is a scene shape converted to backend conventions.
type shapeGeometry struct {
	geom physics.Geometry
	// offset moves the shape origin within the body, used to centre height
	// fields.
	offset  mgl64.Vec3
	release func()
}

type builtShape struct {
	shape    scene.Shape
	handle   physics.ShapeHandle
	revision uint64
	scale    mgl64.Vec3
	offset   mgl64.Vec3
	release  func()
}

// ShapeSynchronizer keeps the backend shapes of one actor in line with the
// shapes declared on its scene node. Shapes that cannot be built are skipped;
// the count mismatch keeps the synchronizer dirty so they are retried.
type ShapeSynchronizer struct {
	dirty      bool
	built      []builtShape
	staticOnly bool
}

func (s *ShapeSynchronizer) setDirty() { s.dirty = true }

// Dirty reports whether the next rebuild will recreate every shape.
func (s *ShapeSynchronizer) Dirty() bool { return s.dirty }

// Count returns the number of attached backend shapes.
func (s *ShapeSynchronizer) Count() int { return len(s.built) }

// StaticOnly reports whether an attached shape can only be simulated on a
// static or kinematic actor.
func (s *ShapeSynchronizer) StaticOnly() bool { return s.staticOnly }

// markDirtyIfChanged compares the declared shapes with what was built: a
// different count, a different shape, a geometry or scale change, or a local
// pose that no longer matches the backend marks the synchronizer dirty.
func (s *ShapeSynchronizer) markDirtyIfChanged(w *World, n *scene.CollisionNode) {
	if s.dirty {
		return
	}
	declared := n.Shapes()
	if len(declared) != len(s.built) {
		s.dirty = true
		return
	}
	for i, shp := range declared {
		b := s.built[i]
		if b.shape != shp || b.revision != shp.Revision() || !vecEqual(b.scale, shp.Node().SceneScale()) {
			s.dirty = true
			return
		}
		if !posesEqual(shapeLocalPose(shp, b.offset), w.engine.ShapeLocalPose(b.handle)) {
			s.dirty = true
			return
		}
	}
}

// rebuild detaches and releases every backend shape and builds the declared
// ones again. It reports whether anything was rebuilt.
func (s *ShapeSynchronizer) rebuild(ctx context.Context, w *World, actor physics.ActorHandle, n *scene.CollisionNode, material physics.MaterialHandle, trigger bool) bool {
	if !s.dirty {
		return false
	}
	s.release(w, actor)

	for i, shp := range n.Shapes() {
		fields := []logging.Field{logging.String("body", n.Name()), logging.Int("shape", i)}
		if material == 0 {
			w.diag(ctx, diagShapeSkipped, "shape has no material, skipped", fields...)
			continue
		}
		revision := shp.Revision()
		sg, err := w.geometry(shp)
		if err != nil {
			w.diag(ctx, diagShapeSkipped, "shape geometry unavailable, skipped", append(fields, logging.Err(err))...)
			continue
		}
		h, err := w.engine.CreateShape(sg.geom, material)
		if err != nil {
			sg.release()
			w.diag(ctx, diagShapeSkipped, "backend rejected shape, skipped", append(fields, logging.Err(err))...)
			continue
		}
		if trigger {
			w.engine.SetShapeFlags(h, physics.ShapeTrigger)
		}
		w.engine.SetShapeLocalPose(h, shapeLocalPose(shp, sg.offset))
		w.scene.AttachShape(actor, h)

		s.built = append(s.built, builtShape{
			shape:    shp,
			handle:   h,
			revision: revision,
			scale:    shp.Node().SceneScale(),
			offset:   sg.offset,
			release:  sg.release,
		})
		if sg.geom.StaticOnly() {
			s.staticOnly = true
		}
	}
	s.dirty = false
	return true
}

// release detaches and frees every backend shape.
func (s *ShapeSynchronizer) release(w *World, actor physics.ActorHandle) {
	for _, b := range s.built {
		w.scene.DetachShape(actor, b.handle)
		w.engine.ReleaseShape(b.handle)
		b.release()
	}
	s.built = nil
	s.staticOnly = false
}

// shapeLocalPose is the shape pose relative to its body in backend
// conventions.
func shapeLocalPose(shp scene.Shape, offset mgl64.Vec3) physics.Pose {
	n := shp.Node()
	rot := n.Rotation()
	if _, ok := shp.(*scene.PlaneShape); ok {
		rot = minus90Yaw.Mul(rot).Normalize()
	}
	return physics.Pose{P: n.Position().Add(offset), Q: rot}
}

func noRelease() {}

// geometry converts a scene shape, scaled by its scene scale, into a backend
// geometry. Mesh and height field data come from the world's mesh cache.
func (w *World) geometry(shp scene.Shape) (shapeGeometry, error) {
	scale := shp.Node().SceneScale()
	sg := shapeGeometry{release: noRelease}

	switch s := shp.(type) {
	case *scene.BoxShape:
		e := s.Extents()
		sg.geom = physics.Geometry{
			Type:        physics.GeometryBox,
			HalfExtents: mgl64.Vec3{e[0] * scale[0] * 0.5, e[1] * scale[1] * 0.5, e[2] * scale[2] * 0.5},
		}
	case *scene.SphereShape:
		sg.geom = physics.Geometry{Type: physics.GeometrySphere, Radius: s.Diameter() * 0.5 * scale.X()}
	case *scene.CapsuleShape:
		sg.geom = physics.Geometry{
			Type:       physics.GeometryCapsule,
			Radius:     s.Diameter() * 0.5 * scale.Y(),
			HalfHeight: s.Height() * 0.5 * scale.X(),
		}
	case *scene.PlaneShape:
		sg.geom = physics.Geometry{Type: physics.GeometryPlane}
	case *scene.ConvexMeshShape:
		return w.meshGeometry(physics.GeometryConvexMesh, s.Source(), scale)
	case *scene.TriangleMeshShape:
		return w.meshGeometry(physics.GeometryTriangleMesh, s.Source(), scale)
	case *scene.HeightFieldShape:
		return w.heightFieldGeometry(s, scale)
	default:
		return sg, fmt.Errorf("%w: unsupported shape %T", physics.ErrInvalidGeometry, shp)
	}

	if err := sg.geom.Validate(); err != nil {
		return sg, err
	}
	return sg, nil
}

func (w *World) meshGeometry(typ physics.GeometryType, source string, scale mgl64.Vec3) (shapeGeometry, error) {
	mesh, err := w.meshes.AcquireMesh(source)
	if err != nil {
		return shapeGeometry{}, err
	}
	sg := shapeGeometry{
		geom:    physics.Geometry{Type: typ, Mesh: mesh, Scale: scale},
		release: func() { w.meshes.ReleaseMesh(source) },
	}
	if err := sg.geom.Validate(); err != nil {
		sg.release()
		return shapeGeometry{}, err
	}
	return sg, nil
}

// heightFieldGeometry stretches the samples over the shape extents, heights
// scaled by the Y extent, and centres the field on the shape origin.
func (w *World) heightFieldGeometry(s *scene.HeightFieldShape, scale mgl64.Vec3) (shapeGeometry, error) {
	source := s.Source()
	hf, err := w.meshes.AcquireHeightField(source)
	if err != nil {
		return shapeGeometry{}, err
	}
	sg := shapeGeometry{
		geom:    physics.Geometry{Type: physics.GeometryHeightField, HeightField: hf},
		release: func() { w.meshes.ReleaseHeightField(source) },
	}
	if err := sg.geom.Validate(); err != nil {
		sg.release()
		return shapeGeometry{}, err
	}

	e := s.Extents()
	size := mgl64.Vec3{e[0] * scale[0], e[1] * scale[1], e[2] * scale[2]}
	sg.geom.Scale = mgl64.Vec3{
		size.X() / float64(hf.Rows-1),
		size.Y(),
		size.Z() / float64(hf.Columns-1),
	}
	sg.offset = mgl64.Vec3{-size.X() / 2, 0, -size.Z() / 2}
	return sg, nil
}

func vecEqual(a, b mgl64.Vec3) bool {
	return fuzzyEqual(a[0], b[0]) && fuzzyEqual(a[1], b[1]) && fuzzyEqual(a[2], b[2])
}
